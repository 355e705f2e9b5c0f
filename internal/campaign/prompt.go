package campaign

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nextgenfi/targeting-cli/internal/model"
	"github.com/nextgenfi/targeting-cli/internal/targeting"
)

const systemPrompt = `You are an insurance marketing professional writing outreach email about hazard insurance for homeowners near a recent natural event.

Rules:
- Write one email that works for every recipient in the audience described
- Use the merge field {{first_name}} for the greeting
- Reference the event and its proximity without exaggerating the danger
- Explain why coverage matters for a home of the stated value range
- Include a clear call to action and an unsubscribe line
- Keep the subject under 60 characters and the body between 200 and 400 words
- Return ONLY a JSON object: {"subject": "...", "body": "..."}`

// maxCities bounds the city list in the audience description.
const maxCities = 5

// buildPrompt describes the event and the audience of the given targets.
func buildPrompt(ev *model.Event, targets []targeting.Target, tier string, extra string) string {
	var sb strings.Builder

	sb.WriteString("EVENT\n")
	fmt.Fprintf(&sb, "- Type: %s\n", eventLabel(ev))
	if ev.Magnitude != nil {
		fmt.Fprintf(&sb, "- Magnitude: %.1f\n", *ev.Magnitude)
	}
	if ev.Severity != "" {
		fmt.Fprintf(&sb, "- Severity: %s\n", ev.Severity)
	}
	place := ev.Place
	if place == "" {
		place = "Unknown location"
	}
	fmt.Fprintf(&sb, "- Location: %s\n", place)
	date := "Recent"
	if ev.OccurredAt != nil {
		date = ev.OccurredAt.UTC().Format(time.DateOnly)
	}
	fmt.Fprintf(&sb, "- Date: %s\n", date)

	a := describeAudience(targets)
	sb.WriteString("\nAUDIENCE\n")
	fmt.Fprintf(&sb, "- Recipients: %d\n", len(targets))
	if tier != "" {
		fmt.Fprintf(&sb, "- Risk level: %s\n", tier)
	}
	fmt.Fprintf(&sb, "- Distance from event: %.1f to %.1f km\n", a.minKM, a.maxKM)
	fmt.Fprintf(&sb, "- Home values: $%s to $%s\n", thousands(a.minValue), thousands(a.maxValue))
	fmt.Fprintf(&sb, "- Without insurance: %d of %d\n", a.uninsured, len(targets))
	if len(a.cities) > 0 {
		fmt.Fprintf(&sb, "- Main cities: %s\n", strings.Join(a.cities, "; "))
	}

	if extra = strings.TrimSpace(extra); extra != "" {
		sb.WriteString("\nCAMPAIGN CONTEXT\n")
		sb.WriteString(extra)
		sb.WriteString("\n")
	}
	return sb.String()
}

func eventLabel(ev *model.Event) string {
	switch {
	case ev.Kind == model.EventKindEarthquake:
		return "earthquake"
	case ev.EventType != "":
		return ev.EventType
	default:
		return string(ev.Kind)
	}
}

type audience struct {
	minKM, maxKM       float64
	minValue, maxValue float64
	uninsured          int
	cities             []string
}

func describeAudience(targets []targeting.Target) audience {
	var a audience
	counts := map[string]int{}
	for i, t := range targets {
		c := t.Candidate
		if i == 0 || t.DistanceKM < a.minKM {
			a.minKM = t.DistanceKM
		}
		if i == 0 || t.DistanceKM > a.maxKM {
			a.maxKM = t.DistanceKM
		}
		if i == 0 || c.AssetValue < a.minValue {
			a.minValue = c.AssetValue
		}
		if i == 0 || c.AssetValue > a.maxValue {
			a.maxValue = c.AssetValue
		}
		if !c.HasInsurance {
			a.uninsured++
		}
		if c.City != "" {
			key := c.City
			if c.State != "" {
				key += ", " + c.State
			}
			counts[key]++
		}
	}

	for city := range counts {
		a.cities = append(a.cities, city)
	}
	sort.Slice(a.cities, func(i, j int) bool {
		ci, cj := counts[a.cities[i]], counts[a.cities[j]]
		if ci != cj {
			return ci > cj
		}
		return a.cities[i] < a.cities[j]
	})
	if len(a.cities) > maxCities {
		a.cities = a.cities[:maxCities]
	}
	return a
}

// thousands formats a whole-dollar amount with comma separators.
func thousands(v float64) string {
	s := fmt.Sprintf("%.0f", v)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var out []byte
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

// cleanJSON strips markdown fences and extracts the JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
