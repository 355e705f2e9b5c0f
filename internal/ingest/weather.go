package ingest

import (
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/nextgenfi/targeting-cli/internal/model"
)

// weatherFile is the on-disk layout:
//
//	weather_events:
//	  - id: storm-2026-07-14
//	    event_type: hurricane
//	    severity: severe
//	    place: Houston, TX
//	    latitude: 29.76
//	    longitude: -95.37
//	    start_time: 2026-07-14T06:00:00Z
type weatherFile struct {
	Events []weatherEntry `yaml:"weather_events"`
}

type weatherEntry struct {
	ID        string     `yaml:"id"`
	EventType string     `yaml:"event_type"`
	Severity  string     `yaml:"severity"`
	Place     string     `yaml:"place"`
	Latitude  *float64   `yaml:"latitude"`
	Longitude *float64   `yaml:"longitude"`
	StartTime *time.Time `yaml:"start_time"`
}

// LoadWeatherFile parses weather events from a YAML file. Severity is
// lower-cased; unknown severities are kept and classify as low risk.
func LoadWeatherFile(path string) ([]model.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read weather file %s", path)
	}
	return ParseWeather(data)
}

// ParseWeather parses the YAML weather layout.
func ParseWeather(data []byte) ([]model.Event, error) {
	var f weatherFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "ingest: parse weather file")
	}

	seen := make(map[string]bool, len(f.Events))
	events := make([]model.Event, 0, len(f.Events))
	for n, w := range f.Events {
		id := strings.TrimSpace(w.ID)
		if id == "" {
			return nil, eris.Errorf("ingest: weather event %d has no id", n)
		}
		if seen[id] {
			return nil, eris.Errorf("ingest: duplicate weather event id %q", id)
		}
		seen[id] = true

		sev := strings.ToLower(strings.TrimSpace(w.Severity))
		e := model.Event{
			ID:         id,
			Kind:       model.EventKindWeather,
			OccurredAt: w.StartTime,
			Latitude:   w.Latitude,
			Longitude:  w.Longitude,
			Severity:   sev,
			EventType:  strings.ToLower(strings.TrimSpace(w.EventType)),
			Place:      w.Place,
		}
		if loc, ok := e.Location(); ok && !loc.Valid() {
			return nil, eris.Errorf("ingest: weather event %q has out-of-range coordinates", id)
		}
		events = append(events, e)
	}
	return events, nil
}
