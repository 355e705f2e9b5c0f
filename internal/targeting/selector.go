// Package targeting selects and ranks the candidates closest to a hazard
// event.
package targeting

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nextgenfi/targeting-cli/internal/geo"
	"github.com/nextgenfi/targeting-cli/internal/metrics"
	"github.com/nextgenfi/targeting-cli/internal/model"
	"github.com/nextgenfi/targeting-cli/internal/risk"
)

// Target is a candidate annotated with its distance to one event and the
// resulting risk tier.
type Target struct {
	Candidate  model.Candidate `json:"candidate"`
	DistanceKM float64         `json:"distance_km"`
	Tier       risk.Tier       `json:"risk_tier"`
}

// Summary counts the returned targets per tier and echoes the effective
// criteria.
type Summary struct {
	Total    int      `json:"total"`
	High     int      `json:"high"`
	Medium   int      `json:"medium"`
	Low      int      `json:"low"`
	Criteria Criteria `json:"criteria"`
}

// Result is the output of one selection.
type Result struct {
	Event   *model.Event `json:"event"`
	Targets []Target     `json:"targets"`
	Summary Summary      `json:"summary"`
}

// Option configures a Selector.
type Option func(*Selector)

// WithPolicy sets the risk policy.
func WithPolicy(p risk.Policy) Option {
	return func(s *Selector) { s.policy = p }
}

// WithTieBand sets the distance window in which targets rank by value.
func WithTieBand(km float64) Option {
	return func(s *Selector) {
		if km >= 0 {
			s.tieBandKM = km
		}
	}
}

// WithMaxLimit sets the hard cap applied to Criteria.Limit.
func WithMaxLimit(n int) Option {
	return func(s *Selector) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// WithMetrics records each selection on m.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Selector) { s.metrics = m }
}

// Selector ranks candidates around an event. It holds no mutable state and
// is safe for concurrent use.
type Selector struct {
	events     EventStore
	candidates CandidateStore
	policy     risk.Policy
	tieBandKM  float64
	maxLimit   int
	metrics    *metrics.Recorder
}

// NewSelector creates a Selector reading from the given stores.
func NewSelector(events EventStore, candidates CandidateStore, opts ...Option) *Selector {
	s := &Selector{
		events:     events,
		candidates: candidates,
		policy:     risk.DefaultPolicy(),
		tieBandKM:  DefaultTieBandKM,
		maxLimit:   MaxLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns the targets for eventID under c. It fails with ErrNotFound,
// ErrIncompleteData or ErrInvalidArgument, or with the wrapped store error;
// no partial result is returned on failure.
func (s *Selector) Select(ctx context.Context, eventID string, c Criteria) (*Result, error) {
	start := time.Now()
	res, err := s.selectTargets(ctx, eventID, c)
	if res != nil {
		s.metrics.ObserveSelection(time.Since(start), map[string]int{
			string(risk.TierHigh):   res.Summary.High,
			string(risk.TierMedium): res.Summary.Medium,
			string(risk.TierLow):    res.Summary.Low,
		}, nil)
	} else {
		s.metrics.ObserveSelection(time.Since(start), nil, err)
	}
	return res, err
}

func (s *Selector) selectTargets(ctx context.Context, eventID string, c Criteria) (*Result, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Limit > s.maxLimit {
		c.Limit = s.maxLimit
	}

	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, eris.Wrapf(err, "targeting: get event %s", eventID)
	}
	if event == nil {
		return nil, eris.Wrapf(ErrNotFound, "event %s", eventID)
	}
	center, ok := event.Location()
	if !ok {
		return nil, eris.Wrapf(ErrIncompleteData, "event %s", eventID)
	}

	box := geo.BoundingBox(center, c.MaxDistanceKM)
	candidates, err := s.candidates.FindCandidatesInBoundingBox(ctx, box, c.filter())
	if err != nil {
		return nil, eris.Wrapf(err, "targeting: find candidates for event %s", eventID)
	}

	magnitude := eventMagnitude(event)
	targets := make([]Target, 0, len(candidates))
	for _, cand := range candidates {
		if !c.admits(&cand) {
			continue
		}
		loc, ok := cand.Location()
		if !ok || !loc.Valid() {
			continue
		}
		d := geo.Distance(center, loc)
		if !(d <= c.MaxDistanceKM) {
			continue
		}
		targets = append(targets, Target{
			Candidate:  cand,
			DistanceKM: d,
			Tier:       s.policy.Classify(d, magnitude, cand.AssetValue),
		})
	}

	rank(targets, s.tieBandKM)
	if len(targets) > c.Limit {
		targets = targets[:c.Limit]
	}

	summary := Summary{Total: len(targets), Criteria: c}
	for i := range targets {
		switch targets[i].Tier {
		case risk.TierHigh:
			summary.High++
		case risk.TierMedium:
			summary.Medium++
		default:
			summary.Low++
		}
		targets[i].DistanceKM = roundTenth(targets[i].DistanceKM)
	}

	zap.L().Debug("targeting: selection complete",
		zap.String("event_id", eventID),
		zap.Int("candidates", len(candidates)),
		zap.Int("targets", summary.Total),
		zap.Int("high", summary.High),
		zap.Int("medium", summary.Medium),
		zap.Int("low", summary.Low),
	)

	return &Result{Event: event, Targets: targets, Summary: summary}, nil
}

// eventMagnitude resolves the classifier magnitude. Weather events without
// a numeric magnitude use their severity label.
func eventMagnitude(e *model.Event) float64 {
	if e.Magnitude != nil {
		return *e.Magnitude
	}
	if e.Kind == model.EventKindWeather {
		return risk.SeverityMagnitude(e.Severity)
	}
	return 0
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
