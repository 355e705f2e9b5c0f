// Package ingest loads hazard events into the store: earthquakes from the
// USGS feed and weather events from YAML files.
package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nextgenfi/targeting-cli/internal/metrics"
	"github.com/nextgenfi/targeting-cli/internal/model"
	"github.com/nextgenfi/targeting-cli/pkg/usgs"
)

// EventWriter is the store subset ingestion needs.
type EventWriter interface {
	UpsertEvents(ctx context.Context, events []model.Event) (int64, error)
}

const (
	defaultConcurrency = 4
	defaultBatchSize   = 500
)

// Ingester writes events in batches with bounded concurrency.
type Ingester struct {
	quakes      usgs.Client
	store       EventWriter
	metrics     *metrics.Recorder
	concurrency int
	batchSize   int
	now         func() time.Time
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithConcurrency sets how many batches are written at once.
func WithConcurrency(n int) Option {
	return func(i *Ingester) {
		if n > 0 {
			i.concurrency = n
		}
	}
}

// WithBatchSize sets the rows per upsert.
func WithBatchSize(n int) Option {
	return func(i *Ingester) {
		if n > 0 {
			i.batchSize = n
		}
	}
}

// WithMetrics records ingested counts.
func WithMetrics(r *metrics.Recorder) Option {
	return func(i *Ingester) { i.metrics = r }
}

// New creates an Ingester. quakes may be nil when only weather files are loaded.
func New(quakes usgs.Client, store EventWriter, opts ...Option) *Ingester {
	i := &Ingester{
		quakes:      quakes,
		store:       store,
		concurrency: defaultConcurrency,
		batchSize:   defaultBatchSize,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// EarthquakeOptions selects the feed window.
type EarthquakeOptions struct {
	Hours        int
	MinMagnitude float64
	Region       *[4]float64 // [minLon, minLat, maxLon, maxLat]
}

// Report summarizes one ingestion run.
type Report struct {
	Fetched int   `json:"fetched"`
	Stored  int64 `json:"stored"`
	Batches int   `json:"batches"`
}

// Earthquakes fetches recent quakes and upserts them by ID.
func (i *Ingester) Earthquakes(ctx context.Context, opts EarthquakeOptions) (*Report, error) {
	if i.quakes == nil {
		return nil, eris.New("ingest: no usgs client configured")
	}
	hours := opts.Hours
	if hours <= 0 {
		hours = 24
	}

	quakes, err := i.quakes.Query(ctx, usgs.Query{
		Start:        i.now().Add(-time.Duration(hours) * time.Hour),
		MinMagnitude: opts.MinMagnitude,
		Region:       opts.Region,
	})
	if err != nil {
		return nil, eris.Wrap(err, "ingest: fetch earthquakes")
	}

	events := make([]model.Event, 0, len(quakes))
	for _, q := range quakes {
		events = append(events, quakeToEvent(q))
	}

	zap.L().Info("fetched earthquakes",
		zap.Int("count", len(events)),
		zap.Int("hours", hours),
		zap.Float64("min_magnitude", opts.MinMagnitude),
	)

	report, err := i.write(ctx, events)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: store earthquakes")
	}
	i.metrics.EventsIngested(string(model.EventKindEarthquake), int(report.Stored))
	return report, nil
}

// Events upserts already-built events, e.g. from a weather file.
func (i *Ingester) Events(ctx context.Context, events []model.Event) (*Report, error) {
	report, err := i.write(ctx, events)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: store events")
	}
	counts := map[model.EventKind]int{}
	for _, e := range events {
		counts[e.Kind]++
	}
	for kind, n := range counts {
		i.metrics.EventsIngested(string(kind), n)
	}
	return report, nil
}

// write splits events into batches and upserts them concurrently. The first
// failing batch cancels the rest.
func (i *Ingester) write(ctx context.Context, events []model.Event) (*Report, error) {
	report := &Report{Fetched: len(events)}
	if len(events) == 0 {
		return report, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)

	var stored atomic.Int64
	for start := 0; start < len(events); start += i.batchSize {
		batch := events[start:min(start+i.batchSize, len(events))]
		report.Batches++
		g.Go(func() error {
			n, err := i.store.UpsertEvents(gctx, batch)
			if err != nil {
				return err
			}
			stored.Add(n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Stored = stored.Load()
	zap.L().Info("events stored",
		zap.Int("fetched", report.Fetched),
		zap.Int64("stored", report.Stored),
		zap.Int("batches", report.Batches),
	)
	return report, nil
}

func quakeToEvent(q usgs.Quake) model.Event {
	return model.Event{
		ID:         q.ID,
		Kind:       model.EventKindEarthquake,
		OccurredAt: q.Time,
		Latitude:   q.Latitude,
		Longitude:  q.Longitude,
		Magnitude:  q.Magnitude,
		Place:      q.Place,
		DepthKM:    q.DepthKM,
		URL:        q.URL,
	}
}
