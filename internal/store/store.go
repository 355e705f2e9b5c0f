// Package store persists events, candidates, users and campaigns. Postgres
// (PostGIS) and SQLite adapters implement one Store interface.
package store

import (
	"context"
	"time"

	"github.com/nextgenfi/targeting-cli/internal/geo"
	"github.com/nextgenfi/targeting-cli/internal/model"
)

// Store defines the persistence interface for targeting, ingestion and the
// callbot. Lookups by ID return (nil, nil) when the row does not exist.
type Store interface {
	// Events
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	ListEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error)
	UpsertEvents(ctx context.Context, events []model.Event) (int64, error)

	// Candidates
	FindCandidatesInBoundingBox(ctx context.Context, box geo.BBox, filter model.CandidateFilter) ([]model.Candidate, error)
	UpsertCandidates(ctx context.Context, candidates []model.Candidate) (int64, error)

	// Users
	GetUser(ctx context.Context, id string) (*model.User, error)
	ListUnverifiedUsers(ctx context.Context, since time.Time, limit int) ([]model.User, error)

	// Campaigns
	CreateCampaign(ctx context.Context, c *model.Campaign) error
	ListCampaigns(ctx context.Context, eventID string) ([]model.Campaign, error)

	// Reporting
	Stats(ctx context.Context) (*model.Stats, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 || n > 1000 {
		return defaultListLimit
	}
	return n
}
