package targeting

import (
	"context"

	"github.com/nextgenfi/targeting-cli/internal/geo"
	"github.com/nextgenfi/targeting-cli/internal/model"
)

// EventStore reads events. GetEvent returns (nil, nil) when the ID is unknown.
type EventStore interface {
	GetEvent(ctx context.Context, id string) (*model.Event, error)
}

// CandidateStore reads candidates inside a bounding box. The filter is a
// pushdown hint; results may include candidates it would exclude.
type CandidateStore interface {
	FindCandidatesInBoundingBox(ctx context.Context, box geo.BBox, filter model.CandidateFilter) ([]model.Candidate, error)
}
