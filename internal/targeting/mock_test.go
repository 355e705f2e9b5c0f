package targeting

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/nextgenfi/targeting-cli/internal/geo"
	"github.com/nextgenfi/targeting-cli/internal/model"
)

// --- EventStore Mock ---

type mockEventStore struct {
	mock.Mock
}

func (m *mockEventStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Event), args.Error(1)
}

// --- CandidateStore Mock ---

type mockCandidateStore struct {
	mock.Mock
}

func (m *mockCandidateStore) FindCandidatesInBoundingBox(ctx context.Context, box geo.BBox, filter model.CandidateFilter) ([]model.Candidate, error) {
	args := m.Called(ctx, box, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Candidate), args.Error(1)
}

func ptr[T any](v T) *T { return &v }

func quake(id string, lat, lon, mag float64) *model.Event {
	return &model.Event{
		ID:        id,
		Kind:      model.EventKindEarthquake,
		Latitude:  ptr(lat),
		Longitude: ptr(lon),
		Magnitude: ptr(mag),
	}
}

func candidate(id string, lat, lon, value float64) model.Candidate {
	return model.Candidate{
		ID:         id,
		Latitude:   ptr(lat),
		Longitude:  ptr(lon),
		AssetValue: value,
	}
}
