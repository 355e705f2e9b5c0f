package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nextgenfi/targeting-cli/internal/campaign"
	"github.com/nextgenfi/targeting-cli/internal/metrics"
	"github.com/nextgenfi/targeting-cli/internal/model"
	"github.com/nextgenfi/targeting-cli/internal/risk"
	"github.com/nextgenfi/targeting-cli/internal/targeting"
)

type mockStore struct{ mock.Mock }

func (m *mockStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	args := m.Called(ctx, id)
	ev, _ := args.Get(0).(*model.Event)
	return ev, args.Error(1)
}

func (m *mockStore) ListEvents(ctx context.Context, f model.EventFilter) ([]model.Event, error) {
	args := m.Called(ctx, f)
	evs, _ := args.Get(0).([]model.Event)
	return evs, args.Error(1)
}

func (m *mockStore) ListCampaigns(ctx context.Context, eventID string) ([]model.Campaign, error) {
	args := m.Called(ctx, eventID)
	cs, _ := args.Get(0).([]model.Campaign)
	return cs, args.Error(1)
}

func (m *mockStore) Stats(ctx context.Context) (*model.Stats, error) {
	args := m.Called(ctx)
	st, _ := args.Get(0).(*model.Stats)
	return st, args.Error(1)
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockSelector struct{ mock.Mock }

func (m *mockSelector) Select(ctx context.Context, id string, c targeting.Criteria) (*targeting.Result, error) {
	args := m.Called(ctx, id, c)
	res, _ := args.Get(0).(*targeting.Result)
	return res, args.Error(1)
}

type mockDrafter struct{ mock.Mock }

func (m *mockDrafter) Draft(ctx context.Context, res *targeting.Result, req campaign.Request) (*model.Campaign, error) {
	args := m.Called(ctx, res, req)
	c, _ := args.Get(0).(*model.Campaign)
	return c, args.Error(1)
}

type fixture struct {
	store    *mockStore
	selector *mockSelector
	drafter  *mockDrafter
	reg      *prometheus.Registry
	handler  http.Handler
}

func newFixture(t *testing.T, withDrafter bool) *fixture {
	t.Helper()
	f := &fixture{
		store:    &mockStore{},
		selector: &mockSelector{},
		drafter:  &mockDrafter{},
		reg:      prometheus.NewRegistry(),
	}
	opts := []Option{WithMetrics(metrics.NewWithRegistry(f.reg, f.reg))}
	if withDrafter {
		opts = append(opts, WithDrafter(f.drafter))
	}
	f.handler = NewServer(f.store, f.selector, opts...).Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func fp(v float64) *float64 { return &v }

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	f.store.On("Ping", mock.Anything).Return(nil).Once()
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)

	f.store.On("Ping", mock.Anything).Return(errors.New("down")).Once()
	rec = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDPropagated(t *testing.T) {
	f := newFixture(t, false)
	f.store.On("Ping", mock.Anything).Return(nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestListEvents(t *testing.T) {
	f := newFixture(t, false)
	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	f.store.On("ListEvents", mock.Anything, model.EventFilter{
		Kind: model.EventKindEarthquake, Since: &since, Limit: 20, Offset: 40,
	}).Return([]model.Event{{ID: "q1", Kind: model.EventKindEarthquake}}, nil)

	rec := f.do(t, http.MethodGet, "/v1/events?kind=earthquake&since=2026-02-01T00:00:00Z&limit=20&offset=40", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Events []model.Event `json:"events"`
		Count  int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "q1", body.Events[0].ID)
}

func TestListEvents_BadParams(t *testing.T) {
	f := newFixture(t, false)
	for _, target := range []string{
		"/v1/events?kind=volcano",
		"/v1/events?since=yesterday",
		"/v1/events?limit=ten",
		"/v1/events?offset=-1",
	} {
		rec := f.do(t, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Equal(t, "invalid_argument", decodeError(t, rec).Error, target)
	}
	f.store.AssertNotCalled(t, "ListEvents", mock.Anything, mock.Anything)
}

func TestListEvents_Empty(t *testing.T) {
	f := newFixture(t, false)
	f.store.On("ListEvents", mock.Anything, model.EventFilter{}).Return(nil, nil)
	rec := f.do(t, http.MethodGet, "/v1/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"events":[],"count":0}`, rec.Body.String())
}

func TestGetEvent(t *testing.T) {
	f := newFixture(t, false)
	f.store.On("GetEvent", mock.Anything, "q1").Return(&model.Event{ID: "q1", Magnitude: fp(5.2)}, nil)
	f.store.On("GetEvent", mock.Anything, "nope").Return(nil, nil)

	rec := f.do(t, http.MethodGet, "/v1/events/q1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ev model.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	assert.Equal(t, 5.2, *ev.Magnitude)

	rec = f.do(t, http.MethodGet, "/v1/events/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Error)
}

func TestSelectTargets_QueryOverridesDefaults(t *testing.T) {
	f := newFixture(t, false)
	want := targeting.DefaultCriteria()
	want.MaxDistanceKM = 25
	want.MinAssetValue = 250000
	want.MaxAssetValue = 900000
	want.RequireUninsured = false
	want.RequireHomeowner = true
	want.ExcludeDoNotCall = true
	want.Limit = 10

	res := &targeting.Result{
		Event:   &model.Event{ID: "q1"},
		Targets: []targeting.Target{{Candidate: model.Candidate{ID: "c1"}, DistanceKM: 3.4, Tier: risk.TierHigh}},
		Summary: targeting.Summary{Total: 1, High: 1, Criteria: want},
	}
	f.selector.On("Select", mock.Anything, "q1", want).Return(res, nil)

	rec := f.do(t, http.MethodGet,
		"/v1/events/q1/targets?max_distance=25&min_value=250000&max_value=900000&require_uninsured=false&require_homeowner=true&exclude_dnc=1&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got targeting.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 1, got.Summary.High)
	assert.Equal(t, risk.TierHigh, got.Targets[0].Tier)
	f.selector.AssertExpectations(t)
}

func TestSelectTargets_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", targeting.ErrNotFound, http.StatusNotFound, "not_found"},
		{"incomplete", eris.Wrap(targeting.ErrIncompleteData, "event q1"), http.StatusUnprocessableEntity, "incomplete_data"},
		{"invalid", eris.Wrap(targeting.ErrInvalidArgument, "limit must be > 0"), http.StatusBadRequest, "invalid_argument"},
		{"store", errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			f.selector.On("Select", mock.Anything, "q1", mock.Anything).Return(nil, tt.err)
			rec := f.do(t, http.MethodGet, "/v1/events/q1/targets", "")
			assert.Equal(t, tt.status, rec.Code)
			e := decodeError(t, rec)
			assert.Equal(t, tt.code, e.Error)
			if tt.status == http.StatusInternalServerError {
				assert.NotContains(t, e.Message, "connection reset")
			}
		})
	}
}

func TestSelectTargets_MalformedQuery(t *testing.T) {
	f := newFixture(t, false)
	for _, q := range []string{"max_distance=far", "require_uninsured=maybe", "limit=1.5"} {
		rec := f.do(t, http.MethodGet, "/v1/events/q1/targets?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
	f.selector.AssertNotCalled(t, "Select", mock.Anything, mock.Anything, mock.Anything)
}

func TestDraftCampaign(t *testing.T) {
	f := newFixture(t, true)
	res := &targeting.Result{Event: &model.Event{ID: "q1"}}
	f.selector.On("Select", mock.Anything, "q1", targeting.DefaultCriteria()).Return(res, nil)
	f.drafter.On("Draft", mock.Anything, res, campaign.Request{Tier: risk.TierHigh, Context: "spring promo"}).
		Return(&model.Campaign{ID: "c1", EventID: "q1", Subject: "s", Status: model.CampaignStatusDraft}, nil)

	rec := f.do(t, http.MethodPost, "/v1/events/q1/campaigns", `{"tier":"high","context":"spring promo"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var c model.Campaign
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, "c1", c.ID)
}

func TestDraftCampaign_Errors(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodPost, "/v1/events/q1/campaigns", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f = newFixture(t, true)
	rec = f.do(t, http.MethodPost, "/v1/events/q1/campaigns", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	res := &targeting.Result{Event: &model.Event{ID: "q1"}}
	f.selector.On("Select", mock.Anything, "q1", mock.Anything).Return(res, nil)
	f.drafter.On("Draft", mock.Anything, res, campaign.Request{}).Return(nil, campaign.ErrNoTargets)
	rec = f.do(t, http.MethodPost, "/v1/events/q1/campaigns", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "no_targets", decodeError(t, rec).Error)
}

func TestListCampaigns(t *testing.T) {
	f := newFixture(t, false)
	f.store.On("ListCampaigns", mock.Anything, "q1").Return([]model.Campaign{{ID: "c1"}, {ID: "c2"}}, nil)
	rec := f.do(t, http.MethodGet, "/v1/events/q1/campaigns", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":2`)
}

func TestStats(t *testing.T) {
	f := newFixture(t, false)
	f.store.On("Stats", mock.Anything).Return(&model.Stats{Earthquakes: 3, Candidates: 10, Campaigns: 1}, nil)
	rec := f.do(t, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st model.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 3, st.Earthquakes)
	assert.Equal(t, 10, st.Candidates)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, false)
	f.store.On("Stats", mock.Anything).Return(&model.Stats{}, nil)
	f.do(t, http.MethodGet, "/v1/stats", "")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `targeting_http_requests_total{code="200",method="GET",route="/v1/stats"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, false)
	req := httptest.NewRequest(http.MethodOptions, "/v1/stats", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
