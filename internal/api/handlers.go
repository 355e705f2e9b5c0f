package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nextgenfi/targeting-cli/internal/campaign"
	"github.com/nextgenfi/targeting-cli/internal/model"
	"github.com/nextgenfi/targeting-cli/internal/targeting"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}

// writeFailure maps domain errors to status codes. Unexpected errors are
// logged and reported without detail.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case eris.Is(err, targeting.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "event not found")
	case eris.Is(err, targeting.ErrIncompleteData):
		writeError(w, http.StatusUnprocessableEntity, "incomplete_data", "event has no coordinates")
	case eris.Is(err, campaign.ErrNoTargets):
		writeError(w, http.StatusUnprocessableEntity, "no_targets", "selection returned no targets")
	case eris.Is(err, targeting.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	default:
		zap.L().Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Warn("api: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.EventFilter{Kind: model.EventKind(q.Get("kind"))}
	switch filter.Kind {
	case "", model.EventKindEarthquake, model.EventKindWeather:
	default:
		writeError(w, http.StatusBadRequest, "invalid_argument", "kind must be earthquake or weather")
		return
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", "since must be RFC 3339")
			return
		}
		filter.Since = &t
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "limit: "+err.Error())
		return
	}
	if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil || filter.Offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid_argument", "offset must be a non-negative integer")
		return
	}

	events, err := s.store.ListEvents(r.Context(), filter)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.store.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if ev == nil {
		writeFailure(w, r, targeting.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) selectTargets(w http.ResponseWriter, r *http.Request) {
	c, err := criteriaFromQuery(r, s.defaults)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	res, err := s.selector.Select(r.Context(), chi.URLParam(r, "id"), c)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listCampaigns(w http.ResponseWriter, r *http.Request) {
	cs, err := s.store.ListCampaigns(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if cs == nil {
		cs = []model.Campaign{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": cs, "count": len(cs)})
}

func (s *Server) draftCampaign(w http.ResponseWriter, r *http.Request) {
	if s.drafter == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "campaign drafting is not configured")
		return
	}

	var req campaign.Request
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "could not read request body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "request body must be JSON")
			return
		}
	}

	c, err := criteriaFromQuery(r, s.defaults)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	res, err := s.selector.Select(r.Context(), chi.URLParam(r, "id"), c)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	draft, err := s.drafter.Draft(r.Context(), res, req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, draft)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// criteriaFromQuery overlays query parameters on the defaults. Malformed
// values are reported as ErrInvalidArgument.
func criteriaFromQuery(r *http.Request, defaults targeting.Criteria) (targeting.Criteria, error) {
	q := r.URL.Query()
	c := defaults
	var err error

	floats := []struct {
		key string
		dst *float64
	}{
		{"max_distance", &c.MaxDistanceKM},
		{"min_value", &c.MinAssetValue},
		{"max_value", &c.MaxAssetValue},
	}
	for _, f := range floats {
		if v := q.Get(f.key); v != "" {
			if *f.dst, err = strconv.ParseFloat(v, 64); err != nil {
				return c, eris.Wrapf(targeting.ErrInvalidArgument, "%s must be a number", f.key)
			}
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"require_uninsured", &c.RequireUninsured},
		{"require_homeowner", &c.RequireHomeowner},
		{"exclude_dnc", &c.ExcludeDoNotCall},
	}
	for _, b := range bools {
		if v := q.Get(b.key); v != "" {
			if *b.dst, err = strconv.ParseBool(v); err != nil {
				return c, eris.Wrapf(targeting.ErrInvalidArgument, "%s must be true or false", b.key)
			}
		}
	}

	if c.Limit, err = intParam(q.Get("limit"), c.Limit); err != nil {
		return c, eris.Wrap(targeting.ErrInvalidArgument, "limit must be an integer")
	}
	return c, nil
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
