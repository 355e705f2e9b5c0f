package dialer

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nextgenfi/targeting-cli/internal/metrics"
	"github.com/nextgenfi/targeting-cli/internal/model"
	"github.com/nextgenfi/targeting-cli/pkg/telephony"
)

// Skip reasons reported to metrics and logs.
const (
	SkipNoPhone    = "no_phone"
	SkipCalled     = "already_called"
	SkipPending    = "pending"
	SkipStopped    = "stopped"
	SkipNoUser     = "user_missing"
	SkipVerified   = "verified"
	SkipActiveCall = "active_call"
	SkipLookup     = "lookup_failed"
)

const (
	defaultThreshold     = 15 * time.Minute
	defaultBackfillLimit = 100
	fireTimeout          = 30 * time.Second
)

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// UserStore is the store subset the scheduler reads.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	ListUnverifiedUsers(ctx context.Context, since time.Time, limit int) ([]model.User, error)
}

// Settings configures a Scheduler.
type Settings struct {
	Threshold         time.Duration // delay after signup, default 15m
	From              string        // caller ID
	IVRURL            string        // TwiML entry point; userId is appended
	StatusCallbackURL string        // optional; userId and to are appended
	DedupTTL          time.Duration // how long a called phone stays marked
	BackfillLimit     int           // default 100
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics records scheduling outcomes on rec.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(s *Scheduler) { s.metrics = rec }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

type timer interface {
	Stop() bool
}

// Scheduler arms one timer per unverified signup and places the call when
// it fires. Failures are logged and never retried.
type Scheduler struct {
	users   UserStore
	calls   telephony.Client
	dedup   Deduper
	metrics *metrics.Recorder
	cfg     Settings

	now       func() time.Time
	afterFunc func(time.Duration, func()) timer

	mu      sync.Mutex
	timers  map[string]timer
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler.
func New(users UserStore, calls telephony.Client, dedup Deduper, cfg Settings, opts ...Option) *Scheduler {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.BackfillLimit <= 0 {
		cfg.BackfillLimit = defaultBackfillLimit
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		users:  users,
		calls:  calls,
		dedup:  dedup,
		cfg:    cfg,
		now:    time.Now,
		timers: make(map[string]timer),
		ctx:    ctx,
		cancel: cancel,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule arms a timer for the signup. It returns false when the signup
// was skipped.
func (s *Scheduler) Schedule(ctx context.Context, su Signup) bool {
	log := zap.L().With(zap.String("user_id", su.UserID))
	if su.PhoneNumber == "" {
		s.skip(log, SkipNoPhone)
		return false
	}

	called, err := s.dedup.Seen(ctx, su.PhoneNumber)
	if err != nil {
		log.Warn("dialer: dedup lookup failed, scheduling anyway", zap.Error(err))
	}
	if called {
		s.skip(log, SkipCalled)
		return false
	}

	delay := Delay(su.CreatedAt, s.now(), s.cfg.Threshold)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.skip(log, SkipStopped)
		return false
	}
	if _, ok := s.timers[su.UserID]; ok {
		s.skip(log, SkipPending)
		return false
	}
	userID := su.UserID
	s.timers[userID] = s.afterFunc(delay, func() { s.fire(userID) })
	s.metrics.CallScheduled()
	s.metrics.SetPendingCalls(len(s.timers))

	log.Info("dialer: call scheduled", zap.Duration("delay", delay), zap.Time("created_at", su.CreatedAt))
	return true
}

// Backfill schedules every unverified user created within the threshold,
// covering signups that arrived while the daemon was down.
func (s *Scheduler) Backfill(ctx context.Context) (int, error) {
	since := s.now().Add(-s.cfg.Threshold)
	users, err := s.users.ListUnverifiedUsers(ctx, since, s.cfg.BackfillLimit)
	if err != nil {
		return 0, eris.Wrap(err, "dialer: backfill")
	}
	n := 0
	for _, u := range users {
		if u.PhoneNumber == "" {
			continue
		}
		if s.Schedule(ctx, Signup{UserID: u.ID, PhoneNumber: u.PhoneNumber, CreatedAt: u.CreatedAt}) {
			n++
		}
	}
	zap.L().Info("dialer: backfill complete", zap.Int("found", len(users)), zap.Int("scheduled", n))
	return n, nil
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending timer and any call in flight. Schedule is a
// no-op afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.stopped = true
	s.cancel()
	s.metrics.SetPendingCalls(0)
}

func (s *Scheduler) fire(userID string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.timers, userID)
	s.metrics.SetPendingCalls(len(s.timers))
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, fireTimeout)
	defer cancel()
	log := zap.L().With(zap.String("user_id", userID))

	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		log.Error("dialer: user lookup failed", zap.Error(err))
		s.skip(log, SkipLookup)
		return
	}
	if u == nil {
		s.skip(log, SkipNoUser)
		return
	}
	phone := strings.TrimSpace(u.PhoneNumber)
	switch {
	case u.Verified:
		s.skip(log, SkipVerified)
		return
	case phone == "":
		s.skip(log, SkipNoPhone)
		return
	}

	called, err := s.dedup.Seen(ctx, phone)
	if err != nil {
		log.Warn("dialer: dedup lookup failed", zap.Error(err))
	}
	if called {
		s.skip(log, SkipCalled)
		return
	}
	if s.hasActiveCall(ctx, phone) {
		s.skip(log, SkipActiveCall)
		return
	}
	if !e164.MatchString(phone) {
		log.Warn("dialer: phone number is not E.164", zap.String("phone", phone))
	}

	call, err := s.calls.CreateCall(ctx, s.callRequest(userID, phone))
	if err != nil {
		s.metrics.CallPlaced("error")
		log.Error("dialer: call failed", zap.Error(err))
		return
	}
	s.metrics.CallPlaced("ok")
	if err := s.dedup.Mark(ctx, phone, s.cfg.DedupTTL); err != nil {
		log.Warn("dialer: dedup mark failed", zap.Error(err))
	}
	log.Info("dialer: call placed", zap.String("call_sid", call.SID), zap.String("status", call.Status))
}

// hasActiveCall reports whether the provider has a queued, ringing or
// in-progress call to phone. Lookup errors count as no active call.
func (s *Scheduler) hasActiveCall(ctx context.Context, phone string) bool {
	for _, status := range telephony.ActiveStatuses {
		calls, err := s.calls.ListCalls(ctx, telephony.CallFilter{To: phone, Status: status, Limit: 1})
		if err != nil {
			zap.L().Warn("dialer: active call check failed", zap.String("status", status), zap.Error(err))
			return false
		}
		if len(calls) > 0 {
			return true
		}
	}
	return false
}

func (s *Scheduler) callRequest(userID, phone string) telephony.CallRequest {
	req := telephony.CallRequest{
		To:   phone,
		From: s.cfg.From,
		URL:  withQuery(s.cfg.IVRURL, url.Values{"userId": {userID}}),
	}
	if s.cfg.StatusCallbackURL != "" {
		req.StatusCallback = withQuery(s.cfg.StatusCallbackURL, url.Values{"userId": {userID}, "to": {phone}})
	}
	return req
}

func withQuery(raw string, extra url.Values) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for k, vs := range extra {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Scheduler) skip(log *zap.Logger, reason string) {
	s.metrics.CallSkipped(reason)
	log.Debug("dialer: call skipped", zap.String("reason", reason))
}
