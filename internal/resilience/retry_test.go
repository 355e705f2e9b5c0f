package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fast() Backoff {
	return Backoff{Attempts: 4, Initial: time.Millisecond, Max: 2 * time.Millisecond}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var notified []int
	b := fast()
	b.Notify = func(attempt int, _ error) { notified = append(notified, attempt) }

	v, err := Retry(context.Background(), b, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &StatusError{Service: "usgs", Status: 503}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fast(), func(context.Context) (int, error) {
		calls++
		return 0, &StatusError{Service: "usgs", Status: 400, Body: "bad request"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "usgs: unexpected status 400")
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fast(), func(context.Context) (int, error) {
		calls++
		return 0, syscall.ECONNRESET
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	b := Backoff{Attempts: 5, Initial: time.Hour, Max: time.Hour}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := Retry(ctx, b, func(context.Context) (int, error) {
		calls++
		return 0, &StatusError{Status: 429}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_CustomRetryable(t *testing.T) {
	sentinel := errors.New("retry me")
	b := fast()
	b.Retryable = func(err error) bool { return errors.Is(err, sentinel) }
	calls := 0

	_, err := Retry(context.Background(), b, func(context.Context) (int, error) {
		calls++
		return 0, eris.Wrap(sentinel, "wrapped")
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2}

	assert.Equal(t, 100*time.Millisecond, b.Delay(0))
	assert.Equal(t, 400*time.Millisecond, b.Delay(2))
	assert.Equal(t, time.Second, b.Delay(10))

	b.Jitter = 0.5
	for i := 0; i < 50; i++ {
		d := b.Delay(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &StatusError{Status: 429}, true},
		{"503 wrapped", eris.Wrap(&StatusError{Status: 503}, "fetch"), true},
		{"404", &StatusError{Status: 404}, false},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"reset message", errors.New("read tcp: connection reset by peer"), true},
		{"timeout message", errors.New("net/http: TLS handshake timeout"), true},
		{"plain", errors.New("invalid json"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, RetryableStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422, 501} {
		assert.False(t, RetryableStatus(code), code)
	}
}
