// Package telephony places and inspects outbound voice calls through a
// Twilio-compatible REST API.
package telephony

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/nextgenfi/targeting-cli/internal/resilience"
)

// DefaultBaseURL is the Twilio REST API root.
const DefaultBaseURL = "https://api.twilio.com/2010-04-01"

// Call statuses reported by the provider.
const (
	StatusQueued     = "queued"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
)

// ActiveStatuses are the states in which a call still occupies the line.
var ActiveStatuses = []string{StatusQueued, StatusRinging, StatusInProgress}

// Client defines the call operations the callbot uses.
type Client interface {
	// CreateCall dials To and fetches TwiML from URL once answered.
	CreateCall(ctx context.Context, req CallRequest) (*Call, error)
	// ListCalls returns calls matching the filter, newest first.
	ListCalls(ctx context.Context, f CallFilter) ([]Call, error)
}

// CallRequest describes an outbound call.
type CallRequest struct {
	To             string
	From           string
	URL            string
	StatusCallback string
	// StatusEvents defaults to initiated, ringing, answered, completed.
	StatusEvents []string
}

// CallFilter narrows ListCalls.
type CallFilter struct {
	To     string
	Status string
	Limit  int
}

// Call is the provider's call resource.
type Call struct {
	SID    string `json:"sid"`
	To     string `json:"to"`
	From   string `json:"from"`
	Status string `json:"status"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the API root. Empty keeps the default.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit caps requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

// WithBackoff sets the retry policy for reads. Call creation is never
// retried so a timeout cannot dial twice.
func WithBackoff(b resilience.Backoff) Option {
	return func(c *httpClient) { c.backoff = b }
}

type httpClient struct {
	accountSID string
	authToken  string
	baseURL    string
	http       *http.Client
	limiter    *rate.Limiter
	backoff    resilience.Backoff
}

// NewClient creates a client authenticating with the account SID and token.
func NewClient(accountSID, authToken string, opts ...Option) Client {
	c := &httpClient{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    DefaultBaseURL,
		http:       &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(5, 5),
		backoff:    resilience.DefaultBackoff(),
	}
	c.backoff.Notify = resilience.LogRetries("telephony", "list calls")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) callsURL() string {
	return c.baseURL + "/Accounts/" + url.PathEscape(c.accountSID) + "/Calls.json"
}

func (c *httpClient) CreateCall(ctx context.Context, req CallRequest) (*Call, error) {
	if req.To == "" || req.From == "" || req.URL == "" {
		return nil, eris.New("telephony: to, from and url are required")
	}
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Url", req.URL)
	if req.StatusCallback != "" {
		form.Set("StatusCallback", req.StatusCallback)
		form.Set("StatusCallbackMethod", http.MethodPost)
		events := req.StatusEvents
		if len(events) == 0 {
			events = []string{"initiated", "ringing", "answered", "completed"}
		}
		for _, e := range events {
			form.Add("StatusCallbackEvent", e)
		}
	}

	body, err := c.do(ctx, http.MethodPost, c.callsURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrapf(err, "telephony: create call to %s", req.To)
	}
	var call Call
	if err := json.Unmarshal(body, &call); err != nil {
		return nil, eris.Wrap(err, "telephony: decode call")
	}
	return &call, nil
}

func (c *httpClient) ListCalls(ctx context.Context, f CallFilter) ([]Call, error) {
	q := url.Values{}
	if f.To != "" {
		q.Set("To", f.To)
	}
	if f.Status != "" {
		q.Set("Status", f.Status)
	}
	if f.Limit > 0 {
		q.Set("PageSize", strconv.Itoa(f.Limit))
	}
	u := c.callsURL()
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	body, err := resilience.Retry(ctx, c.backoff, func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, eris.Wrap(err, "telephony: list calls")
	}
	var page struct {
		Calls []Call `json:"calls"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, eris.Wrap(err, "telephony: decode calls")
	}
	return page.Calls, nil
}

func (c *httpClient) do(ctx context.Context, method, u string, body io.Reader) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(data)
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, &resilience.StatusError{Service: "telephony", Status: resp.StatusCode, Body: msg}
	}
	return data, nil
}
