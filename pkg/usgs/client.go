// Package usgs queries the USGS FDSN event web service for earthquakes.
package usgs

import (
	"context"
	"encoding/json"
	"fmt"
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

// DefaultBaseURL is the public FDSN event endpoint.
const DefaultBaseURL = "https://earthquake.usgs.gov/fdsnws/event/1"

// Client fetches earthquakes from the USGS feed.
type Client interface {
	Query(ctx context.Context, q Query) ([]Quake, error)
}

// Query selects earthquakes in a time window and optional region.
type Query struct {
	Start        time.Time
	End          time.Time // zero means now
	MinMagnitude float64   // 0 means no floor
	// Region is [minLon, minLat, maxLon, maxLat]; nil means worldwide.
	Region *[4]float64
	Limit  int
}

// Quake is one feature of the GeoJSON response. Fields USGS leaves null
// stay nil.
type Quake struct {
	ID        string
	Magnitude *float64
	Time      *time.Time
	Place     string
	DepthKM   *float64
	Longitude *float64
	Latitude  *float64
	URL       string
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the service root. Empty keeps the default.
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

// WithRateLimit caps requests per second. Non-positive values keep the
// default.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

// WithBackoff sets the retry policy.
func WithBackoff(b resilience.Backoff) Option {
	return func(c *httpClient) { c.backoff = b }
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	backoff resilience.Backoff
}

// NewClient creates a USGS client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(2, 2),
		backoff: resilience.DefaultBackoff(),
	}
	c.backoff.Notify = resilience.LogRetries("usgs", "query")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query fetches matching earthquakes ordered newest first.
func (c *httpClient) Query(ctx context.Context, q Query) ([]Quake, error) {
	u := c.baseURL + "/query?" + q.values().Encode()

	body, err := resilience.Retry(ctx, c.backoff, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/geo+json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close() //nolint:errcheck

		data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &resilience.StatusError{Service: "usgs", Status: resp.StatusCode, Body: truncate(data, 256)}
		}
		return data, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "usgs: query")
	}

	var fc featureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, eris.Wrap(err, "usgs: decode response")
	}
	quakes := make([]Quake, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f.ID == "" {
			continue
		}
		quakes = append(quakes, f.quake())
	}
	return quakes, nil
}

func (q Query) values() url.Values {
	v := url.Values{}
	v.Set("format", "geojson")
	v.Set("orderby", "time")
	if !q.Start.IsZero() {
		v.Set("starttime", q.Start.UTC().Format(time.RFC3339))
	}
	if !q.End.IsZero() {
		v.Set("endtime", q.End.UTC().Format(time.RFC3339))
	}
	if q.MinMagnitude > 0 {
		v.Set("minmagnitude", formatFloat(q.MinMagnitude))
	}
	if q.Region != nil {
		r := q.Region
		v.Set("minlongitude", formatFloat(r[0]))
		v.Set("minlatitude", formatFloat(r[1]))
		v.Set("maxlongitude", formatFloat(r[2]))
		v.Set("maxlatitude", formatFloat(r[3]))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID         string `json:"id"`
	Properties struct {
		Mag   *float64 `json:"mag"`
		Time  *int64   `json:"time"`
		Place *string  `json:"place"`
		URL   *string  `json:"url"`
	} `json:"properties"`
	Geometry *struct {
		Coordinates []*float64 `json:"coordinates"`
	} `json:"geometry"`
}

func (f feature) quake() Quake {
	q := Quake{ID: f.ID, Magnitude: f.Properties.Mag}
	if f.Properties.Time != nil {
		t := time.UnixMilli(*f.Properties.Time).UTC()
		q.Time = &t
	}
	if f.Properties.Place != nil {
		q.Place = *f.Properties.Place
	}
	if f.Properties.URL != nil {
		q.URL = *f.Properties.URL
	}
	if f.Geometry != nil {
		coords := f.Geometry.Coordinates
		if len(coords) > 0 {
			q.Longitude = coords[0]
		}
		if len(coords) > 1 {
			q.Latitude = coords[1]
		}
		if len(coords) > 2 {
			q.DepthKM = coords[2]
		}
	}
	return q
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return fmt.Sprintf("%s...", b[:n])
}
