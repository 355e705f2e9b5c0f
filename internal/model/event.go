package model

import (
	"time"

	"github.com/nextgenfi/targeting-cli/internal/geo"
)

// EventKind distinguishes hazard sources.
type EventKind string

const (
	EventKindEarthquake EventKind = "earthquake"
	EventKindWeather    EventKind = "weather"
)

// Event is a geolocated hazard occurrence. Latitude and Longitude are
// optional; an event missing either cannot anchor a target selection.
type Event struct {
	ID         string     `json:"id" yaml:"id"`
	Kind       EventKind  `json:"kind" yaml:"kind"`
	OccurredAt *time.Time `json:"occurred_at,omitempty" yaml:"occurred_at"`
	Latitude   *float64   `json:"latitude,omitempty" yaml:"latitude"`
	Longitude  *float64   `json:"longitude,omitempty" yaml:"longitude"`
	Magnitude  *float64   `json:"magnitude,omitempty" yaml:"magnitude"`
	Severity   string     `json:"severity,omitempty" yaml:"severity"`
	EventType  string     `json:"event_type,omitempty" yaml:"event_type"`
	Place      string     `json:"place,omitempty" yaml:"place"`
	DepthKM    *float64   `json:"depth_km,omitempty" yaml:"depth_km"`
	URL        string     `json:"url,omitempty" yaml:"url"`
	UpdatedAt  time.Time  `json:"updated_at" yaml:"-"`
}

// Location returns the event coordinates and whether both are present.
func (e *Event) Location() (geo.Point, bool) {
	if e == nil || e.Latitude == nil || e.Longitude == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *e.Latitude, Lon: *e.Longitude}, true
}

// EventFilter narrows event listings.
type EventFilter struct {
	Kind   EventKind  `json:"kind,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}
