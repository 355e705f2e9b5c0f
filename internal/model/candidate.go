package model

import (
	"time"

	"github.com/nextgenfi/targeting-cli/internal/geo"
)

// Candidate is a person eligible for outreach. Coordinates are optional in
// storage but required for targeting.
type Candidate struct {
	ID           string      `json:"id" yaml:"id"`
	FirstName    string      `json:"first_name,omitempty" yaml:"first_name"`
	LastName     string      `json:"last_name,omitempty" yaml:"last_name"`
	Email        string      `json:"email,omitempty" yaml:"email"`
	Phone        string      `json:"phone,omitempty" yaml:"phone"`
	City         string      `json:"city,omitempty" yaml:"city"`
	State        string      `json:"state,omitempty" yaml:"state"`
	Latitude     *float64    `json:"latitude,omitempty" yaml:"latitude"`
	Longitude    *float64    `json:"longitude,omitempty" yaml:"longitude"`
	AssetValue   float64     `json:"asset_value" yaml:"asset_value"`
	HasInsurance bool        `json:"has_insurance" yaml:"has_insurance"`
	DoNotCall    bool        `json:"do_not_call" yaml:"do_not_call"`
	Enrichment   *Enrichment `json:"enrichment,omitempty" yaml:"enrichment"`
	UpdatedAt    time.Time   `json:"updated_at" yaml:"-"`
}

// Location returns the candidate coordinates and whether both are present.
func (c *Candidate) Location() (geo.Point, bool) {
	if c == nil || c.Latitude == nil || c.Longitude == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *c.Latitude, Lon: *c.Longitude}, true
}

// Homeowner reports whether enrichment data marks the candidate as a
// homeowner.
func (c *Candidate) Homeowner() bool {
	return c != nil && c.Enrichment != nil && c.Enrichment.Homeowner
}

// Enrichment holds optional third-party attributes keyed by candidate ID.
// Attrs keeps any column the importer did not map.
type Enrichment struct {
	Homeowner bool              `json:"homeowner" yaml:"homeowner"`
	Income    *float64          `json:"income,omitempty" yaml:"income"`
	Age       *int              `json:"age,omitempty" yaml:"age"`
	Children  *bool             `json:"children,omitempty" yaml:"children"`
	Attrs     map[string]string `json:"attrs,omitempty" yaml:"attrs"`
}

// CandidateFilter carries filters the store may push down into its query.
// The selector applies the same filters again, so a store may ignore any of
// them.
type CandidateFilter struct {
	MinAssetValue    float64 `json:"min_asset_value"`
	MaxAssetValue    float64 `json:"max_asset_value,omitempty"`
	RequireUninsured bool    `json:"require_uninsured"`
	RequireHomeowner bool    `json:"require_homeowner"`
	ExcludeDoNotCall bool    `json:"exclude_do_not_call"`
}
