package targeting

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/nextgenfi/targeting-cli/internal/config"
	"github.com/nextgenfi/targeting-cli/internal/model"
)

// Defaults applied by DefaultCriteria.
const (
	DefaultMaxDistanceKM = 100.0
	DefaultMinAssetValue = 100_000.0
	DefaultLimit         = 50
	MaxLimit             = 1000
	DefaultTieBandKM     = 5.0
)

// Criteria selects and caps the targets for one event.
type Criteria struct {
	MaxDistanceKM    float64 `json:"max_distance_km"`
	MinAssetValue    float64 `json:"min_asset_value"`
	MaxAssetValue    float64 `json:"max_asset_value,omitempty"` // 0 = unbounded
	RequireUninsured bool    `json:"require_uninsured"`
	RequireHomeowner bool    `json:"require_homeowner"`
	ExcludeDoNotCall bool    `json:"exclude_do_not_call"`
	Limit            int     `json:"limit"`
}

// DefaultCriteria returns the built-in selection defaults.
func DefaultCriteria() Criteria {
	return Criteria{
		MaxDistanceKM:    DefaultMaxDistanceKM,
		MinAssetValue:    DefaultMinAssetValue,
		RequireUninsured: true,
		Limit:            DefaultLimit,
	}
}

// CriteriaFromConfig returns the defaults configured under targeting.*.
func CriteriaFromConfig(c config.TargetingConfig) Criteria {
	return Criteria{
		MaxDistanceKM:    c.MaxDistanceKM,
		MinAssetValue:    c.MinAssetValue,
		RequireUninsured: c.RequireUninsured,
		RequireHomeowner: c.RequireHomeowner,
		ExcludeDoNotCall: c.ExcludeDoNotCall,
		Limit:            c.Limit,
	}
}

// Validate reports malformed criteria as ErrInvalidArgument.
func (c Criteria) Validate() error {
	var errs []string

	if c.Limit <= 0 {
		errs = append(errs, fmt.Sprintf("limit must be > 0, got %d", c.Limit))
	}
	if math.IsNaN(c.MaxDistanceKM) || math.IsInf(c.MaxDistanceKM, 0) || c.MaxDistanceKM <= 0 {
		errs = append(errs, fmt.Sprintf("max distance must be > 0, got %v", c.MaxDistanceKM))
	}
	if math.IsNaN(c.MinAssetValue) || c.MinAssetValue < 0 {
		errs = append(errs, fmt.Sprintf("min asset value must be >= 0, got %v", c.MinAssetValue))
	}
	if math.IsNaN(c.MaxAssetValue) || c.MaxAssetValue < 0 {
		errs = append(errs, fmt.Sprintf("max asset value must be >= 0, got %v", c.MaxAssetValue))
	} else if c.MaxAssetValue > 0 && c.MaxAssetValue < c.MinAssetValue {
		errs = append(errs, fmt.Sprintf("max asset value %v is below min asset value %v", c.MaxAssetValue, c.MinAssetValue))
	}

	if len(errs) > 0 {
		return eris.Wrap(ErrInvalidArgument, strings.Join(errs, "; "))
	}
	return nil
}

// filter returns the store-side pushdown for these criteria.
func (c Criteria) filter() model.CandidateFilter {
	return model.CandidateFilter{
		MinAssetValue:    c.MinAssetValue,
		MaxAssetValue:    c.MaxAssetValue,
		RequireUninsured: c.RequireUninsured,
		RequireHomeowner: c.RequireHomeowner,
		ExcludeDoNotCall: c.ExcludeDoNotCall,
	}
}

// admits reports whether a candidate passes every non-distance filter, in
// order: asset bounds, insurance, do-not-call, homeowner. A non-finite asset
// value never passes.
func (c Criteria) admits(cand *model.Candidate) bool {
	if math.IsNaN(cand.AssetValue) || math.IsInf(cand.AssetValue, 0) {
		return false
	}
	if cand.AssetValue < c.MinAssetValue {
		return false
	}
	if c.MaxAssetValue > 0 && cand.AssetValue > c.MaxAssetValue {
		return false
	}
	if c.RequireUninsured && cand.HasInsurance {
		return false
	}
	if c.ExcludeDoNotCall && cand.DoNotCall {
		return false
	}
	if c.RequireHomeowner && !cand.Homeowner() {
		return false
	}
	return true
}
