package risk

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/nextgenfi/targeting-cli/internal/config"
)

// Policy holds the cut points used by Classify.
//
// A candidate earns one distance point per band it falls inside and one
// magnitude point per band the event reaches. Either count being zero yields
// TierLow. Otherwise the points are summed, plus one when the asset value
// reaches HighValueThreshold, and compared against HighScore and MediumScore.
type Policy struct {
	DistanceBandsKM    []float64
	MagnitudeBands     []float64
	HighValueThreshold float64
	HighScore          int
	MediumScore        int
}

// DefaultPolicy returns the reference policy:
//
//	distance bands  10, 25, 50 km
//	magnitude bands 3.0, 5.0, 6.0
//	value amplifier 500000
//	high >= 4, medium >= 3
//
// Under it, an event of magnitude 5.0 or more within 25 km is always high.
func DefaultPolicy() Policy {
	return Policy{
		DistanceBandsKM:    []float64{10, 25, 50},
		MagnitudeBands:     []float64{3.0, 5.0, 6.0},
		HighValueThreshold: 500_000,
		HighScore:          4,
		MediumScore:        3,
	}
}

// FromConfig builds a Policy from config, falling back to DefaultPolicy for
// unset fields.
func FromConfig(c config.RiskConfig) Policy {
	p := DefaultPolicy()
	if len(c.DistanceBandsKM) > 0 {
		p.DistanceBandsKM = append([]float64(nil), c.DistanceBandsKM...)
	}
	if len(c.MagnitudeBands) > 0 {
		p.MagnitudeBands = append([]float64(nil), c.MagnitudeBands...)
	}
	if c.HighValueThreshold > 0 {
		p.HighValueThreshold = c.HighValueThreshold
	}
	if c.HighScore > 0 {
		p.HighScore = c.HighScore
	}
	if c.MediumScore > 0 {
		p.MediumScore = c.MediumScore
	}
	return p
}

// Validate checks that the policy is internally consistent.
func (p Policy) Validate() error {
	var errs []string

	if err := checkBands("distance_bands_km", p.DistanceBandsKM); err != "" {
		errs = append(errs, err)
	}
	if err := checkBands("magnitude_bands", p.MagnitudeBands); err != "" {
		errs = append(errs, err)
	}
	if p.HighValueThreshold <= 0 || math.IsNaN(p.HighValueThreshold) {
		errs = append(errs, "high_value_threshold must be > 0")
	}
	if p.MediumScore < 2 {
		errs = append(errs, fmt.Sprintf("medium_score (%d) must be >= 2", p.MediumScore))
	}
	if p.HighScore < p.MediumScore {
		errs = append(errs, fmt.Sprintf("high_score (%d) must be >= medium_score (%d)", p.HighScore, p.MediumScore))
	}

	if len(errs) > 0 {
		return eris.Errorf("risk: policy validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func checkBands(name string, bands []float64) string {
	if len(bands) == 0 {
		return name + " must not be empty"
	}
	for _, b := range bands {
		if b < 0 || math.IsNaN(b) || math.IsInf(b, 0) {
			return name + " must be finite and >= 0"
		}
	}
	if !sort.Float64sAreSorted(bands) {
		return name + " must be ascending"
	}
	return ""
}
