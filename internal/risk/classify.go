package risk

import "math"

// Classify returns the risk tier for a candidate distanceKM away from an
// event of the given magnitude, holding an asset worth assetValue.
//
// Magnitude and asset value that are NaN or negative count as zero. A NaN
// distance earns no distance points. The result never decreases as distance
// shrinks, magnitude grows, or asset value grows.
func (p Policy) Classify(distanceKM, magnitude, assetValue float64) Tier {
	magnitude = orZero(magnitude)
	assetValue = orZero(assetValue)

	dp := 0
	for _, band := range p.DistanceBandsKM {
		if distanceKM <= band {
			dp++
		}
	}
	mp := 0
	for _, band := range p.MagnitudeBands {
		if magnitude >= band {
			mp++
		}
	}
	if dp == 0 || mp == 0 {
		return TierLow
	}

	score := dp + mp
	if assetValue >= p.HighValueThreshold {
		score++
	}

	switch {
	case score >= p.HighScore:
		return TierHigh
	case score >= p.MediumScore:
		return TierMedium
	default:
		return TierLow
	}
}

// Classify applies DefaultPolicy.
func Classify(distanceKM, magnitude, assetValue float64) Tier {
	return defaultPolicy.Classify(distanceKM, magnitude, assetValue)
}

var defaultPolicy = DefaultPolicy()

func orZero(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
