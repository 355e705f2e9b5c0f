package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		distance  float64
		magnitude float64
		value     float64
		expected  Tier
	}{
		{"close and strong", 1.0, 6.0, 500_000, TierHigh},
		{"25km and mag 5", 25.0, 5.0, 0, TierHigh},
		{"10km and mag 3", 10.0, 3.0, 0, TierHigh},
		{"30km mag 3 low value", 30.0, 3.0, 0, TierLow},
		{"30km mag 3 amplified by value", 30.0, 3.0, 500_000, TierMedium},
		{"40km and mag 5", 40.0, 5.0, 0, TierMedium},
		{"40km mag 3 low value", 40.0, 3.0, 100_000, TierLow},
		{"40km mag 3 high value", 40.0, 3.0, 900_000, TierMedium},
		{"beyond all distance bands", 50.1, 9.0, 10_000_000, TierLow},
		{"below all magnitude bands", 0.5, 2.9, 10_000_000, TierLow},
		{"missing magnitude", 1.0, math.NaN(), 900_000, TierLow},
		{"missing value", 1.0, 6.0, math.NaN(), TierHigh},
		{"negative value", 30.0, 5.0, -1, TierMedium},
		{"nan distance", math.NaN(), 6.0, 900_000, TierLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.distance, tt.magnitude, tt.value))
		})
	}
}

var (
	gridDistances  = []float64{0, 5, 9.99, 10, 10.01, 20, 25, 30, 49.9, 50, 50.1, 75, 100, 500}
	gridMagnitudes = []float64{0, 1, 2.5, 3, 4, 4.99, 5, 5.5, 6, 7, 9.5}
	gridValues     = []float64{0, 100_000, 499_999, 500_000, 2_000_000}
)

func TestClassify_MonotoneInDistance(t *testing.T) {
	for _, m := range gridMagnitudes {
		for _, v := range gridValues {
			prev := TierHigh
			for _, d := range gridDistances {
				got := Classify(d, m, v)
				assert.LessOrEqual(t, got.Rank(), prev.Rank(), "d=%v m=%v v=%v", d, m, v)
				prev = got
			}
		}
	}
}

func TestClassify_MonotoneInMagnitude(t *testing.T) {
	for _, d := range gridDistances {
		for _, v := range gridValues {
			prev := TierLow
			for _, m := range gridMagnitudes {
				got := Classify(d, m, v)
				assert.GreaterOrEqual(t, got.Rank(), prev.Rank(), "d=%v m=%v v=%v", d, m, v)
				prev = got
			}
		}
	}
}

func TestClassify_MonotoneInValue(t *testing.T) {
	for _, d := range gridDistances {
		for _, m := range gridMagnitudes {
			prev := TierLow
			for _, v := range gridValues {
				got := Classify(d, m, v)
				assert.GreaterOrEqual(t, got.Rank(), prev.Rank(), "d=%v m=%v v=%v", d, m, v)
				prev = got
			}
		}
	}
}

func TestPolicy_CustomCutPoints(t *testing.T) {
	p := Policy{
		DistanceBandsKM:    []float64{100},
		MagnitudeBands:     []float64{2},
		HighValueThreshold: 200_000,
		HighScore:          3,
		MediumScore:        2,
	}

	assert.Equal(t, TierHigh, p.Classify(80, 2.5, 250_000))
	assert.Equal(t, TierMedium, p.Classify(80, 2.5, 150_000))
	assert.Equal(t, TierLow, p.Classify(120, 2.5, 250_000))
}

func TestSeverityMagnitude(t *testing.T) {
	assert.Equal(t, 6.0, SeverityMagnitude(SeveritySevere))
	assert.Equal(t, 5.0, SeverityMagnitude(SeverityHeavy))
	assert.Equal(t, 3.0, SeverityMagnitude(SeverityModerate))
	assert.Equal(t, 0.0, SeverityMagnitude("light"))
	assert.Equal(t, 0.0, SeverityMagnitude(""))
}

func TestTier_Rank(t *testing.T) {
	assert.Greater(t, TierHigh.Rank(), TierMedium.Rank())
	assert.Greater(t, TierMedium.Rank(), TierLow.Rank())
	assert.True(t, TierLow.Valid())
	assert.False(t, Tier("critical").Valid())
}
