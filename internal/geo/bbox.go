package geo

import "math"

// kmPerDegree approximates the length of one degree of latitude.
const kmPerDegree = 111.0

// minCosLat guards the longitude correction near the poles.
const minCosLat = 1e-6

// BBox is a lat/lon rectangle used as a coarse prefilter before exact
// distance checks.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether p falls inside the box, edges included.
func (b BBox) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// BoundingBox returns a box that encloses every point within radiusKM of
// center. The latitude span is radiusKM/111 degrees and the longitude span is
// corrected for meridian convergence by cos(latitude). When the correction is
// undefined or the box would wrap the antimeridian, the longitude range
// widens to the full [-180,180] so no candidate is lost.
func BoundingBox(center Point, radiusKM float64) BBox {
	dLat := radiusKM / kmPerDegree
	box := BBox{
		MinLat: math.Max(-90, center.Lat-dLat),
		MaxLat: math.Min(90, center.Lat+dLat),
		MinLon: -180,
		MaxLon: 180,
	}

	// A box that reaches a pole covers every longitude.
	if box.MinLat <= -90 || box.MaxLat >= 90 {
		return box
	}

	cosLat := math.Cos(toRadians(center.Lat))
	if math.Abs(cosLat) < minCosLat {
		return box
	}

	dLon := radiusKM / (kmPerDegree * cosLat)
	minLon := center.Lon - dLon
	maxLon := center.Lon + dLon
	if minLon < -180 || maxLon > 180 {
		return box
	}

	box.MinLon = minLon
	box.MaxLon = maxLon
	return box
}
