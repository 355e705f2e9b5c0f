package store

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// srid is WGS84, the reference system of every stored coordinate.
const srid = 4326

// pointEWKB encodes lat/lon as an EWKB point for PostGIS. It returns nil
// when either coordinate is missing, which stores a NULL geometry.
func pointEWKB(lat, lon *float64) ([]byte, error) {
	if lat == nil || lon == nil {
		return nil, nil
	}
	p := geom.NewPointFlat(geom.XY, []float64{*lon, *lat}).SetSRID(srid)
	data, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode point")
	}
	return data, nil
}
