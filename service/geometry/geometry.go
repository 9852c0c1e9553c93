package geometry

import (
	"fmt"

	"github.com/go-spatial/geom"
	geomwkt "github.com/go-spatial/geom/encoding/wkt"
	"github.com/paulsmith/gogeos/geos"
)

// GeomToGeos converts a go-spatial geometry into a geos.Geometry
func GeomToGeos(g geom.Geometry) (*geos.Geometry, error) {
	wkt, err := geomwkt.EncodeString(g)
	if err != nil {
		return nil, fmt.Errorf("GeomToGeos.EncodeString: %w", err)
	}
	geometry, err := geos.FromWKT(wkt)
	if err != nil {
		return nil, fmt.Errorf("GeomToGeos.FromWKT: %w", err)
	}
	return geometry, nil
}

// GeosToGeom converts a geos.Geometry into a go-spatial geometry
func GeosToGeom(g *geos.Geometry) (geom.Geometry, error) {
	wkt, err := g.ToWKT()
	if err != nil {
		return nil, fmt.Errorf("GeosToGeom.ToWKT: %w", err)
	}
	geometry, err := geomwkt.DecodeString(wkt)
	if err != nil {
		return nil, fmt.Errorf("GeosToGeom.DecodeString: %w", err)
	}

	return geometry, nil
}

// IntersectsWKT returns whether the WKT geometry intersects aoi with a
// non-empty interior
func IntersectsWKT(aoi *geos.Geometry, wkt string) (bool, error) {
	g, err := geos.FromWKT(wkt)
	if err != nil {
		return false, fmt.Errorf("IntersectsWKT.FromWKT: %w", err)
	}
	inter, err := g.Intersection(aoi)
	if err != nil {
		return false, fmt.Errorf("IntersectsWKT.Intersection: %w", err)
	}
	// a border contact intersects with a zero-area geometry
	area, err := inter.Area()
	if err != nil {
		return false, fmt.Errorf("IntersectsWKT.Area: %w", err)
	}
	return area > 0, nil
}
