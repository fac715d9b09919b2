package intgeom

import (
	"github.com/go-spatial/geom"
)

// Point describes a simple 2D point
type Point [2]int64

func (p Point) ToGeomPoint() geom.Point {
	return geom.Point{
		ToGeomOrd(p[0]),
		ToGeomOrd(p[1]),
	}
}
