package intgeom

import (
	"github.com/go-spatial/geom"
)

// Extent represents the minx, miny, maxx and maxy
type Extent [4]int64

func (e Extent) ToGeomExtent() geom.Extent {
	return geom.Extent{
		ToGeomOrd(e[0]),
		ToGeomOrd(e[1]),
		ToGeomOrd(e[2]),
		ToGeomOrd(e[3]),
	}
}

func FromGeomExtent(e geom.Extent) Extent {
	return Extent{
		FromGeomOrd(e[0]),
		FromGeomOrd(e[1]),
		FromGeomOrd(e[2]),
		FromGeomOrd(e[3]),
	}
}

// ExtentOf returns the bounding box of a geometry.
// ok is false for geometries without points.
func ExtentOf(g geom.Geometry) (e Extent, ok bool) {
	ext, err := geom.NewExtentFromGeometry(g)
	if err != nil || ext == nil {
		return e, false
	}
	return FromGeomExtent(*ext), true
}

/* ========================= ATTRIBUTES ========================= */

// Vertices return the vertices of the Bounding Box. The vertices are ordered in the following manner.
// (minx,miny), (maxx,miny), (maxx,maxy), (minx,maxy)
func (e Extent) Vertices() [][2]int64 {
	return [][2]int64{
		{e.MinX(), e.MinY()},
		{e.MaxX(), e.MinY()},
		{e.MaxX(), e.MaxY()},
		{e.MinX(), e.MaxY()},
	}
}

// ClockwiseRing returns the (unclosed) ring of the extent, clockwise starting bottom left:
// (minx,miny), (minx,maxy), (maxx,maxy), (maxx,miny)
func (e Extent) ClockwiseRing() [][2]float64 {
	v := e.Vertices()
	ring := make([][2]float64, 0, len(v))
	for _, i := range [...]int{0, 3, 2, 1} {
		ring = append(ring, Point(v[i]).ToGeomPoint())
	}
	return ring
}

// Centroid is the center of the extent, rounded down to whole units.
func (e Extent) Centroid() Point {
	return Point{e.MinX() + e.XSpan()/2, e.MinY() + e.YSpan()/2}
}

// IsEmpty is true when the extent has no area.
func (e Extent) IsEmpty() bool {
	return e.XSpan() <= 0 || e.YSpan() <= 0
}

// MaxX is the larger of the x values.
func (e Extent) MaxX() int64 {
	return e[2]
}

// MinX  is the smaller of the x values.
func (e Extent) MinX() int64 {
	return e[0]
}

// MaxY is the larger of the y values.
func (e Extent) MaxY() int64 {
	return e[3]
}

// MinY is the smaller of the y values.
func (e Extent) MinY() int64 {
	return e[1]
}

// XSpan is the distance of the Extent in X
func (e Extent) XSpan() int64 {
	return e[2] - e[0]
}

// YSpan is the distance of the Extent in Y
func (e Extent) YSpan() int64 {
	return e[3] - e[1]
}
