package geomhelp

import (
	"math"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkt"
	"github.com/muesli/reflow/truncate"
	"github.com/paulmach/orb"
)

// https://en.wikipedia.org/wiki/Shoelace_formula
func Shoelace(pts [][2]float64) float64 {
	sum := 0.
	if len(pts) == 0 {
		return 0.
	}

	p0 := pts[len(pts)-1]
	for _, p1 := range pts {
		sum += p0[1]*p1[0] - p0[0]*p1[1]
		p0 = p1
	}
	return math.Abs(sum / 2)
}

// Area of a polygon: the outer ring minus the holes
func Area(p [][][2]float64) float64 {
	if len(p) == 0 {
		return 0.
	}
	interior := 0.
	for _, hole := range p[1:] {
		interior += Shoelace(hole)
	}
	return Shoelace(p[0]) - interior
}

// ToOrbMultiPolygon converts a go-spatial (multi)polygon into an orb multipolygon with closed rings.
// Empty rings are dropped, polygons without an outer ring are dropped.
// ok is false for any other geometry type.
func ToOrbMultiPolygon(g geom.Geometry) (mp orb.MultiPolygon, ok bool) {
	switch g := g.(type) {
	case geom.Polygon:
		if p := toOrbPolygon(g); p != nil {
			mp = append(mp, p)
		}
		return mp, true
	case *geom.Polygon:
		if g == nil {
			return nil, true
		}
		return ToOrbMultiPolygon(*g)
	case geom.MultiPolygon:
		for _, polygon := range g {
			if p := toOrbPolygon(polygon); p != nil {
				mp = append(mp, p)
			}
		}
		return mp, true
	case *geom.MultiPolygon:
		if g == nil {
			return nil, true
		}
		return ToOrbMultiPolygon(*g)
	default:
		return nil, false
	}
}

func toOrbPolygon(polygon [][][2]float64) orb.Polygon {
	var p orb.Polygon
	for i, ring := range polygon {
		if len(ring) == 0 {
			if i == 0 {
				return nil
			}
			continue
		}
		p = append(p, ToOrbRing(ring))
	}
	return p
}

// ToOrbRing copies a ring, closing it when the last point differs from the first.
func ToOrbRing(ring [][2]float64) orb.Ring {
	r := make(orb.Ring, 0, len(ring)+1)
	for _, pt := range ring {
		r = append(r, orb.Point(pt))
	}
	if len(r) > 0 && r[0] != r[len(r)-1] {
		r = append(r, r[0])
	}
	return r
}

func WktMustEncode(g geom.Geometry, maxLen uint) (s string) {
	p, isPoly := g.(geom.Polygon)
	if !isPoly {
		return wktMustEncodeTruncated(g, maxLen)
	}

	var lines []geom.LineString
	var points []geom.Point
	pp := make(geom.Polygon, len(p))
	copy(pp, p)
	for r := 0; r < len(pp); r++ {
		switch len(pp[r]) {
		default:
			continue
		case 1:
			points = append(points, pp[r][0])
		case 2:
			lines = append(lines, pp[r])
		}
		pp = append(pp[:r], pp[r+1:]...)
		r--
	}

	if len(pp) > 0 {
		s = wktMustEncodeTruncated(pp, maxLen)
	}
	for i := range lines {
		s += wktMustEncodeTruncated(lines[i], maxLen)
	}
	for i := range points {
		s += wktMustEncodeTruncated(points[i], maxLen)
	}
	return s
}

func wktMustEncodeTruncated(geom geom.Geometry, width uint) string {
	if width == 0 {
		return wkt.MustEncode(geom)
	}
	return truncate.StringWithTail(wkt.MustEncode(geom), width, "...")
}
