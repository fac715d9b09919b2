// Package grid lays a regular N×N raster over the bounding box of a base cell
// and keeps the tiles that actually cover a part of the base cell.
package grid

import (
	"errors"
	"fmt"

	"github.com/go-spatial/geom"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/pdok/submesh/geomhelp"
	"github.com/pdok/submesh/intgeom"
	"github.com/pdok/submesh/mesh"
)

// ErrUnsupportedGeometry is returned for anything that is not a (multi)polygon.
var ErrUnsupportedGeometry = errors.New("unsupported geometry type")

// minOverlapRatio is the fraction of a tile that has to be covered for the tile to be kept.
// Slivers below it are rounding noise from tiles touching the outline or a hole along an edge.
const minOverlapRatio = 1e-9

// Tile is one rectangle of the raster.
type Tile struct {
	PageIndex int
	Row       int
	Column    int
	Extent    intgeom.Extent
}

// Tiles are the retained tiles keyed by page index, in raster order.
type Tiles = orderedmap.OrderedMap[int, Tile]

// Polygon returns the tile as a polygon with one (unclosed) ring,
// clockwise starting bottom left: BL, TL, TR, BR.
func (t Tile) Polygon() geom.Polygon {
	return geom.Polygon{t.Extent.ClockwiseRing()}
}

// Centroid returns the center of the tile.
func (t Tile) Centroid() geom.Point {
	return t.Extent.Centroid().ToGeomPoint()
}

func (t Tile) bound() orb.Bound {
	e := t.Extent.ToGeomExtent()
	return orb.Bound{Min: orb.Point{e[0], e[1]}, Max: orb.Point{e[2], e[3]}}
}

// Partition divides the bounding box of g in n columns and n rows of identical size
// and returns the tiles whose overlap with g has a positive area.
// Page 1 is the bottom left tile, page indices increase along a row first and then upwards.
// Tiles within a hole of g, or only touching g, are left out.
// An empty geometry yields no tiles.
func Partition(g geom.Geometry, n int) (*Tiles, error) {
	if n < 1 {
		return nil, fmt.Errorf("grid needs at least one row and column, got %d", n)
	}
	mp, ok := geomhelp.ToOrbMultiPolygon(g)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedGeometry, g)
	}
	tiles := orderedmap.New[int, Tile](orderedmap.WithCapacity[int, Tile](n * n))
	if len(mp) == 0 {
		return tiles, nil
	}
	extent, ok := intgeom.ExtentOf(g)
	if !ok || extent.IsEmpty() {
		return tiles, nil
	}
	dx, dy := extent.XSpan()/int64(n), extent.YSpan()/int64(n)
	if dx == 0 || dy == 0 {
		return tiles, nil
	}

	for row := 1; row <= n; row++ {
		minY := extent.MinY() + int64(row-1)*dy
		for column := 1; column <= n; column++ {
			minX := extent.MinX() + int64(column-1)*dx
			tile := Tile{
				PageIndex: mesh.PageIndex(row, column, n),
				Row:       row,
				Column:    column,
				Extent:    intgeom.Extent{minX, minY, minX + dx, minY + dy},
			}
			if covers(mp, tile) {
				tiles.Set(tile.PageIndex, tile)
			}
		}
	}
	return tiles, nil
}

func covers(mp orb.MultiPolygon, tile Tile) bool {
	return overlapArea(mp, tile.bound()) > minOverlapRatio*geomhelp.Area(tile.Polygon())
}

// overlapArea is the area of mp within b, holes excluded.
func overlapArea(mp orb.MultiPolygon, b orb.Bound) float64 {
	area := 0.
	for _, p := range mp {
		if !p.Bound().Intersects(b) {
			continue
		}
		// clip uses its input as scratch space
		clipped := clip.Polygon(b, p.Clone())
		if clipped == nil {
			continue
		}
		area += planar.Area(clipped)
	}
	return area
}

// Cell is a polygon tiles can be joined to.
type Cell struct {
	ID       string
	Geometry geom.Geometry
}

// JoinByCentroid returns, per page index, the ID of the first cell containing the centroid of the tile.
// A centroid on the outer boundary of a cell counts as inside, one on the boundary of a hole does not.
// Tiles whose centroid is in none of the cells are absent from the result.
func JoinByCentroid(tiles *Tiles, cells []Cell) (map[int]string, error) {
	polygons := make([]orb.MultiPolygon, len(cells))
	bounds := make([]orb.Bound, len(cells))
	for i, cell := range cells {
		mp, ok := geomhelp.ToOrbMultiPolygon(cell.Geometry)
		if !ok {
			return nil, fmt.Errorf("%w: cell %s is a %T", ErrUnsupportedGeometry, cell.ID, cell.Geometry)
		}
		polygons[i] = mp
		if len(mp) > 0 {
			bounds[i] = mp.Bound()
		}
	}

	joined := make(map[int]string, tiles.Len())
	for pair := tiles.Oldest(); pair != nil; pair = pair.Next() {
		centroid := orb.Point(pair.Value.Centroid())
		for i, mp := range polygons {
			if len(mp) == 0 || !bounds[i].Contains(centroid) {
				continue
			}
			if planar.MultiPolygonContains(mp, centroid) {
				joined[pair.Key] = cells[i].ID
				break
			}
		}
	}
	return joined, nil
}
