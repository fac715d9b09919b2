// Package corner extracts the four corner coordinates of a sub-cell
// and exchanges them with the rest of the pipeline through a delimited text table.
package corner

import (
	"fmt"

	"github.com/go-spatial/geom"
)

// MinVertices is the number of ring vertices needed to name the four corners.
const MinVertices = 4

// Corners of one sub-cell, as lon/lat.
type Corners struct {
	PageIndex int
	BL        geom.Point
	BR        geom.Point
	TR        geom.Point
	TL        geom.Point
}

// Values returns the corners in column order: BL, BR, TR, TL, each lon then lat.
func (c Corners) Values() []float64 {
	return []float64{c.BL[0], c.BL[1], c.BR[0], c.BR[1], c.TR[0], c.TR[1], c.TL[0], c.TL[1]}
}

// DataIntegrityError is returned when a sub-cell does not have the shape or key it should have.
type DataIntegrityError struct {
	PageIndex int
	Vertices  int
	Reason    string
}

func (e *DataIntegrityError) Error() string {
	if e.Vertices > 0 {
		return fmt.Sprintf("sub-cell %d: %s (%d vertices)", e.PageIndex, e.Reason, e.Vertices)
	}
	return fmt.Sprintf("sub-cell %d: %s", e.PageIndex, e.Reason)
}

// Extract maps the first four vertices of the outer ring to the corners:
// 1st bottom left, 2nd top left, 3rd top right, 4th bottom right.
// Vertices after the fourth (the closing vertex) are ignored.
func Extract(pageIndex int, g geom.Geometry) (Corners, error) {
	var ring [][2]float64
	switch p := g.(type) {
	case geom.Polygon:
		if len(p) > 0 {
			ring = p[0]
		}
	case *geom.Polygon:
		if p != nil && len(*p) > 0 {
			ring = (*p)[0]
		}
	default:
		return Corners{}, &DataIntegrityError{PageIndex: pageIndex, Reason: fmt.Sprintf("expected a polygon, got %T", g)}
	}
	if len(ring) < MinVertices {
		return Corners{}, &DataIntegrityError{PageIndex: pageIndex, Vertices: len(ring), Reason: "not enough vertices for four corners"}
	}
	return Corners{
		PageIndex: pageIndex,
		BL:        ring[0],
		TL:        ring[1],
		TR:        ring[2],
		BR:        ring[3],
	}, nil
}

// Join indexes the table by page index and checks that every page index asked for is in it exactly once.
func Join(pageIndices []int, table []Corners) (map[int]Corners, error) {
	byPage := make(map[int]Corners, len(table))
	for _, c := range table {
		if _, dup := byPage[c.PageIndex]; dup {
			return nil, &DataIntegrityError{PageIndex: c.PageIndex, Reason: "page index occurs more than once in the corner table"}
		}
		byPage[c.PageIndex] = c
	}
	for _, pageIndex := range pageIndices {
		if _, ok := byPage[pageIndex]; !ok {
			return nil, &DataIntegrityError{PageIndex: pageIndex, Reason: "page index missing from the corner table"}
		}
	}
	return byPage, nil
}
