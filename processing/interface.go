package processing

import (
	"github.com/go-spatial/geom"

	"github.com/pdok/submesh/corner"
)

// BaseCell is a third-level mesh polygon that gets subdivided.
type BaseCell struct {
	ID       string
	Geometry geom.Geometry
}

// SubCell is one retained tile of a base cell.
type SubCell struct {
	PageIndex int
	Row       int
	Column    int
	CodeYX    string
	MeshCode  string
	Geometry  geom.Polygon
	Corners   corner.Corners
}

// Columns returns the attribute values in output column order: MESHCODE and the eight corner ordinates.
func (s SubCell) Columns() []interface{} {
	c := make([]interface{}, 0, 9)
	c = append(c, s.MeshCode)
	for _, v := range s.Corners.Values() {
		c = append(c, v)
	}
	return c
}

type Source interface {
	// BaseCellIDs enumerates the IDs of all base cells, in processing order.
	BaseCellIDs() ([]string, error)
	SelectBaseCell(id string) (BaseCell, error)
}

type Target interface {
	// Exists reports whether a committed output with this name is present.
	Exists(name string) (bool, error)
	// Write stages an output holding the sub-cells.
	Write(name string, subCells []SubCell) error
	// Commit moves a staged output into place, replacing an existing one.
	Commit(name string) error
	// Merge stages and commits one output holding the features of the committed outputs, in order.
	Merge(name string, from []string) (int, error)
	// Remove deletes committed outputs.
	Remove(names []string) error
	// ScratchDir is where intermediate files of the run can be written.
	ScratchDir() string
}

// Exporter writes a copy of an output in another format.
type Exporter interface {
	// Exists reports whether an export with this name is present.
	Exists(name string) (bool, error)
	Export(name string, subCells []SubCell) error
}
