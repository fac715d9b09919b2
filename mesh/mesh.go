// Package mesh holds the arithmetic of the sub-mesh codes:
// which subdivisions exist, how a page index maps to a row and column,
// and how a row and column end up in a mesh code.
package mesh

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/pdok/submesh/mathhelp"
)

// ErrUnsupportedSize is returned for a sub-mesh size other than 25 or 5 metres.
var ErrUnsupportedSize = errors.New("unsupported mesh size")

// Subdivision describes how a third-level mesh (base cell) is subdivided.
type Subdivision struct {
	// Size of a sub-cell in metres
	Size int
	// N is the number of rows and the number of columns
	N int
	// SplitMarker is the level indicator embedded in the mesh code
	SplitMarker int
}

var subdivisions = map[int]Subdivision{
	25: {Size: 25, N: 40, SplitMarker: 3},
	5:  {Size: 5, N: 200, SplitMarker: 2},
}

// NewSubdivision returns the subdivision for a sub-mesh size in metres.
func NewSubdivision(size int) (Subdivision, error) {
	s, ok := subdivisions[size]
	if !ok {
		return Subdivision{}, fmt.Errorf("%w: %d (use one of %v)", ErrUnsupportedSize, size, SupportedSizes())
	}
	return s, nil
}

// SupportedSizes lists the valid sub-mesh sizes, largest first.
func SupportedSizes() []int {
	return []int{25, 5}
}

// PadWidth is the number of digits used for the row and the column in the YX code.
func (s Subdivision) PadWidth() int {
	return PadWidth(s.N)
}

// CodeYX see CodeYX
func (s Subdivision) CodeYX(row, column int) string {
	return CodeYX(row, column, s.N)
}

// MeshCode see MeshCode
func (s Subdivision) MeshCode(parentID string, row, column int) string {
	return MeshCode(parentID, s.SplitMarker, CodeYX(row, column, s.N))
}

// RowCol see RowCol
func (s Subdivision) RowCol(pageIndex int) (row, column int) {
	return RowCol(pageIndex, s.N)
}

// PadWidth is the number of digits needed to write the largest zero-based row or column (n-1).
// 2 for n = 40, 3 for n = 200.
func PadWidth(n int) int {
	return mathhelp.NumDigits(n - 1)
}

// RowCol maps a 1-based page index (raster order, row-major, bottom to top) to a 1-based row and column.
// At exact multiples of n the plain modulo gives column 0 and a row that is one too high,
// both are corrected so the last column of a row is n.
func RowCol(pageIndex, n int) (row, column int) {
	column = pageIndex % n
	if column == 0 {
		column = n
	}
	row = pageIndex/n + 1
	if column == n {
		row--
	}
	return row, column
}

// PageIndex is the inverse of RowCol.
func PageIndex(row, column, n int) int {
	return (row-1)*n + column
}

// CodeYX returns the zero-padded zero-based row followed by the zero-padded zero-based column.
func CodeYX(row, column, n int) string {
	w := PadWidth(n)
	return zeroPad(mathhelp.EuclidianMod(row-1, n), w) + zeroPad(mathhelp.EuclidianMod(column-1, n), w)
}

// MeshCode concatenates the parent mesh ID, the split marker and the YX code.
func MeshCode(parentID string, splitMarker int, codeYX string) string {
	return parentID + strconv.Itoa(splitMarker) + codeYX
}

func zeroPad(v, width int) string {
	return fmt.Sprintf("%0*d", width, v)
}
