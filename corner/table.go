package corner

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/go-spatial/geom"

	"github.com/pdok/submesh/intgeom"
)

// Decimals written per ordinate. Equal to the fixed-point precision, so reading a table back is lossless.
const Decimals = intgeom.Precision

// Header of the corner table.
var Header = []string{"PNo", "BL_lon", "BL_lat", "BR_lon", "BR_lat", "TR_lon", "TR_lat", "TL_lon", "TL_lat"}

// ErrMalformedTable is returned when a corner table cannot be read back.
var ErrMalformedTable = errors.New("malformed corner table")

// WriteTable writes the corner table to a file, replacing it if it exists.
func WriteTable(path string, corners []Corners) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = Write(f, corners); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadTable reads a corner table from a file.
func ReadTable(path string) ([]Corners, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Write writes the header and one record per sub-cell.
func Write(w io.Writer, corners []Corners) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	record := make([]string, len(Header))
	for _, c := range corners {
		record[0] = strconv.Itoa(c.PageIndex)
		for i, v := range c.Values() {
			record[i+1] = intgeom.PrintWithDecimals(intgeom.FromGeomOrd(v), Decimals)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read reads what Write wrote.
func Read(r io.Reader) ([]Corners, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: no header", ErrMalformedTable)
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformedTable, err)
	}
	for i, name := range Header {
		if header[i] != name {
			return nil, fmt.Errorf("%w: column %d is %q, expected %q", ErrMalformedTable, i+1, header[i], name)
		}
	}

	var corners []Corners
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedTable, err)
		}
		c, err := parseRecord(record)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedTable, line, err)
		}
		corners = append(corners, c)
	}
	return corners, nil
}

func parseRecord(record []string) (Corners, error) {
	pageIndex, err := strconv.Atoi(record[0])
	if err != nil {
		return Corners{}, err
	}
	var v [8]float64
	for i := range v {
		o, err := intgeom.ParseWithDecimals(record[i+1])
		if err != nil {
			return Corners{}, err
		}
		v[i] = intgeom.ToGeomOrd(o)
	}
	return Corners{
		PageIndex: pageIndex,
		BL:        geom.Point{v[0], v[1]},
		BR:        geom.Point{v[2], v[3]},
		TR:        geom.Point{v[4], v[5]},
		TL:        geom.Point{v[6], v[7]},
	}, nil
}
