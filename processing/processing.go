// Package processing takes care of the logistics around subdividing base cells:
// reading them from a Source, writing the sub-cells to a Target and merging the outputs.
// The geometry itself is done by the grid, mesh and corner packages.
package processing

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pdok/submesh/corner"
	"github.com/pdok/submesh/geomhelp"
	"github.com/pdok/submesh/grid"
	"github.com/pdok/submesh/mapslicehelp"
	"github.com/pdok/submesh/mesh"
)

// ErrOutputExists is returned when an output is already there and overwriting is off.
var ErrOutputExists = errors.New("output already exists")

// EngineError is a failure of one of the geometry or feature store operations.
type EngineError struct {
	Op         string
	BaseCellID string
	Err        error
}

func (e *EngineError) Error() string {
	if e.BaseCellID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s base cell %s: %v", e.Op, e.BaseCellID, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

type Options struct {
	Subdivision mesh.Subdivision
	// Merge combines the outputs per base cell into one output and removes them afterwards
	Merge     bool
	Overwrite bool
	// Exporter is optional
	Exporter Exporter
}

// Summary of a run.
type Summary struct {
	Processed int
	Skipped   int
	SubCells  int
	Outputs   []string
	Merged    string
}

// OutputName is the name of the output holding the sub-cells of one base cell.
func OutputName(baseCellID string, s mesh.Subdivision) string {
	return baseCellID + "_" + strconv.Itoa(s.Size) + "m"
}

// MergedOutputName is the name of the output holding the sub-cells of all base cells.
func MergedOutputName(s mesh.Subdivision) string {
	return strconv.Itoa(s.Size) + "m_MESH"
}

// ProcessBaseCells subdivides every base cell of the source, one after the other, in the order of the source.
// The first error aborts the run. Outputs of base cells that were completed before stay.
func ProcessBaseCells(source Source, target Target, opts Options) (Summary, error) {
	var summary Summary
	ids, err := source.BaseCellIDs()
	if err != nil {
		return summary, &EngineError{Op: "enumerate", Err: err}
	}
	log.Info().Int("baseCells", len(ids)).Int("meshSize", opts.Subdivision.Size).Msg("start subdividing")

	if err = checkOutputs(target, ids, opts); err != nil {
		return summary, err
	}

	var all []SubCell
	for _, id := range ids {
		start := time.Now()
		subCells, err := processBaseCell(source, target, id, opts)
		if err != nil {
			return summary, err
		}
		if len(subCells) == 0 {
			summary.Skipped++
			log.Warn().Str("baseCell", id).Msg("no sub-cells, skipped")
			continue
		}
		summary.Processed++
		summary.SubCells += len(subCells)
		summary.Outputs = append(summary.Outputs, OutputName(id, opts.Subdivision))
		if opts.Merge && opts.Exporter != nil {
			all = append(all, subCells...)
		}
		log.Info().
			Str("baseCell", id).
			Int("subCells", len(subCells)).
			Dur("elapsed", time.Since(start)).
			Msg("processed base cell")
	}

	if !opts.Merge || len(summary.Outputs) == 0 {
		return summary, nil
	}
	merged := MergedOutputName(opts.Subdivision)
	start := time.Now()
	count, err := target.Merge(merged, summary.Outputs)
	if err != nil {
		return summary, &EngineError{Op: "merge", Err: err}
	}
	if err = target.Remove(summary.Outputs); err != nil {
		return summary, &EngineError{Op: "remove", Err: err}
	}
	summary.Merged = merged
	summary.Outputs = []string{merged}
	if opts.Exporter != nil {
		if err = opts.Exporter.Export(merged, all); err != nil {
			return summary, &EngineError{Op: "export", Err: err}
		}
	}
	log.Info().
		Str("output", merged).
		Int("subCells", count).
		Dur("elapsed", time.Since(start)).
		Msg("merged outputs")
	return summary, nil
}

// checkOutputs fails before any geometry work when an output would be overwritten without permission.
func checkOutputs(target Target, ids []string, opts Options) error {
	if opts.Overwrite {
		return nil
	}
	names := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		names = append(names, OutputName(id, opts.Subdivision))
	}
	merged := MergedOutputName(opts.Subdivision)
	if opts.Merge {
		names = append(names, merged)
	}
	if err := checkExists(target.Exists, names); err != nil {
		return err
	}
	if opts.Exporter == nil {
		return nil
	}
	// exports are only written for the merged output when merging
	exports := names
	if opts.Merge {
		exports = []string{merged}
	}
	return checkExists(opts.Exporter.Exists, exports)
}

func checkExists(exists func(name string) (bool, error), names []string) error {
	for _, name := range names {
		ok, err := exists(name)
		if err != nil {
			return &EngineError{Op: "check", Err: err}
		}
		if ok {
			return fmt.Errorf("%w: %s", ErrOutputExists, name)
		}
	}
	return nil
}

func processBaseCell(source Source, target Target, id string, opts Options) ([]SubCell, error) {
	s := opts.Subdivision
	cell, err := source.SelectBaseCell(id)
	if err != nil {
		return nil, &EngineError{Op: "select", BaseCellID: id, Err: err}
	}
	if e := log.Debug(); e.Enabled() {
		e.Str("baseCell", id).Str("geometry", geomhelp.WktMustEncode(cell.Geometry, 80)).Msg("selected")
	}

	tiles, err := grid.Partition(cell.Geometry, s.N)
	if err != nil {
		return nil, &EngineError{Op: "partition", BaseCellID: id, Err: err}
	}
	if tiles.Len() == 0 {
		return nil, nil
	}
	log.Debug().Str("baseCell", id).Int("tiles", tiles.Len()).Msg("partitioned")

	joined, err := grid.JoinByCentroid(tiles, []grid.Cell{{ID: cell.ID, Geometry: cell.Geometry}})
	if err != nil {
		return nil, &EngineError{Op: "join", BaseCellID: id, Err: err}
	}

	pageIndices := mapslicehelp.OrderedMapKeys(tiles)
	subCells := make([]SubCell, 0, len(pageIndices))
	for _, pageIndex := range pageIndices {
		tile, _ := tiles.Get(pageIndex)
		row, column := s.RowCol(pageIndex)
		parentID, ok := joined[pageIndex]
		if !ok {
			// centroid within a hole
			parentID = cell.ID
		}
		subCells = append(subCells, SubCell{
			PageIndex: pageIndex,
			Row:       row,
			Column:    column,
			CodeYX:    s.CodeYX(row, column),
			MeshCode:  s.MeshCode(parentID, row, column),
			Geometry:  tile.Polygon(),
		})
	}

	if err = attachCorners(subCells, pageIndices, filepath.Join(target.ScratchDir(), OutputName(id, s)+"_corners.csv")); err != nil {
		return nil, fmt.Errorf("base cell %s: %w", id, err)
	}

	name := OutputName(id, s)
	if err = target.Write(name, subCells); err != nil {
		return nil, &EngineError{Op: "write", BaseCellID: id, Err: err}
	}
	if err = target.Commit(name); err != nil {
		return nil, &EngineError{Op: "commit", BaseCellID: id, Err: err}
	}
	if !opts.Merge && opts.Exporter != nil {
		if err = opts.Exporter.Export(name, subCells); err != nil {
			return nil, &EngineError{Op: "export", BaseCellID: id, Err: err}
		}
	}
	return subCells, nil
}

// attachCorners extracts the corners of the sub-cells, passes them through the corner table at path
// and joins them back onto the sub-cells by page index. The table is removed afterwards.
func attachCorners(subCells []SubCell, pageIndices []int, path string) error {
	extracted := make([]corner.Corners, 0, len(subCells))
	for _, sc := range subCells {
		c, err := corner.Extract(sc.PageIndex, sc.Geometry)
		if err != nil {
			return err
		}
		extracted = append(extracted, c)
	}

	if err := corner.WriteTable(path, extracted); err != nil {
		return err
	}
	defer os.Remove(path)
	table, err := corner.ReadTable(path)
	if err != nil {
		return err
	}
	byPage, err := corner.Join(pageIndices, table)
	if err != nil {
		return err
	}
	for i := range subCells {
		subCells[i].Corners = byPage[subCells[i].PageIndex]
	}
	return nil
}
