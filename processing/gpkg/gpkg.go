// Package gpkg reads base cells from and writes sub-cells to GeoPackages.
package gpkg

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/gpkg"

	"github.com/pdok/submesh/corner"
	"github.com/pdok/submesh/grid"
	"github.com/pdok/submesh/mapslicehelp"
	"github.com/pdok/submesh/processing"
)

const (
	fidColumn      = "fid"
	meshCodeColumn = "MESHCODE"
	geometryColumn = "geom"
	extension      = ".gpkg"
)

// ErrNotFound is returned when a layer, column or base cell is not in the source.
var ErrNotFound = errors.New("not found")

// cornerColumns in the order of corner.Corners.Values
var cornerColumns = corner.Header[1:]

type column struct {
	cid       int
	name      string
	ctype     string
	notnull   int
	dfltValue *string
	pk        int
}

type Table struct {
	Name    string
	columns []column
	gcolumn string
	gtype   gpkg.GeometryType
	srs     gpkg.SpatialReferenceSystem
}

// subCellTable describes the output table holding sub-cells.
func subCellTable(name string, srs gpkg.SpatialReferenceSystem) Table {
	columns := []column{
		{name: fidColumn, ctype: "INTEGER", notnull: 1, pk: 1},
		{name: meshCodeColumn, ctype: "TEXT", notnull: 1},
	}
	for _, c := range cornerColumns {
		columns = append(columns, column{name: c, ctype: "REAL", notnull: 1})
	}
	columns = append(columns, column{name: geometryColumn, ctype: "POLYGON"})
	for i := range columns {
		columns[i].cid = i
	}
	return Table{
		Name:    name,
		columns: columns,
		gcolumn: geometryColumn,
		gtype:   gpkg.Polygon,
		srs:     srs,
	}
}

// geometryTypeFromString returns the numeric value of a gometry string
func geometryTypeFromString(geometrytype string) gpkg.GeometryType {
	switch strings.ToUpper(geometrytype) {
	case "GEOMETRY":
		return gpkg.Geometry
	case "POINT":
		return gpkg.Point
	case "LINESTRING":
		return gpkg.Linestring
	case "POLYGON":
		return gpkg.Polygon
	case "MULTIPOINT":
		return gpkg.MultiPoint
	case "MULTILINESTRING":
		return gpkg.MultiLinestring
	case "MULTIPOLYGON":
		return gpkg.MultiPolygon
	case "GEOMETRYCOLLECTION":
		return gpkg.GeometryCollection
	default:
		return gpkg.Geometry
	}
}

type SourceGeopackage struct {
	Table   Table
	idField string
	handle  *gpkg.Handle
}

// NewSourceGeopackage opens the GeoPackage and looks up the layer and its ID field.
func NewSourceGeopackage(file, layer, idField string) (*SourceGeopackage, error) {
	if _, err := os.Stat(file); err != nil {
		return nil, fmt.Errorf("error opening source GeoPackage: %w", err)
	}
	handle, err := gpkg.Open(file)
	if err != nil {
		return nil, fmt.Errorf("error opening source GeoPackage: %w", err)
	}
	source := &SourceGeopackage{idField: idField, handle: handle}
	source.Table, err = getTableInfo(handle, layer)
	if err != nil {
		handle.Close()
		return nil, err
	}
	if !source.Table.polygonal() {
		handle.Close()
		return nil, fmt.Errorf("layer %q holds %s: %w", layer, source.Table.gtype, grid.ErrUnsupportedGeometry)
	}
	if !source.Table.hasColumn(idField) {
		handle.Close()
		return nil, fmt.Errorf("id field %q of layer %q: %w", idField, layer, ErrNotFound)
	}
	return source, nil
}

func (source *SourceGeopackage) Close() error {
	return source.handle.Close()
}

// SRS of the source layer.
func (source *SourceGeopackage) SRS() gpkg.SpatialReferenceSystem {
	return source.Table.srs
}

// BaseCellIDs returns the distinct values of the ID field, in rowid order of their first occurrence.
func (source *SourceGeopackage) BaseCellIDs() ([]string, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY rowid;`, quoteIdentifier(source.idField), quoteIdentifier(source.Table.Name))
	rows, err := source.handle.Query(query)
	if err != nil {
		return nil, fmt.Errorf("error reading base cell ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var v interface{}
		if err = rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("error reading base cell id: %w", err)
		}
		id, err := idToString(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return mapslicehelp.Distinct(ids), nil
}

// SelectBaseCell selects the features with the given ID.
// More than one feature results in a multipolygon.
func (source *SourceGeopackage) SelectBaseCell(id string) (processing.BaseCell, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ? ORDER BY rowid;`,
		quoteIdentifier(source.Table.gcolumn), quoteIdentifier(source.Table.Name), quoteIdentifier(source.idField))
	rows, err := source.handle.Query(query, id)
	if err != nil {
		return processing.BaseCell{}, fmt.Errorf("error selecting base cell %s: %w", id, err)
	}
	defer rows.Close()

	var polygons geom.MultiPolygon
	for rows.Next() {
		var blob []byte
		if err = rows.Scan(&blob); err != nil {
			return processing.BaseCell{}, fmt.Errorf("error reading base cell %s: %w", id, err)
		}
		g, err := decodeGeometry(blob)
		if err != nil {
			return processing.BaseCell{}, fmt.Errorf("error decoding the geometry of base cell %s: %w", id, err)
		}
		switch g := g.(type) {
		case geom.Polygon:
			polygons = append(polygons, g)
		case geom.MultiPolygon:
			polygons = append(polygons, g...)
		case nil:
		default:
			return processing.BaseCell{ID: id, Geometry: g}, nil
		}
	}
	if err = rows.Err(); err != nil {
		return processing.BaseCell{}, err
	}
	switch len(polygons) {
	case 0:
		return processing.BaseCell{}, fmt.Errorf("base cell %s: %w", id, ErrNotFound)
	case 1:
		return processing.BaseCell{ID: id, Geometry: geom.Polygon(polygons[0])}, nil
	default:
		return processing.BaseCell{ID: id, Geometry: polygons}, nil
	}
}

func decodeGeometry(blob []byte) (geom.Geometry, error) {
	if blob == nil {
		return nil, nil
	}
	sb, err := gpkg.DecodeGeometry(blob)
	if err != nil {
		return nil, err
	}
	switch g := sb.Geometry.(type) {
	case *geom.Polygon:
		return *g, nil
	case *geom.MultiPolygon:
		return *g, nil
	default:
		return g, nil
	}
}

func idToString(v interface{}) (string, error) {
	switch v := v.(type) {
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case []byte:
		return string(v), nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("unexpected type for base cell id: %T", v)
	}
}

// TargetGeopackage writes one GeoPackage per output. Outputs are staged in a directory within outputDir
// and moved into outputDir when committed.
type TargetGeopackage struct {
	outputDir  string
	stagingDir string
	srs        gpkg.SpatialReferenceSystem
	pagesize   int
}

// NewTargetGeopackage creates the staging directory .submesh-<runID> in outputDir.
func NewTargetGeopackage(outputDir, runID string, srs gpkg.SpatialReferenceSystem, pagesize int) (*TargetGeopackage, error) {
	if pagesize < 1 {
		return nil, fmt.Errorf("pagesize should be at least 1, got %d", pagesize)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create output directory: %w", err)
	}
	stagingDir := filepath.Join(outputDir, ".submesh-"+runID)
	if err := os.Mkdir(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create staging directory: %w", err)
	}
	return &TargetGeopackage{
		outputDir:  outputDir,
		stagingDir: stagingDir,
		srs:        srs,
		pagesize:   pagesize,
	}, nil
}

// Close removes the staging directory and whatever was staged but not committed.
func (target *TargetGeopackage) Close() error {
	return os.RemoveAll(target.stagingDir)
}

// Path of a committed output.
func (target *TargetGeopackage) Path(name string) string {
	return filepath.Join(target.outputDir, name+extension)
}

func (target *TargetGeopackage) stagedPath(name string) string {
	return filepath.Join(target.stagingDir, name+extension)
}

func (target *TargetGeopackage) ScratchDir() string {
	return target.stagingDir
}

func (target *TargetGeopackage) Exists(name string) (bool, error) {
	_, err := os.Stat(target.Path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (target *TargetGeopackage) Write(name string, subCells []processing.SubCell) error {
	w, err := target.create(name)
	if err != nil {
		return err
	}
	if err = w.writeFeatures(subCells); err != nil {
		_ = w.close()
		return err
	}
	return w.close()
}

func (target *TargetGeopackage) Commit(name string) error {
	return os.Rename(target.stagedPath(name), target.Path(name))
}

// Merge copies the features of the committed outputs, in the given order, into a new output.
func (target *TargetGeopackage) Merge(name string, from []string) (int, error) {
	w, err := target.create(name)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, f := range from {
		subCells, err := readSubCells(target.Path(f), f)
		if err != nil {
			_ = w.close()
			return count, err
		}
		if err = w.writeFeatures(subCells); err != nil {
			_ = w.close()
			return count, err
		}
		count += len(subCells)
	}
	if err = w.close(); err != nil {
		return count, err
	}
	return count, target.Commit(name)
}

func (target *TargetGeopackage) Remove(names []string) error {
	for _, name := range names {
		if err := os.Remove(target.Path(name)); err != nil {
			return err
		}
	}
	return nil
}

// create opens a fresh staged GeoPackage with an empty sub-cell table.
func (target *TargetGeopackage) create(name string) (*writer, error) {
	path := target.stagedPath(name)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	handle, err := gpkg.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening GeoPackage: %w", err)
	}
	table := subCellTable(name, target.srs)
	if err = handle.UpdateSRS(table.srs); err != nil {
		handle.Close()
		return nil, err
	}
	if err = buildTable(handle, table); err != nil {
		handle.Close()
		return nil, err
	}
	return &writer{handle: handle, table: table, pagesize: target.pagesize}, nil
}

type writer struct {
	handle   *gpkg.Handle
	table    Table
	pagesize int
	extent   *geom.Extent
}

// writeFeatures writes the sub-cells in transactions of pagesize features.
func (w *writer) writeFeatures(subCells []processing.SubCell) error {
	for start := 0; start < len(subCells); start += w.pagesize {
		end := start + w.pagesize
		if end > len(subCells) {
			end = len(subCells)
		}
		if err := w.writePage(subCells[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) writePage(subCells []processing.SubCell) error {
	tx, err := w.handle.Begin()
	if err != nil {
		return fmt.Errorf("could not start a transaction: %w", err)
	}
	stmt, err := tx.Prepare(w.table.insertSQL())
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("could not prepare a statement: %w", err)
	}
	defer stmt.Close()

	for _, sc := range subCells {
		sb, err := gpkg.NewBinary(int32(w.table.srs.ID), sc.Geometry)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("could not create a binary geometry: %w", err)
		}
		data := append(sc.Columns(), sb)
		if _, err = stmt.Exec(data...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("could not insert sub-cell %s: %w", sc.MeshCode, err)
		}
		if w.extent == nil {
			w.extent, err = geom.NewExtentFromGeometry(sc.Geometry)
			if err != nil {
				w.extent = nil
			}
		} else {
			w.extent.AddGeometry(sc.Geometry)
		}
	}
	return tx.Commit()
}

func (w *writer) close() error {
	if w.extent != nil {
		if err := w.handle.UpdateGeometryExtent(w.table.Name, w.extent); err != nil {
			w.handle.Close()
			return fmt.Errorf("failed to update extent: %w", err)
		}
	}
	return w.handle.Close()
}

// readSubCells reads the sub-cells from a committed output, in fid order.
func readSubCells(path, name string) ([]processing.SubCell, error) {
	handle, err := gpkg.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening GeoPackage: %w", err)
	}
	defer handle.Close()

	table := subCellTable(name, gpkg.SpatialReferenceSystem{})
	rows, err := handle.Query(table.selectSQL())
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", name, err)
	}
	defer rows.Close()

	var subCells []processing.SubCell
	for rows.Next() {
		var fid int64
		var sc processing.SubCell
		var v [8]float64
		var blob []byte
		if err = rows.Scan(&fid, &sc.MeshCode, &v[0], &v[1], &v[2], &v[3], &v[4], &v[5], &v[6], &v[7], &blob); err != nil {
			return nil, fmt.Errorf("error reading %s: %w", name, err)
		}
		sc.Corners = corner.Corners{
			BL: geom.Point{v[0], v[1]},
			BR: geom.Point{v[2], v[3]},
			TR: geom.Point{v[4], v[5]},
			TL: geom.Point{v[6], v[7]},
		}
		g, err := decodeGeometry(blob)
		if err != nil {
			return nil, fmt.Errorf("error decoding the geometry of %s in %s: %w", sc.MeshCode, name, err)
		}
		p, ok := g.(geom.Polygon)
		if !ok {
			return nil, fmt.Errorf("unexpected geometry of %s in %s: %T", sc.MeshCode, name, g)
		}
		sc.Geometry = p
		subCells = append(subCells, sc)
	}
	return subCells, rows.Err()
}

func getTableInfo(h *gpkg.Handle, layer string) (Table, error) {
	t := Table{Name: layer}
	var gtype string
	var srsID int
	query := `SELECT column_name, geometry_type_name, srs_id FROM gpkg_geometry_columns WHERE table_name = ?;`
	err := h.QueryRow(query, layer).Scan(&t.gcolumn, &gtype, &srsID)
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("layer %q: %w", layer, ErrNotFound)
	}
	if err != nil {
		return t, fmt.Errorf("error reading the source table information: %w", err)
	}
	t.gtype = geometryTypeFromString(gtype)
	if t.columns, err = getTableColumns(h, layer); err != nil {
		return t, err
	}
	if t.srs, err = getSpatialReferenceSystem(h, srsID); err != nil {
		return t, err
	}
	return t, nil
}

// polygonal is true when the declared geometry type of the table allows (multi)polygons.
func (t Table) polygonal() bool {
	switch t.gtype {
	case gpkg.Polygon, gpkg.MultiPolygon, gpkg.Geometry:
		return true
	default:
		return false
	}
}

func (t Table) hasColumn(name string) bool {
	for _, c := range t.columns {
		if c.name == name {
			return true
		}
	}
	return false
}

// createSQL creates a CREATE statement on the given table and column information
// used for creating feature tables in the target Geopackage
func (t Table) createSQL() string {
	create := `CREATE TABLE IF NOT EXISTS ` + quoteIdentifier(t.Name)
	var columnparts []string
	for _, column := range t.columns {
		columnpart := quoteIdentifier(column.name) + ` ` + column.ctype
		if column.pk == 1 {
			columnpart = columnpart + ` PRIMARY KEY AUTOINCREMENT`
		} else if column.notnull == 1 {
			columnpart = columnpart + ` NOT NULL`
		}

		columnparts = append(columnparts, columnpart)
	}

	query := create + `(` + strings.Join(columnparts, `, `) + `);`
	return query
}

// selectSQL build a SELECT statement based on the table and columns
// used for reading features back
func (t Table) selectSQL() string {
	var csql []string
	for _, c := range t.columns {
		csql = append(csql, quoteIdentifier(c.name))
	}
	query := `SELECT ` + strings.Join(csql, `,`) + ` FROM ` + quoteIdentifier(t.Name) + ` ORDER BY ` + quoteIdentifier(fidColumn) + `;`
	return query
}

// insertSQL used for writing the features
// build the INSERT statement based on the table and columns, the primary key is left to the database
func (t Table) insertSQL() string {
	var csql, vsql []string
	for _, c := range t.columns {
		if c.name != t.gcolumn && c.pk != 1 {
			csql = append(csql, quoteIdentifier(c.name))
			vsql = append(vsql, `?`)
		}
	}
	csql = append(csql, quoteIdentifier(t.gcolumn))
	vsql = append(vsql, `?`)
	query := `INSERT INTO ` + quoteIdentifier(t.Name) + `(` + strings.Join(csql, `,`) + `) VALUES(` + strings.Join(vsql, `,`) + `)`
	return query
}

// getSpatialReferenceSystem extracts this based on the given SRS id
func getSpatialReferenceSystem(h *gpkg.Handle, id int) (gpkg.SpatialReferenceSystem, error) {
	var srs gpkg.SpatialReferenceSystem
	query := `SELECT srs_name, srs_id, organization, organization_coordsys_id, definition, description FROM gpkg_spatial_ref_sys WHERE srs_id = ?;`

	var description *string
	err := h.QueryRow(query, id).Scan(&srs.Name, &srs.ID, &srs.Organization, &srs.OrganizationCoordsysID, &srs.Definition, &description)
	if err != nil {
		return srs, fmt.Errorf("error reading spatial reference system %d: %w", id, err)
	}
	if description != nil {
		srs.Description = *description
	}
	return srs, nil
}

// getTableColumns collects the column information of a given table
func getTableColumns(h *gpkg.Handle, table string) ([]column, error) {
	var columns []column
	rows, err := h.Query(`PRAGMA table_info(` + quoteLiteral(table) + `);`)
	if err != nil {
		return nil, fmt.Errorf("error reading the columns of %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var column column
		err := rows.Scan(&column.cid, &column.name, &column.ctype, &column.notnull, &column.dfltValue, &column.pk)
		if err != nil {
			return nil, fmt.Errorf("error getting the column information: %w", err)
		}
		columns = append(columns, column)
	}
	return columns, rows.Err()
}

// quoteIdentifier quotes a table or column name, doubling embedded double quotes.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteLiteral quotes a string literal, doubling embedded single quotes.
func quoteLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

// buildTable creates a given destination table with the necessary gpkg_ information
func buildTable(h *gpkg.Handle, t Table) error {
	_, err := h.Exec(t.createSQL())
	if err != nil {
		return fmt.Errorf("error building table in target GeoPackage: %w", err)
	}

	err = h.AddGeometryTable(gpkg.TableDescription{
		Name:          t.Name,
		ShortName:     t.Name,
		Description:   t.Name,
		GeometryField: t.gcolumn,
		GeometryType:  t.gtype,
		SRS:           int32(t.srs.ID),
		//
		Z: gpkg.Prohibited,
		M: gpkg.Prohibited,
	})
	if err != nil {
		return fmt.Errorf("error adding geometry table in target GeoPackage: %w", err)
	}
	return nil
}
