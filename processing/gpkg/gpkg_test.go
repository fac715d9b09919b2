package gpkg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/gpkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/submesh/corner"
	"github.com/pdok/submesh/grid"
	"github.com/pdok/submesh/intgeom"
	"github.com/pdok/submesh/mesh"
	"github.com/pdok/submesh/processing"
	"github.com/pdok/submesh/processing/geojson"
)

var jgd2011 = gpkg.SpatialReferenceSystem{
	Name:                   "JGD2011",
	ID:                     6668,
	Organization:           "EPSG",
	OrganizationCoordsysID: 6668,
	Definition:             `GEOGCS["JGD2011",DATUM["Japanese_Geodetic_Datum_2011",SPHEROID["GRS 1980",6378137,298.257222101]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]]`,
	Description:            "Japanese Geodetic Datum 2011",
}

type sourceRow struct {
	id       int64
	geometry geom.Polygon
}

func square(minX, minY, size float64) geom.Polygon {
	return geom.Polygon{{{minX, minY}, {minX, minY + size}, {minX + size, minY + size}, {minX + size, minY}}}
}

func createSource(t *testing.T, rows []sourceRow) string {
	t.Helper()
	return createLayer(t, "MESH_ID", gpkg.Polygon, rows)
}

// createLayer creates a GeoPackage with layer mesh3 holding the rows.
func createLayer(t *testing.T, idField string, gtype gpkg.GeometryType, rows []sourceRow) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mesh3.gpkg")
	h, err := gpkg.Open(path)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.UpdateSRS(jgd2011))
	table := Table{
		Name: "mesh3",
		columns: []column{
			{name: "fid", ctype: "INTEGER", pk: 1},
			{name: idField, ctype: "INTEGER"},
			{name: "geom", ctype: gtype.String()},
		},
		gcolumn: "geom",
		gtype:   gtype,
		srs:     jgd2011,
	}
	require.NoError(t, buildTable(h, table))
	insert := `INSERT INTO "mesh3"(` + quoteIdentifier(idField) + `, "geom") VALUES(?, ?)`
	for _, r := range rows {
		sb, err := gpkg.NewBinary(int32(jgd2011.ID), r.geometry)
		require.NoError(t, err)
		_, err = h.Exec(insert, r.id, sb)
		require.NoError(t, err)
	}
	return path
}

func TestSourceGeopackage(t *testing.T) {
	path := createSource(t, []sourceRow{
		{id: 55392701, geometry: square(1, 0, 1)},
		{id: 55392700, geometry: square(0, 0, 1)},
		{id: 55392702, geometry: square(0, 1, 1)},
		{id: 55392702, geometry: square(1, 1, 1)},
	})

	source, err := NewSourceGeopackage(path, "mesh3", "MESH_ID")
	require.NoError(t, err)
	defer source.Close()

	assert.EqualValues(t, 6668, source.SRS().ID)
	assert.Equal(t, gpkg.Polygon, source.Table.gtype)

	ids, err := source.BaseCellIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"55392701", "55392700", "55392702"}, ids)

	cell, err := source.SelectBaseCell("55392700")
	require.NoError(t, err)
	assert.Equal(t, "55392700", cell.ID)
	require.IsType(t, geom.Polygon{}, cell.Geometry)
	extent, ok := intgeom.ExtentOf(cell.Geometry)
	require.True(t, ok)
	assert.Equal(t, intgeom.Extent{0, 0, intgeom.One, intgeom.One}, extent)

	cell, err = source.SelectBaseCell("55392702")
	require.NoError(t, err)
	require.IsType(t, geom.MultiPolygon{}, cell.Geometry)
	assert.Len(t, cell.Geometry.(geom.MultiPolygon), 2)

	_, err = source.SelectBaseCell("12345678")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewSourceGeopackage_errors(t *testing.T) {
	path := createSource(t, nil)

	_, err := NewSourceGeopackage(path, "mesh4", "MESH_ID")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = NewSourceGeopackage(path, "mesh3", "MESHCODE")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = NewSourceGeopackage(filepath.Join(t.TempDir(), "missing.gpkg"), "mesh3", "MESH_ID")
	assert.ErrorIs(t, err, os.ErrNotExist)

	points := createLayer(t, "MESH_ID", gpkg.Point, nil)
	_, err = NewSourceGeopackage(points, "mesh3", "MESH_ID")
	assert.ErrorIs(t, err, grid.ErrUnsupportedGeometry)
	assert.ErrorContains(t, err, "POINT")
}

func TestSourceGeopackage_quotedIDField(t *testing.T) {
	path := createLayer(t, `MESH"ID`, gpkg.MultiPolygon, []sourceRow{
		{id: 55392700, geometry: square(0, 0, 1)},
	})
	source, err := NewSourceGeopackage(path, "mesh3", `MESH"ID`)
	require.NoError(t, err)
	defer source.Close()

	ids, err := source.BaseCellIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"55392700"}, ids)

	cell, err := source.SelectBaseCell("55392700")
	require.NoError(t, err)
	assert.Equal(t, "55392700", cell.ID)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"MESH_ID"`, quoteIdentifier("MESH_ID"))
	assert.Equal(t, `"MESH""ID"`, quoteIdentifier(`MESH"ID`))
	assert.Equal(t, `'mesh3'`, quoteLiteral("mesh3"))
	assert.Equal(t, `'mesh''3'`, quoteLiteral("mesh'3"))
	assert.Equal(t, `SELECT "fid","MESH""CODE" FROM "mesh""3" ORDER BY "fid";`, Table{
		Name:    `mesh"3`,
		columns: []column{{name: "fid", pk: 1}, {name: `MESH"CODE`}},
	}.selectSQL())
}

func TestIDToString(t *testing.T) {
	tests := []struct {
		v       interface{}
		want    string
		wantErr bool
	}{
		{v: int64(55392700), want: "55392700"},
		{v: float64(55392700), want: "55392700"},
		{v: []byte("55392700"), want: "55392700"},
		{v: "55392700", want: "55392700"},
		{v: nil, wantErr: true},
	}
	for _, tt := range tests {
		got, err := idToString(tt.v)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func subCell(meshCode string, pageIndex int, p geom.Polygon) processing.SubCell {
	c, err := corner.Extract(pageIndex, p)
	if err != nil {
		panic(err)
	}
	return processing.SubCell{PageIndex: pageIndex, MeshCode: meshCode, Geometry: p, Corners: c}
}

func TestTargetGeopackage(t *testing.T) {
	outputDir := t.TempDir()
	target, err := NewTargetGeopackage(outputDir, "test", jgd2011, 2)
	require.NoError(t, err)
	assert.DirExists(t, target.ScratchDir())

	first := []processing.SubCell{
		subCell("5539270030000", 1, square(0, 0, 0.5)),
		subCell("5539270030001", 2, square(0.5, 0, 0.5)),
		subCell("5539270030100", 41, square(0, 0.5, 0.5)),
	}
	second := []processing.SubCell{
		subCell("5539270130000", 1, square(1, 0, 0.5)),
	}

	require.NoError(t, target.Write("55392700_25m", first))
	exists, err := target.Exists("55392700_25m")
	require.NoError(t, err)
	assert.False(t, exists, "staged outputs do not exist yet")

	require.NoError(t, target.Commit("55392700_25m"))
	exists, err = target.Exists("55392700_25m")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.FileExists(t, filepath.Join(outputDir, "55392700_25m.gpkg"))

	require.NoError(t, target.Write("55392701_25m", second))
	require.NoError(t, target.Commit("55392701_25m"))

	count, err := target.Merge("25m_MESH", []string{"55392700_25m", "55392701_25m"})
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	merged, err := readSubCells(target.Path("25m_MESH"), "25m_MESH")
	require.NoError(t, err)
	require.Len(t, merged, 4)
	codes := make([]string, 0, len(merged))
	for _, sc := range merged {
		codes = append(codes, sc.MeshCode)
	}
	assert.Equal(t, []string{"5539270030000", "5539270030001", "5539270030100", "5539270130000"}, codes)
	assert.Equal(t, first[2].Corners.Values(), merged[2].Corners.Values())
	extent, ok := intgeom.ExtentOf(merged[3].Geometry)
	require.True(t, ok)
	assert.Equal(t, intgeom.Extent{intgeom.One, 0, intgeom.One + intgeom.Half, intgeom.Half}, extent)

	h, err := gpkg.Open(target.Path("25m_MESH"))
	require.NoError(t, err)
	info, err := getTableInfo(h, "25m_MESH")
	require.NoError(t, err)
	assert.EqualValues(t, 6668, info.srs.ID)
	assert.Equal(t, gpkg.Polygon, info.gtype)
	assert.True(t, info.hasColumn("TL_lat"))
	require.NoError(t, h.Close())

	require.NoError(t, target.Remove([]string{"55392700_25m", "55392701_25m"}))
	assert.NoFileExists(t, filepath.Join(outputDir, "55392700_25m.gpkg"))

	require.NoError(t, target.Write("unfinished", second))
	require.NoError(t, target.Close())
	assert.NoDirExists(t, target.ScratchDir())
	assert.FileExists(t, target.Path("25m_MESH"))
	assert.NoFileExists(t, target.Path("unfinished"))
}

func TestNewTargetGeopackage_pagesize(t *testing.T) {
	_, err := NewTargetGeopackage(t.TempDir(), "test", jgd2011, 0)
	assert.Error(t, err)
}

func TestProcessBaseCells(t *testing.T) {
	path := createSource(t, []sourceRow{
		{id: 55392700, geometry: square(139.7125, 35.6666666667, 0.0125)},
		// no area, no sub-cells
		{id: 55392701, geometry: geom.Polygon{{{139.725, 35.6666666667}, {139.725, 35.675}, {139.725, 35.6666666667}}}},
	})
	source, err := NewSourceGeopackage(path, "mesh3", "MESH_ID")
	require.NoError(t, err)
	defer source.Close()

	outputDir := t.TempDir()
	target, err := NewTargetGeopackage(outputDir, "test", source.SRS(), 500)
	require.NoError(t, err)
	defer target.Close()

	s, err := mesh.NewSubdivision(25)
	require.NoError(t, err)
	summary, err := processing.ProcessBaseCells(source, target, processing.Options{Subdivision: s, Merge: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, "25m_MESH", summary.Merged)

	subCells, err := readSubCells(target.Path("25m_MESH"), "25m_MESH")
	require.NoError(t, err)
	require.Len(t, subCells, 1600)
	assert.Equal(t, "5539270030000", subCells[0].MeshCode)
	assert.Equal(t, "5539270033939", subCells[1599].MeshCode)
	assert.NoFileExists(t, target.Path("55392700_25m"))
}

func TestProcessBaseCells_existingGeoJSON(t *testing.T) {
	path := createSource(t, []sourceRow{
		{id: 55392700, geometry: square(139.7125, 35.6666666667, 0.0125)},
	})
	source, err := NewSourceGeopackage(path, "mesh3", "MESH_ID")
	require.NoError(t, err)
	defer source.Close()

	outputDir := t.TempDir()
	exporter := geojson.NewExporter(outputDir)
	existing := exporter.Path("55392700_25m")
	require.NoError(t, os.WriteFile(existing, []byte("keep"), 0o600))

	target, err := NewTargetGeopackage(outputDir, "test", source.SRS(), 500)
	require.NoError(t, err)
	defer target.Close()

	s, err := mesh.NewSubdivision(25)
	require.NoError(t, err)
	_, err = processing.ProcessBaseCells(source, target, processing.Options{Subdivision: s, Exporter: exporter})
	require.ErrorIs(t, err, processing.ErrOutputExists)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
	assert.NoFileExists(t, target.Path("55392700_25m"))

	_, err = processing.ProcessBaseCells(source, target, processing.Options{Subdivision: s, Exporter: exporter, Overwrite: true})
	require.NoError(t, err)
	data, err = os.ReadFile(existing)
	require.NoError(t, err)
	assert.NotEqual(t, "keep", string(data))
	assert.FileExists(t, target.Path("55392700_25m"))
}
