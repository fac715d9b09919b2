// Package geojson exports sub-cells as a GeoJSON FeatureCollection.
package geojson

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"

	"github.com/pdok/submesh/corner"
	"github.com/pdok/submesh/geomhelp"
	"github.com/pdok/submesh/processing"
)

const extension = ".geojson"

// Exporter writes <name>.geojson files into a directory.
type Exporter struct {
	outputDir string
}

func NewExporter(outputDir string) *Exporter {
	return &Exporter{outputDir: outputDir}
}

// Path of the exported file.
func (e *Exporter) Path(name string) string {
	return filepath.Join(e.outputDir, name+extension)
}

// Exists reports whether <name>.geojson is present in the output directory.
func (e *Exporter) Exists(name string) (bool, error) {
	_, err := os.Stat(e.Path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Export writes one feature per sub-cell carrying MESHCODE and the corner coordinates.
// The file appears in place only when completely written.
func (e *Exporter) Export(name string, subCells []processing.SubCell) error {
	fc, err := FeatureCollection(subCells)
	if err != nil {
		return err
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(e.outputDir, "."+name+"-*"+extension)
	if err != nil {
		return err
	}
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return err
	}
	if err = f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return err
	}
	if err = os.Rename(f.Name(), e.Path(name)); err != nil {
		_ = os.Remove(f.Name())
		return err
	}
	log.Debug().Str("path", e.Path(name)).Int("features", len(fc.Features)).Msg("exported GeoJSON")
	return nil
}

// FeatureCollection converts the sub-cells to GeoJSON features, rings closed.
func FeatureCollection(subCells []processing.SubCell) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	for _, sc := range subCells {
		mp, _ := geomhelp.ToOrbMultiPolygon(sc.Geometry)
		if len(mp) != 1 {
			return nil, fmt.Errorf("sub-cell %s has no polygon", sc.MeshCode)
		}
		f := geojson.NewFeature(mp[0])
		f.Properties["MESHCODE"] = sc.MeshCode
		for i, v := range sc.Corners.Values() {
			f.Properties[corner.Header[i+1]] = v
		}
		fc.Append(f)
	}
	return fc, nil
}
