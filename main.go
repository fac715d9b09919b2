package main

import (
	"os"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/google/uuid"
	"github.com/iancoleman/strcase"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/pdok/submesh/config"
	"github.com/pdok/submesh/logging"
	"github.com/pdok/submesh/processing"
	"github.com/pdok/submesh/processing/geojson"
	"github.com/pdok/submesh/processing/gpkg"
)

const CONFIG string = `config`
const SOURCE string = `source`
const LAYER string = `layer`
const IDFIELD string = `idField`
const MESHSIZE string = `meshSize`
const OUTPUT string = `output`
const MERGE string = `merge`
const OVERWRITE string = `overwrite`
const PAGESIZE string = `pagesize`
const GEOJSON string = `geojson`
const LOGLEVEL string = `logLevel`

func main() {
	_ = logging.Setup("info")
	if _, err := os.Stat(".env"); err == nil {
		if err = godotenv.Load(); err != nil {
			log.Fatal().Err(err).Msg("could not load .env")
		}
	}

	app := newApp()
	app.Action = run

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal().Err(err).Msg("subdividing failed")
	}
}

//nolint:funlen
func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "submesh"
	app.Usage = "Subdivides third-level mesh polygons into 25m or 5m sub-meshes with mesh codes and corner coordinates"
	app.Version = versioninfo.Short()

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:     CONFIG,
			Aliases:  []string{"c"},
			Usage:    "Configuration file (.yaml, .yml or .json). Flags override its values",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(CONFIG)},
		},
		&cli.StringFlag{
			Name:     SOURCE,
			Aliases:  []string{"s"},
			Usage:    "Source GPKG with the third-level meshes",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(SOURCE)},
		},
		&cli.StringFlag{
			Name:     LAYER,
			Aliases:  []string{"l"},
			Usage:    "Layer (table) in the source GPKG with the third-level meshes",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(LAYER)},
		},
		&cli.StringFlag{
			Name:     IDFIELD,
			Aliases:  []string{"i"},
			Usage:    "Field holding the third-level mesh ID. E.g.: MESH3_ID",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(IDFIELD)},
		},
		&cli.IntFlag{
			Name:     MESHSIZE,
			Aliases:  []string{"m"},
			Usage:    "Size of the sub-meshes in metres: 25 or 5 (default 25)",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(MESHSIZE)},
		},
		&cli.StringFlag{
			Name:     OUTPUT,
			Aliases:  []string{"o"},
			Usage:    "Output directory. One GPKG per third-level mesh will be created, named <ID>_<size>m.gpkg",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(OUTPUT)},
		},
		&cli.BoolFlag{
			Name:     MERGE,
			Usage:    "Merge the outputs per third-level mesh into <size>m_MESH.gpkg",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(MERGE)},
		},
		&cli.BoolFlag{
			Name:     OVERWRITE,
			Usage:    "Overwrite outputs that exist",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(OVERWRITE)},
		},
		&cli.IntFlag{
			Name:     PAGESIZE,
			Aliases:  []string{"p"},
			Usage:    "Page Size, how many features are written per transaction to a target GPKG (default 1000)",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(PAGESIZE)},
		},
		&cli.BoolFlag{
			Name:     GEOJSON,
			Usage:    "Also write the outputs as GeoJSON",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(GEOJSON)},
		},
		&cli.StringFlag{
			Name:     LOGLEVEL,
			Usage:    "debug, info, warn or error (default info)",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(LOGLEVEL)},
		},
	}
	return app
}

func run(c *cli.Context) error {
	cfg, err := configFromContext(c)
	if err != nil {
		return err
	}
	if err = logging.Setup(cfg.LogLevel); err != nil {
		return err
	}
	if err = cfg.Validate(); err != nil {
		return err
	}
	subdivision, err := cfg.Subdivision()
	if err != nil {
		return err
	}

	source, err := gpkg.NewSourceGeopackage(cfg.Source, cfg.SourceLayerName, cfg.IDFieldName)
	if err != nil {
		return err
	}
	defer source.Close()

	runID := uuid.NewString()
	target, err := gpkg.NewTargetGeopackage(cfg.OutputPath, runID, source.SRS(), cfg.Pagesize)
	if err != nil {
		return err
	}
	defer func() {
		if err := target.Close(); err != nil {
			log.Error().Err(err).Str("dir", target.ScratchDir()).Msg("could not remove staging directory")
		}
	}()

	opts := processing.Options{
		Subdivision: subdivision,
		Merge:       cfg.MergeOutputs,
		Overwrite:   cfg.Overwrite,
	}
	if cfg.GeoJSON {
		opts.Exporter = geojson.NewExporter(cfg.OutputPath)
	}

	start := time.Now()
	log.Info().Str("run", runID).Str("source", cfg.Source).Str("layer", cfg.SourceLayerName).Msg("=== start subdividing ===")
	summary, err := processing.ProcessBaseCells(source, target, opts)
	if err != nil {
		return err
	}
	log.Info().
		Int("processed", summary.Processed).
		Int("skipped", summary.Skipped).
		Int("subCells", summary.SubCells).
		Strs("outputs", summary.Outputs).
		Dur("elapsed", time.Since(start)).
		Msg("=== done subdividing ===")
	return nil
}

// configFromContext loads the configuration file, if any, and lets the flags that are set override it.
func configFromContext(c *cli.Context) (*config.Config, error) {
	cfg := config.New()
	if path := c.String(CONFIG); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	stringFlags := map[string]*string{
		SOURCE:   &cfg.Source,
		LAYER:    &cfg.SourceLayerName,
		IDFIELD:  &cfg.IDFieldName,
		OUTPUT:   &cfg.OutputPath,
		LOGLEVEL: &cfg.LogLevel,
	}
	for name, field := range stringFlags {
		if c.IsSet(name) {
			*field = c.String(name)
		}
	}
	intFlags := map[string]*int{
		MESHSIZE: &cfg.MeshSize,
		PAGESIZE: &cfg.Pagesize,
	}
	for name, field := range intFlags {
		if c.IsSet(name) {
			*field = c.Int(name)
		}
	}
	boolFlags := map[string]*bool{
		MERGE:     &cfg.MergeOutputs,
		OVERWRITE: &cfg.Overwrite,
		GEOJSON:   &cfg.GeoJSON,
	}
	for name, field := range boolFlags {
		if c.IsSet(name) {
			*field = c.Bool(name)
		}
	}
	return cfg, nil
}
