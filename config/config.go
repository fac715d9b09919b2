// Package config holds the settings of a run, read from a YAML or JSON file and/or set from the command line.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/perimeterx/marshmallow"
	"gopkg.in/yaml.v3"

	"github.com/pdok/submesh/mapslicehelp"
	"github.com/pdok/submesh/mesh"
)

// Error is a configuration that cannot be used.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return "invalid configuration: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Config struct {
	// Source GeoPackage holding the base cells
	Source string `yaml:"source" json:"source" validate:"required"`
	// SourceLayerName is the table of the base cells
	SourceLayerName string `yaml:"sourceLayerName" json:"sourceLayerName" validate:"required"`
	// IDFieldName is the column holding the base cell ID
	IDFieldName string `yaml:"idFieldName" json:"idFieldName" validate:"required"`
	// MeshSize of the sub-cells in metres
	MeshSize int `yaml:"meshSize" json:"meshSize" default:"25" validate:"oneof=25 5"`
	// OutputPath is the directory the outputs are written to
	OutputPath   string `yaml:"outputPath" json:"outputPath" validate:"required"`
	MergeOutputs bool   `yaml:"mergeOutputs" json:"mergeOutputs"`
	Overwrite    bool   `yaml:"overwrite" json:"overwrite"`
	// Pagesize is the number of features written per transaction
	Pagesize int    `yaml:"pagesize" json:"pagesize" default:"1000" validate:"min=1"`
	GeoJSON  bool   `yaml:"geojson" json:"geojson"`
	LogLevel string `yaml:"logLevel" json:"logLevel" default:"info" validate:"oneof=debug info warn error"`
}

// New returns a configuration with the defaults set.
func New() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(err)
	}
	return cfg
}

// Load reads a configuration file. Unknown keys are an error.
// The result is not validated yet, flags may still complete it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := New()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = unmarshalYAML(data, cfg)
	case ".json":
		err = unmarshalJSON(data, cfg)
	default:
		err = fmt.Errorf("unsupported configuration file %s, use .yaml, .yml or .json", path)
	}
	if err != nil {
		return nil, &Error{Err: err}
	}
	return cfg, nil
}

func unmarshalYAML(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	err := decoder.Decode(cfg)
	if errors.Is(err, io.EOF) {
		// empty file
		return nil
	}
	return err
}

func unmarshalJSON(data []byte, cfg *Config) error {
	unknown, err := marshmallow.Unmarshal(data, cfg, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown keys: %s", strings.Join(mapslicehelp.SortedKeys(unknown), ", "))
	}
	return nil
}

// Validate checks the configuration before any geometry work starts.
func (c *Config) Validate() error {
	if _, err := c.Subdivision(); err != nil {
		return &Error{Err: err}
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return &Error{Err: err}
	}
	if _, err := os.Stat(c.Source); err != nil {
		return &Error{Err: fmt.Errorf("source: %w", err)}
	}
	return nil
}

// Subdivision that goes with the mesh size.
func (c *Config) Subdivision() (mesh.Subdivision, error) {
	return mesh.NewSubdivision(c.MeshSize)
}
