package core

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"depotci/internal/errs"
)

// Format is a pipeline document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// document is the on-disk layout. The sections may sit at the top level or
// under a [pipeline] table.
type document struct {
	SCMs     map[string]map[string]interface{} `yaml:"scms" toml:"scms"`
	Actions  []map[string]interface{}          `yaml:"actions" toml:"actions"`
	Pipeline *struct {
		SCMs    map[string]map[string]interface{} `yaml:"scms" toml:"scms"`
		Actions []map[string]interface{}          `yaml:"actions" toml:"actions"`
	} `yaml:"pipeline" toml:"pipeline"`
}

// FormatOf picks the format from a file extension. Anything that is not
// .toml is read as YAML.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// ParsePipeline parses a pipeline document.
func ParsePipeline(data []byte, format Format) (*Definition, error) {
	var doc document
	switch format {
	case FormatTOML:
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
			return nil, errs.Wrap(errs.CodeConfiguration, err, "parse pipeline")
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, errs.Wrap(errs.CodeConfiguration, err, "parse pipeline")
		}
	default:
		return nil, errs.Configf("unsupported pipeline format %q", format)
	}

	if doc.Pipeline != nil {
		if doc.SCMs != nil || doc.Actions != nil {
			return nil, errs.Configf("pipeline sections must be either top level or under \"pipeline\", not both")
		}
		doc.SCMs, doc.Actions = doc.Pipeline.SCMs, doc.Pipeline.Actions
	}

	def := &Definition{SCMs: doc.SCMs}
	if def.SCMs == nil {
		def.SCMs = map[string]map[string]interface{}{}
	}
	for i, raw := range doc.Actions {
		spec, err := actionFromMap(i, raw)
		if err != nil {
			return nil, err
		}
		def.Actions = append(def.Actions, spec)
	}
	return def, nil
}

// LoadPipeline reads and parses the pipeline file at path.
func LoadPipeline(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.CodeConfiguration, err, "read pipeline")
	}
	return ParsePipeline(data, FormatOf(path))
}
