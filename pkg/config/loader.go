package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/fusionctl/fusionctl/pkg/engine"
)

// Format is a declaration file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatCUE  Format = "cue"
)

// FormatFor returns the format implied by a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported declaration format %q (want .json, .yaml, .yml, .toml or .cue)", filepath.Ext(path))
	}
}

// Loader reads declaration files of any supported format, validates them and
// decodes them into a Declaration.
type Loader struct {
	cue      *cue.Context
	validate *validator.Validate
	schema   *jsonschema.Schema
	logger   zerolog.Logger
}

// NewLoader creates a loader with the embedded declaration schema.
func NewLoader(logger zerolog.Logger) (*Loader, error) {
	schema, err := compileDeclarationSchema()
	if err != nil {
		return nil, err
	}
	return &Loader{
		cue:      cuecontext.New(),
		validate: validator.New(),
		schema:   schema,
		logger:   logger.With().Str("component", "config").Logger(),
	}, nil
}

// Load reads and validates the declaration at path. Relative "files"
// directories are resolved against the directory containing path.
func (l *Loader) Load(path string) (*Declaration, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, invalid(path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, invalid(path, err)
	}
	return l.Parse(data, format, path)
}

// Parse decodes data in the given format. source names the file for error
// messages and for resolving relative "files" directories; it may be empty.
func (l *Loader) Parse(data []byte, format Format, source string) (*Declaration, error) {
	doc, err := l.decode(data, format, source)
	if err != nil {
		return nil, invalid(source, err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}

	doc, err = engine.Normalize(doc)
	if err != nil {
		return nil, invalid(source, err)
	}

	if err := validateDocument(l.schema, doc, source); err != nil {
		return nil, invalid(source, err)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, invalid(source, err)
	}
	var decl Declaration
	if err := json.Unmarshal(raw, &decl); err != nil {
		return nil, invalid(source, err)
	}

	if err := l.validate.Struct(&decl); err != nil {
		return nil, invalid(source, err)
	}

	decl.Source = source
	if source != "" {
		base := filepath.Dir(source)
		for name, cc := range decl.Collections {
			if cc.Files != "" && !filepath.IsAbs(cc.Files) {
				cc.Files = filepath.Join(base, cc.Files)
				decl.Collections[name] = cc
			}
		}
	}

	l.logger.Debug().
		Str("source", source).
		Str("format", string(format)).
		Int("collections", len(decl.Collections)).
		Int("query_pipelines", len(decl.QueryPipelines)).
		Int("index_pipelines", len(decl.IndexPipelines)).
		Msg("Declaration loaded")

	return &decl, nil
}

// decode parses data into a generic document.
func (l *Loader) decode(data []byte, format Format, source string) (interface{}, error) {
	var doc interface{}
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	case FormatTOML:
		var m map[string]interface{}
		if _, err := toml.Decode(string(data), &m); err != nil {
			return nil, err
		}
		doc = m
	case FormatCUE:
		opts := []cue.BuildOption{}
		if source != "" {
			opts = append(opts, cue.Filename(source))
		}
		val := l.cue.CompileBytes(data, opts...)
		if err := val.Err(); err != nil {
			return nil, convertCUEErrors(err)
		}
		if err := val.Validate(cue.Concrete(true)); err != nil {
			return nil, convertCUEErrors(err)
		}
		if err := val.Decode(&doc); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported declaration format %q", format)
	}
	return doc, nil
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{Message: cueerrors.Details(e, nil)}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	return out
}

func invalid(source string, err error) error {
	e := engine.NewConfigurationError("invalid declaration", err).WithCode(engine.ErrCodeInvalidConfig)
	if source != "" {
		e = e.WithResource(source)
	}
	return e
}
