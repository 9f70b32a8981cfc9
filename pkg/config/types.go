package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fusionctl/fusionctl/pkg/engine"
)

// Declaration is the desired state of a server: collections plus query and
// index pipelines. A nil field means "not declared" and is left untouched.
type Declaration struct {
	// Collections maps collection names to their configuration.
	Collections map[string]CollectionConfig `json:"collections,omitempty" yaml:"collections,omitempty" validate:"dive,keys,required,endkeys"`

	// QueryPipelines are the desired query pipelines, keyed by "id".
	QueryPipelines []engine.Descriptor `json:"queryPipelines,omitempty" yaml:"queryPipelines,omitempty" validate:"omitempty,dive,required"`

	// IndexPipelines are the desired index pipelines, keyed by "id".
	IndexPipelines []engine.Descriptor `json:"indexPipelines,omitempty" yaml:"indexPipelines,omitempty" validate:"omitempty,dive,required"`

	// Source is the file the declaration was loaded from.
	Source string `json:"-" yaml:"-"`
}

// CollectionConfig is the desired configuration of one collection.
type CollectionConfig struct {
	// Collection is the body used to create the collection when it is missing.
	// When empty, a single-shard, single-replica collection is created.
	Collection engine.Descriptor `json:"collection,omitempty" yaml:"collection,omitempty"`

	// Schema lists field types and fields to add or replace.
	Schema *SchemaConfig `json:"schema,omitempty" yaml:"schema,omitempty"`

	// Files is a directory whose regular files are synced to the solr-config.
	// Relative paths are resolved against the declaration file.
	Files string `json:"files,omitempty" yaml:"files,omitempty"`
}

// SchemaConfig holds the schema elements of a collection, keyed by "name".
type SchemaConfig struct {
	FieldTypes []engine.Descriptor `json:"fieldTypes,omitempty" yaml:"fieldTypes,omitempty" validate:"omitempty,dive,required"`
	Fields     []engine.Descriptor `json:"fields,omitempty" yaml:"fields,omitempty" validate:"omitempty,dive,required"`
}

// CollectionNames returns the declared collection names in sorted order.
func (d *Declaration) CollectionNames() []string {
	names := make([]string, 0, len(d.Collections))
	for name := range d.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dirs returns the config-file directories referenced by the declaration.
func (d *Declaration) Dirs() []string {
	var dirs []string
	for _, name := range d.CollectionNames() {
		if f := d.Collections[name].Files; f != "" {
			dirs = append(dirs, f)
		}
	}
	return dirs
}

// ValidationError represents a declaration problem with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed), when known.
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed), when known.
	Column int `json:"column,omitempty"`

	// Path is the location inside the document (e.g. "/collections/products/files").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors collects every problem found in one declaration.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}
