package fusion

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/fusionctl/fusionctl/pkg/config"
	"github.com/fusionctl/fusionctl/pkg/requester"
)

// ExportManifestName is the declaration file written by Export.
const ExportManifestName = "fusion.yaml"

// serverManaged lists collection attributes assigned by the server; they are
// not part of a creation request.
var serverManaged = []string{"id", "createdAt"}

// Sink stores exported files under slash-separated names.
type Sink interface {
	Put(ctx context.Context, name string, data []byte, contentType string) error
}

// DirSink writes exported files below a local directory.
type DirSink struct {
	Root string
}

// Put writes one file, creating parent directories.
func (s DirSink) Put(_ context.Context, name string, data []byte, _ string) error {
	target := filepath.Join(s.Root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", name, err)
	}
	return os.WriteFile(target, data, 0o644)
}

// Export dumps the named collections (creation parameters, schema and
// solr-config files) and every non-system pipeline to sink. It finishes by
// writing ExportManifestName, a declaration that configure accepts and that
// references the exported config files by relative path.
func (c *Client) Export(ctx context.Context, names []string, sink Sink) (*config.Declaration, error) {
	decl := &config.Declaration{Collections: make(map[string]config.CollectionConfig, len(names))}

	for _, name := range names {
		cfg, err := c.exportCollection(ctx, c.Collection(name), sink)
		if err != nil {
			return nil, fmt.Errorf("export collection %s: %w", name, err)
		}
		decl.Collections[c.Collection(name).Name()] = cfg
	}

	var err error
	if decl.QueryPipelines, err = c.QueryPipelines().List(ctx, false); err != nil {
		return nil, fmt.Errorf("export query pipelines: %w", err)
	}
	if decl.IndexPipelines, err = c.IndexPipelines().List(ctx, false); err != nil {
		return nil, fmt.Errorf("export index pipelines: %w", err)
	}

	data, err := yaml.Marshal(decl)
	if err != nil {
		return nil, fmt.Errorf("failed to encode declaration: %w", err)
	}
	if err := sink.Put(ctx, ExportManifestName, data, "application/yaml"); err != nil {
		return nil, err
	}

	c.logger.Info().
		Int("collections", len(decl.Collections)).
		Int("query_pipelines", len(decl.QueryPipelines)).
		Int("index_pipelines", len(decl.IndexPipelines)).
		Msg("Export complete")
	return decl, nil
}

func (c *Client) exportCollection(ctx context.Context, coll *Collection, sink Sink) (config.CollectionConfig, error) {
	var cfg config.CollectionConfig

	resp, err := c.do(ctx, &requester.Request{Method: http.MethodGet, Path: coll.path("collections/%s")})
	if err != nil {
		return cfg, err
	}
	desc, err := resp.Descriptor()
	if err != nil {
		return cfg, err
	}
	for _, key := range serverManaged {
		delete(desc, key)
	}
	cfg.Collection = desc

	schema, err := coll.Schema(ctx)
	if err != nil {
		return cfg, err
	}
	fieldTypes, err := schemaArray(schema, KindFieldTypes)
	if err != nil {
		return cfg, err
	}
	fields, err := schemaArray(schema, KindFields)
	if err != nil {
		return cfg, err
	}
	cfg.Schema = &config.SchemaConfig{FieldTypes: fieldTypes, Fields: fields}

	files := coll.ConfigFiles()
	listing, err := files.List(ctx)
	if err != nil {
		return cfg, err
	}
	confDir := path.Join(coll.Name(), "conf")
	for _, entry := range listing {
		name := entry.String("name")
		if name == "" || entry["isDir"] == true {
			continue
		}
		data, err := files.Get(ctx, name)
		if err != nil {
			return cfg, err
		}
		if err := sink.Put(ctx, path.Join(confDir, name), data, ContentTypeFor(name)); err != nil {
			return cfg, err
		}
	}
	cfg.Files = confDir
	return cfg, nil
}
