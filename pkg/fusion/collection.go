package fusion

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/fusionctl/fusionctl/pkg/config"
	"github.com/fusionctl/fusionctl/pkg/engine"
	"github.com/fusionctl/fusionctl/pkg/requester"
)

// DefaultCollectionConfig is used to create a collection declared without
// creation parameters.
func DefaultCollectionConfig() engine.Descriptor {
	return engine.Descriptor{
		"solrParams": map[string]interface{}{
			"replicationFactor": 1,
			"numShards":         1,
		},
	}
}

// Collection is a handle on one collection. It holds no server state.
type Collection struct {
	client *Client
	name   string
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// do sends a request scoped to the collection. A handle without a name never
// reaches the server: paths like "collections/" address the collection root.
func (c *Collection) do(ctx context.Context, req *requester.Request) (*requester.Response, error) {
	if c.name == "" {
		return nil, engine.NewConfigurationError("no collection named and none in the connection URL", nil).
			WithCode(engine.ErrCodeInvalidConfig).
			WithOperation(req.Method + " " + req.Path)
	}
	return c.client.do(ctx, req)
}

func (c *Collection) path(format string, args ...interface{}) string {
	return fmt.Sprintf(format, append([]interface{}{escape(c.name)}, args...)...)
}

// Exists reports whether the collection exists. Only a 404 means false.
func (c *Collection) Exists(ctx context.Context) (bool, error) {
	_, err := c.do(ctx, &requester.Request{Method: http.MethodGet, Path: c.path("collections/%s")})
	if err == nil {
		return true, nil
	}
	if engine.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// Create creates the collection. A nil cfg uses DefaultCollectionConfig.
func (c *Collection) Create(ctx context.Context, cfg engine.Descriptor) error {
	if len(cfg) == 0 {
		cfg = DefaultCollectionConfig()
	}
	_, err := c.do(ctx, &requester.Request{
		Method: http.MethodPut,
		Path:   c.path("collections/%s"),
		Body:   cfg,
	})
	if err != nil {
		return err
	}
	c.client.logger.Info().Str("collection", c.name).Msg("Collection created")
	return nil
}

// EnsureExists creates the collection with default parameters when missing.
func (c *Collection) EnsureExists(ctx context.Context) error {
	ok, err := c.Exists(ctx)
	if err != nil || ok {
		return err
	}
	return c.Create(ctx, nil)
}

// Delete deletes the collection. purge also removes stored data and solr
// also deletes the backing Solr collection.
func (c *Collection) Delete(ctx context.Context, purge, solr bool) error {
	_, err := c.do(ctx, &requester.Request{
		Method: http.MethodDelete,
		Path:   c.path("collections/%s"),
		Query: url.Values{
			"purge": {strconv.FormatBool(purge)},
			"solr":  {strconv.FormatBool(solr)},
		},
	})
	if err != nil {
		return err
	}
	c.client.logger.Info().Str("collection", c.name).Bool("purge", purge).Msg("Collection deleted")
	return nil
}

// Stats returns the collection statistics.
func (c *Collection) Stats(ctx context.Context) (engine.Descriptor, error) {
	resp, err := c.do(ctx, &requester.Request{Method: http.MethodGet, Path: c.path("collections/%s/stats")})
	if err != nil {
		return nil, err
	}
	return resp.Descriptor()
}

// Clear deletes every document, committing immediately. It does nothing when
// the collection is already empty.
func (c *Collection) Clear(ctx context.Context) error {
	stats, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	if count, _ := stats["documentCount"].(float64); count <= 0 {
		return nil
	}
	_, err = c.do(ctx, &requester.Request{
		Method: http.MethodPost,
		Path:   c.path("solr/%s/update"),
		Query:  url.Values{"commit": {"true"}},
		Body:   map[string]interface{}{"delete": map[string]string{"query": "*:*"}},
	})
	return err
}

// Query runs a query through a query pipeline. An empty pipeline means
// "default" and an empty handler means "select". The response format
// defaults to JSON.
func (c *Collection) Query(ctx context.Context, pipeline, handler string, params url.Values) (engine.Descriptor, error) {
	if pipeline == "" {
		pipeline = "default"
	}
	return c.query(ctx, fmt.Sprintf("query-pipelines/%s/collections/%s", escape(pipeline), escape(c.name)), handler, params)
}

// SolrQuery queries Solr directly, bypassing query pipelines.
func (c *Collection) SolrQuery(ctx context.Context, handler string, params url.Values) (engine.Descriptor, error) {
	return c.query(ctx, c.path("solr/%s"), handler, params)
}

func (c *Collection) query(ctx context.Context, base, handler string, params url.Values) (engine.Descriptor, error) {
	if handler == "" {
		handler = "select"
	}
	q := url.Values{}
	for k, v := range params {
		q[k] = append([]string(nil), v...)
	}
	if q.Get("wt") == "" {
		q.Set("wt", "json")
	}
	resp, err := c.do(ctx, &requester.Request{Method: http.MethodGet, Path: base + "/" + handler, Query: q})
	if err != nil {
		return nil, err
	}
	return resp.Descriptor()
}

// Index sends docs through an index pipeline ("default" when empty). The
// server answers with one entry per document written; a shorter answer is an
// inconsistent write.
func (c *Collection) Index(ctx context.Context, pipeline string, docs []interface{}) error {
	if pipeline == "" {
		pipeline = "default"
	}
	resp, err := c.do(ctx, &requester.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("index-pipelines/%s/collections/%s/index", escape(pipeline), escape(c.name)),
		Body:   docs,
	})
	if err != nil {
		return err
	}
	var written []interface{}
	if err := resp.JSON(&written); err != nil {
		return err
	}
	if len(written) != len(docs) {
		return engine.NewInconsistentWriteError(len(docs), len(written)).
			WithResource(c.name).
			WithOperation("index")
	}
	return nil
}

// Commit issues a commit through the default index pipeline.
func (c *Collection) Commit(ctx context.Context) error {
	return c.Index(ctx, "", []interface{}{map[string]interface{}{"commit": map[string]interface{}{}}})
}

// Schema fetches the live schema document.
func (c *Collection) Schema(ctx context.Context) (engine.Descriptor, error) {
	resp, err := c.do(ctx, &requester.Request{Method: http.MethodGet, Path: c.path("solr/%s/schema")})
	if err != nil {
		return nil, err
	}
	var body struct {
		Schema engine.Descriptor `json:"schema"`
	}
	if err := resp.JSON(&body); err != nil {
		return nil, err
	}
	if body.Schema == nil {
		return nil, &engine.TransportError{
			Method:  http.MethodGet,
			URL:     resp.URL,
			Status:  resp.Status,
			Body:    resp.Body,
			Message: "schema response has no schema",
		}
	}
	return body.Schema, nil
}

// Fields returns the field reconciler.
func (c *Collection) Fields() *SchemaSet {
	return &SchemaSet{collection: c, kind: KindFields}
}

// FieldTypes returns the field-type reconciler.
func (c *Collection) FieldTypes() *SchemaSet {
	return &SchemaSet{collection: c, kind: KindFieldTypes}
}

// ConfigFiles returns the solr-config file synchronizer.
func (c *Collection) ConfigFiles() *ConfigFiles {
	return &ConfigFiles{collection: c}
}

// Ensure converges the collection to cfg: existence, then config files, then
// field types, then fields. In check mode it returns OutcomeAbsent when the
// collection is missing and OutcomeDiffers at the first discrepancy, without
// writing anything.
func (c *Collection) Ensure(ctx context.Context, cfg config.CollectionConfig, mode engine.Mode) (engine.Outcome, error) {
	logger := c.client.logger.With().Str("collection", c.name).Str("mode", mode.String()).Logger()

	exists, err := c.Exists(ctx)
	if err != nil {
		return engine.OutcomeAbsent, err
	}
	if !exists {
		if !mode.Writes() {
			logger.Info().Msg("Collection does not exist")
			return engine.OutcomeAbsent, nil
		}
		if err := c.Create(ctx, cfg.Collection); err != nil {
			return engine.OutcomeAbsent, err
		}
		c.client.record(engine.Change{Kind: "collection", Identity: c.name, Action: engine.ActionAdd, Applied: true})
	}

	if cfg.Files != "" {
		ok, err := c.ConfigFiles().Ensure(ctx, cfg.Files, mode)
		if err != nil {
			return engine.OutcomeDiffers, err
		}
		if !ok && !mode.Writes() {
			logger.Info().Msg("Config files differ")
			return engine.OutcomeDiffers, nil
		}
	}

	if cfg.Schema == nil || (cfg.Schema.FieldTypes == nil && cfg.Schema.Fields == nil) {
		return engine.OutcomeReady, nil
	}

	snapshot, err := c.Schema(ctx)
	if err != nil {
		return engine.OutcomeDiffers, err
	}

	if cfg.Schema.FieldTypes != nil {
		ok, err := c.FieldTypes().Ensure(ctx, cfg.Schema.FieldTypes, snapshot, mode)
		if err != nil {
			return engine.OutcomeDiffers, err
		}
		if !ok && !mode.Writes() {
			logger.Info().Msg("Field types differ")
			return engine.OutcomeDiffers, nil
		}
	}

	if cfg.Schema.Fields != nil {
		ok, err := c.Fields().Ensure(ctx, cfg.Schema.Fields, snapshot, mode)
		if err != nil {
			return engine.OutcomeDiffers, err
		}
		if !ok && !mode.Writes() {
			logger.Info().Msg("Fields differ")
			return engine.OutcomeDiffers, nil
		}
	}

	logger.Debug().Msg("Collection ready")
	return engine.OutcomeReady, nil
}
