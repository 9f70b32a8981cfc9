package fusion

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusionctl/fusionctl/pkg/config"
	"github.com/fusionctl/fusionctl/pkg/engine"
	"github.com/fusionctl/fusionctl/pkg/requester/fake"
)

type m = map[string]interface{}

type changeLog struct {
	mu      sync.Mutex
	changes []engine.Change
}

func (l *changeLog) RecordChange(c engine.Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, c)
}

func newTestClient(t *testing.T, opts ...Option) (*Client, *fake.Requester) {
	t.Helper()
	f := fake.New()
	f.Password = "topSecret5"
	f.Collection = "mycollection"
	return New(f, opts...), f
}

func initialized() m {
	return m{
		"status":   m{"solr": m{"ping": true}, "zookeeper": m{"ping": true}},
		"initMeta": m{"createdAt": "2024-01-01T00:00:00Z"},
	}
}

func uninitialized() m {
	return m{"status": m{"solr": m{"ping": true}}, "initMeta": nil}
}

func TestPing(t *testing.T) {
	t.Run("initialized", func(t *testing.T) {
		c, f := newTestClient(t)
		f.OnJSON(http.MethodGet, "/api", initialized())

		ok, err := c.Ping(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("uninitialized", func(t *testing.T) {
		c, f := newTestClient(t)
		f.OnJSON(http.MethodGet, "/api", uninitialized())

		ok, err := c.Ping(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unhealthy services are all named", func(t *testing.T) {
		c, f := newTestClient(t)
		f.OnJSON(http.MethodGet, "/api", m{
			"status": m{
				"solr":      m{"ping": false},
				"zookeeper": m{"ping": true},
				"proxy":     m{"ping": false},
			},
			"initMeta": m{},
		})

		_, err := c.Ping(context.Background())
		require.Error(t, err)
		assert.True(t, engine.IsUnhealthy(err))
		assert.Contains(t, err.Error(), "proxy, solr")
	})

	t.Run("status failure", func(t *testing.T) {
		c, f := newTestClient(t)
		f.OnStatus(http.MethodGet, "/api", http.StatusServiceUnavailable)

		_, err := c.Ping(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Fusion is not responding to status checks")
		assert.Equal(t, http.StatusServiceUnavailable, engine.StatusOf(err))
	})
}

func TestSetAdminPassword(t *testing.T) {
	t.Run("derived from connection", func(t *testing.T) {
		c, f := newTestClient(t)
		f.OnStatus(http.MethodPost, "/api", http.StatusCreated)

		require.NoError(t, c.SetAdminPassword(context.Background(), ""))
		body, err := f.Calls()[0].JSON()
		require.NoError(t, err)
		assert.Equal(t, m{"password": "topSecret5"}, body)
	})

	t.Run("option wins over connection", func(t *testing.T) {
		c, f := newTestClient(t, WithAdminPassword("fromFlag"))
		f.OnStatus(http.MethodPost, "/api", http.StatusCreated)

		require.NoError(t, c.SetAdminPassword(context.Background(), ""))
		body, _ := f.Calls()[0].JSON()
		assert.Equal(t, m{"password": "fromFlag"}, body)
	})

	t.Run("no password", func(t *testing.T) {
		c, f := newTestClient(t)
		f.Password = ""

		err := c.SetAdminPassword(context.Background(), "")
		require.Error(t, err)
		assert.True(t, engine.IsConfiguration(err))
		assert.Empty(t, f.Calls())
	})

	t.Run("non-201 success is rejected", func(t *testing.T) {
		c, f := newTestClient(t)
		f.OnStatus(http.MethodPost, "/api", http.StatusOK)

		err := c.SetAdminPassword(context.Background(), "pw")
		require.Error(t, err)
		assert.Equal(t, http.StatusOK, engine.StatusOf(err))
	})
}

func TestEnsureConfig_Bootstrap(t *testing.T) {
	t.Run("password set then initialized", func(t *testing.T) {
		c, f := newTestClient(t)
		f.OnJSON(http.MethodGet, "/api", uninitialized())
		f.OnJSON(http.MethodGet, "/api", initialized())
		f.OnStatus(http.MethodPost, "/api", http.StatusCreated)

		outcome, err := c.EnsureConfig(context.Background(), &config.Declaration{}, engine.ModeWrite)
		require.NoError(t, err)
		assert.Equal(t, engine.OutcomeReady, outcome)
		assert.Equal(t, []string{"GET /api", "POST /api", "GET /api"}, f.Keys())
	})

	t.Run("still uninitialized", func(t *testing.T) {
		c, f := newTestClient(t)
		f.OnJSON(http.MethodGet, "/api", uninitialized())
		f.OnStatus(http.MethodPost, "/api", http.StatusCreated)

		_, err := c.EnsureConfig(context.Background(), &config.Declaration{}, engine.ModeWrite)
		require.Error(t, err)
		assert.True(t, engine.IsConfiguration(err))
		assert.ErrorIs(t, err, &engine.EngineError{Class: engine.ErrorClassConfiguration, Code: engine.ErrCodeUninitialized})
	})

	t.Run("check mode reports absent", func(t *testing.T) {
		c, f := newTestClient(t)
		f.OnJSON(http.MethodGet, "/api", uninitialized())

		outcome, err := c.EnsureConfig(context.Background(), &config.Declaration{}, engine.ModeCheck)
		require.NoError(t, err)
		assert.Equal(t, engine.OutcomeAbsent, outcome)
		assert.Empty(t, f.Writes())
	})
}

// scriptServer scripts an initialized server holding one collection with one
// field type and one field, plus one query pipeline.
func scriptServer(f *fake.Requester) {
	f.OnJSON(http.MethodGet, "/api", initialized())
	f.OnJSON(http.MethodGet, "collections/products", m{"id": "products"})
	f.OnJSON(http.MethodGet, "solr/products/schema", m{"schema": m{
		"fieldTypes": []interface{}{m{"name": "text_en", "class": "solr.TextField"}},
		"fields":     []interface{}{m{"name": "title", "type": "text_en"}},
	}})
	f.OnJSON(http.MethodGet, "query-pipelines", []interface{}{
		m{"id": "p1", "stages": []interface{}{"A", "B"}},
		m{"id": "system_metrics", "stages": []interface{}{}},
	})
	f.OnJSON(http.MethodGet, "index-pipelines", []interface{}{})
}

func declaration() *config.Declaration {
	return &config.Declaration{
		Collections: map[string]config.CollectionConfig{
			"products": {Schema: &config.SchemaConfig{
				FieldTypes: []engine.Descriptor{{"name": "text_en", "class": "solr.TextField"}},
				Fields: []engine.Descriptor{
					{"name": "title", "type": "text_en"},
					{"name": "price", "type": "pfloat"},
				},
			}},
		},
		QueryPipelines: []engine.Descriptor{{"id": "p1", "stages": []interface{}{"A", "B"}}},
	}
}

func TestEnsureConfig_CheckThenWrite(t *testing.T) {
	c, f := newTestClient(t)
	scriptServer(f)
	f.OnJSON(http.MethodPost, "solr/products/schema", m{"responseHeader": m{"status": 0}})

	outcome, err := c.EnsureConfig(context.Background(), declaration(), engine.ModeCheck)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeDiffers, outcome)
	assert.Empty(t, f.Writes())

	outcome, err = c.EnsureConfig(context.Background(), declaration(), engine.ModeWrite)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeReady, outcome)

	writes := f.Writes()
	require.Len(t, writes, 1)
	body, err := writes[0].JSON()
	require.NoError(t, err)
	assert.Equal(t, m{"add-field": m{"name": "price", "type": "pfloat"}}, body)
}

func TestEnsureConfig_Idempotent(t *testing.T) {
	c, f := newTestClient(t)
	scriptServer(f)
	decl := declaration()
	decl.Collections["products"].Schema.Fields = decl.Collections["products"].Schema.Fields[:1]

	for i := 0; i < 2; i++ {
		outcome, err := c.EnsureConfig(context.Background(), decl, engine.ModeWrite)
		require.NoError(t, err)
		assert.Equal(t, engine.OutcomeReady, outcome)
	}
	assert.Empty(t, f.Writes())

	outcome, err := c.EnsureConfig(context.Background(), decl, engine.ModeCheck)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeReady, outcome)
}

func TestEnsureConfig_Pipelines(t *testing.T) {
	decl := func() *config.Declaration {
		d := declaration()
		d.Collections = nil
		d.IndexPipelines = []engine.Descriptor{{"id": "ingest", "stages": []interface{}{"tika"}}}
		return d
	}

	t.Run("missing index pipeline differs in check mode", func(t *testing.T) {
		c, f := newTestClient(t)
		scriptServer(f)

		outcome, err := c.EnsureConfig(context.Background(), decl(), engine.ModeCheck)
		require.NoError(t, err)
		assert.Equal(t, engine.OutcomeDiffers, outcome)
		assert.Empty(t, f.Writes())
		assert.Equal(t, []string{"GET /api", "GET query-pipelines", "GET index-pipelines"}, f.Keys())
	})

	t.Run("differing query pipeline stops before index pipelines", func(t *testing.T) {
		c, f := newTestClient(t)
		scriptServer(f)
		d := decl()
		d.QueryPipelines = []engine.Descriptor{{"id": "p1", "stages": []interface{}{"B", "A"}}}

		outcome, err := c.EnsureConfig(context.Background(), d, engine.ModeCheck)
		require.NoError(t, err)
		assert.Equal(t, engine.OutcomeDiffers, outcome)
		assert.Equal(t, []string{"GET /api", "GET query-pipelines"}, f.Keys())
	})

	t.Run("write adds query pipelines before index pipelines", func(t *testing.T) {
		c, f := newTestClient(t)
		scriptServer(f)
		f.OnStatus(http.MethodPost, "query-pipelines/", http.StatusOK)
		f.OnStatus(http.MethodPost, "index-pipelines/", http.StatusOK)
		d := decl()
		d.QueryPipelines = append(d.QueryPipelines, engine.Descriptor{"id": "p2"})

		outcome, err := c.EnsureConfig(context.Background(), d, engine.ModeWrite)
		require.NoError(t, err)
		assert.Equal(t, engine.OutcomeReady, outcome)
		assert.Equal(t, []string{
			"GET /api",
			"GET query-pipelines",
			"POST query-pipelines/",
			"GET index-pipelines",
			"POST index-pipelines/",
		}, f.Keys())
	})
}

func TestEnsureConfig_MissingCollection(t *testing.T) {
	decl := &config.Declaration{Collections: map[string]config.CollectionConfig{"logs": {}}}

	t.Run("check", func(t *testing.T) {
		c, f := newTestClient(t)
		f.OnJSON(http.MethodGet, "/api", initialized())

		outcome, err := c.EnsureConfig(context.Background(), decl, engine.ModeCheck)
		require.NoError(t, err)
		assert.Equal(t, engine.OutcomeAbsent, outcome)
		assert.Equal(t, []string{"GET /api", "GET collections/logs"}, f.Keys())
	})

	t.Run("write creates with defaults", func(t *testing.T) {
		log := &changeLog{}
		c, f := newTestClient(t, WithRecorder(log))
		f.OnJSON(http.MethodGet, "/api", initialized())
		f.OnStatus(http.MethodPut, "collections/logs", http.StatusOK)

		outcome, err := c.EnsureConfig(context.Background(), decl, engine.ModeWrite)
		require.NoError(t, err)
		assert.Equal(t, engine.OutcomeReady, outcome)

		writes := f.Writes()
		require.Len(t, writes, 1)
		body, _ := writes[0].JSON()
		assert.Equal(t, m{"solrParams": m{"replicationFactor": 1.0, "numShards": 1.0}}, body)

		require.Len(t, log.changes, 1)
		assert.Equal(t, engine.Change{Kind: "collection", Identity: "logs", Action: engine.ActionAdd, Applied: true}, log.changes[0])
	})
}

func TestEnsureConfig_ConcurrentCollections(t *testing.T) {
	decl := &config.Declaration{Collections: map[string]config.CollectionConfig{
		"a": {}, "b": {}, "c": {}, "d": {},
	}}

	t.Run("one absent collection decides the outcome", func(t *testing.T) {
		c, f := newTestClient(t, WithConcurrency(3))
		f.OnJSON(http.MethodGet, "/api", initialized())
		for _, name := range []string{"a", "c", "d"} {
			f.OnJSON(http.MethodGet, "collections/"+name, m{"id": name})
		}

		outcome, err := c.EnsureConfig(context.Background(), decl, engine.ModeCheck)
		require.NoError(t, err)
		assert.Equal(t, engine.OutcomeAbsent, outcome)
		assert.Empty(t, f.Writes())
	})

	t.Run("all ready", func(t *testing.T) {
		c, f := newTestClient(t, WithConcurrency(2))
		f.OnJSON(http.MethodGet, "/api", initialized())
		for _, name := range []string{"a", "b", "c", "d"} {
			f.OnJSON(http.MethodGet, "collections/"+name, m{"id": name})
		}

		outcome, err := c.EnsureConfig(context.Background(), decl, engine.ModeWrite)
		require.NoError(t, err)
		assert.Equal(t, engine.OutcomeReady, outcome)
	})

	t.Run("errors propagate", func(t *testing.T) {
		c, f := newTestClient(t, WithConcurrency(4))
		f.OnJSON(http.MethodGet, "/api", initialized())
		f.OnStatus(http.MethodGet, "collections/a", http.StatusInternalServerError)
		for _, name := range []string{"b", "c", "d"} {
			f.OnJSON(http.MethodGet, "collections/"+name, m{"id": name})
		}

		_, err := c.EnsureConfig(context.Background(), decl, engine.ModeCheck)
		require.Error(t, err)
		assert.Equal(t, http.StatusInternalServerError, engine.StatusOf(err))
	})
}

func TestCollection_DefaultAlias(t *testing.T) {
	c, _ := newTestClient(t)
	assert.Equal(t, "mycollection", c.Collection("").Name())
	assert.Equal(t, "mycollection", c.Collection(DefaultCollectionAlias).Name())
	assert.Equal(t, "other", c.Collection("other").Name())
}

func TestDir(t *testing.T) {
	c, f := newTestClient(t)
	f.OnJSON(http.MethodGet, "collections", []interface{}{m{"id": "a"}, m{"id": "system_logs"}})
	f.OnJSON(http.MethodGet, "query-pipelines", []interface{}{m{"id": "q"}, m{"id": "system_q"}})
	f.OnJSON(http.MethodGet, "index-pipelines", []interface{}{m{"id": "_system"}})

	dir, err := c.Dir(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Directory{
		Collections:    []string{"a", "system_logs"},
		QueryPipelines: []string{"q", "system_q"},
		IndexPipelines: []string{"_system"},
	}, dir)
}
