package fusion

import (
	"context"
	"net/http"
	"strings"

	"github.com/fusionctl/fusionctl/pkg/engine"
	"github.com/fusionctl/fusionctl/pkg/requester"
)

// PipelineKind is "query" or "index".
type PipelineKind string

const (
	QueryPipeline PipelineKind = "query"
	IndexPipeline PipelineKind = "index"
)

// systemPrefixes are the id prefixes of pipelines the server manages itself.
var systemPrefixes = map[PipelineKind][]string{
	QueryPipeline: {"system_"},
	IndexPipeline: {"_aggr", "_signals_ingest", "_system"},
}

// IsSystem reports whether id names a server-managed pipeline of kind.
func (k PipelineKind) IsSystem(id string) bool {
	for _, prefix := range systemPrefixes[k] {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}

// Pipelines reconciles the query or index pipelines of an instance, keyed by
// "id".
type Pipelines struct {
	client *Client
	kind   PipelineKind
}

// Kind returns the pipeline kind.
func (p *Pipelines) Kind() PipelineKind {
	return p.kind
}

func (p *Pipelines) root() string {
	return string(p.kind) + "-pipelines"
}

func (p *Pipelines) changeKind() string {
	return string(p.kind) + "-pipeline"
}

// List returns the pipelines of this kind. System pipelines are dropped
// unless includeSystem is set.
func (p *Pipelines) List(ctx context.Context, includeSystem bool) ([]engine.Descriptor, error) {
	resp, err := p.client.do(ctx, &requester.Request{Method: http.MethodGet, Path: p.root()})
	if err != nil {
		return nil, err
	}
	all, err := resp.Descriptors()
	if err != nil {
		return nil, err
	}
	if includeSystem {
		return all, nil
	}
	out := make([]engine.Descriptor, 0, len(all))
	for _, d := range all {
		if !p.kind.IsSystem(d.String("id")) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Get returns one pipeline.
func (p *Pipelines) Get(ctx context.Context, id string) (engine.Descriptor, error) {
	resp, err := p.client.do(ctx, &requester.Request{Method: http.MethodGet, Path: p.root() + "/" + escape(id)})
	if err != nil {
		return nil, err
	}
	return resp.Descriptor()
}

// Add creates a pipeline.
func (p *Pipelines) Add(ctx context.Context, d engine.Descriptor) error {
	_, err := p.client.do(ctx, &requester.Request{Method: http.MethodPost, Path: p.root() + "/", Body: d})
	return err
}

// Update replaces a pipeline definition and then refreshes it. A failed
// refresh leaves the pipeline updated but not refreshed.
func (p *Pipelines) Update(ctx context.Context, d engine.Descriptor) error {
	id, err := engine.IdentityBy("id")(d)
	if err != nil {
		return err
	}
	path := p.root() + "/" + escape(id)
	if _, err := p.client.do(ctx, &requester.Request{Method: http.MethodPut, Path: path, Body: d}); err != nil {
		return err
	}
	_, err = p.client.do(ctx, &requester.Request{Method: http.MethodPut, Path: path + "/refresh"})
	return err
}

// EnsureConfig adds missing pipelines and updates differing ones. Pipelines
// that exist on the server but are not declared are left alone. It returns
// false only in check mode, at the first discrepancy.
func (p *Pipelines) EnsureConfig(ctx context.Context, desired []engine.Descriptor, mode engine.Mode) (bool, error) {
	return p.client.ensure(ctx, engine.EnsureSpec{
		Kind:     p.changeKind(),
		Desired:  desired,
		Fetch:    func(ctx context.Context) ([]engine.Descriptor, error) { return p.List(ctx, false) },
		Identity: engine.IdentityBy("id"),
		Apply: func(ctx context.Context, action engine.Action, d engine.Descriptor) error {
			if action == engine.ActionAdd {
				return p.Add(ctx, d)
			}
			return p.Update(ctx, d)
		},
	}, mode)
}
