package fusion

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fusionctl/fusionctl/pkg/engine"
	"github.com/fusionctl/fusionctl/pkg/requester"
)

// SchemaKind selects the schema array a SchemaSet manages.
type SchemaKind string

const (
	KindFields     SchemaKind = "fields"
	KindFieldTypes SchemaKind = "fieldTypes"
)

// Schema mutation actions.
const (
	SchemaAdd     = "add"
	SchemaReplace = "replace"
	SchemaDelete  = "delete"
)

// SchemaSet reconciles the fields or field types of one collection, keyed by
// "name".
type SchemaSet struct {
	collection *Collection
	kind       SchemaKind
}

// Kind returns the managed schema array.
func (s *SchemaSet) Kind() SchemaKind {
	return s.kind
}

// changeKind is the kind recorded in change records: "field" or "field-type".
func (s *SchemaSet) changeKind() string {
	if s.kind == KindFieldTypes {
		return "field-type"
	}
	return "field"
}

// Mutate adds, replaces or deletes one schema element. A response carrying
// an "errors" attribute is a failure even on a 2xx status.
func (s *SchemaSet) Mutate(ctx context.Context, action string, d engine.Descriptor) error {
	switch action {
	case SchemaAdd, SchemaReplace, SchemaDelete:
	default:
		return fmt.Errorf("invalid schema action %q", action)
	}

	_, err := s.collection.do(ctx, &requester.Request{
		Method:   http.MethodPost,
		Path:     s.collection.path("solr/%s/schema"),
		Body:     map[string]interface{}{action + "-" + s.changeKind(): d},
		Validate: requester.RejectErrors,
	})
	return err
}

// Add adds a schema element.
func (s *SchemaSet) Add(ctx context.Context, d engine.Descriptor) error {
	return s.Mutate(ctx, SchemaAdd, d)
}

// Replace replaces a schema element with the same name.
func (s *SchemaSet) Replace(ctx context.Context, d engine.Descriptor) error {
	return s.Mutate(ctx, SchemaReplace, d)
}

// Delete deletes a schema element. Reconciliation never calls it.
func (s *SchemaSet) Delete(ctx context.Context, name string) error {
	return s.Mutate(ctx, SchemaDelete, engine.Descriptor{"name": name})
}

// Ensure reconciles desired against the matching array of snapshot, a schema
// document previously fetched with Collection.Schema. A nil snapshot is
// fetched first. It returns false only in check mode, at the first
// discrepancy.
func (s *SchemaSet) Ensure(ctx context.Context, desired []engine.Descriptor, snapshot engine.Descriptor, mode engine.Mode) (bool, error) {
	if snapshot == nil {
		var err error
		if snapshot, err = s.collection.Schema(ctx); err != nil {
			return false, err
		}
	}

	return s.collection.client.ensure(ctx, engine.EnsureSpec{
		Kind:     s.changeKind(),
		Scope:    s.collection.name,
		Desired:  desired,
		Fetch:    func(context.Context) ([]engine.Descriptor, error) { return schemaArray(snapshot, s.kind) },
		Identity: engine.IdentityBy("name"),
		Apply: func(ctx context.Context, action engine.Action, d engine.Descriptor) error {
			if action == engine.ActionAdd {
				return s.Add(ctx, d)
			}
			return s.Replace(ctx, d)
		},
	}, mode)
}

// schemaArray extracts the descriptors stored under kind in a schema document.
func schemaArray(schema engine.Descriptor, kind SchemaKind) ([]engine.Descriptor, error) {
	raw, ok := schema[string(kind)]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("schema %s is %T, not a list", kind, raw)
	}
	out := make([]engine.Descriptor, 0, len(items))
	for i, item := range items {
		switch m := item.(type) {
		case map[string]interface{}:
			out = append(out, engine.Descriptor(m))
		case engine.Descriptor:
			out = append(out, m)
		default:
			return nil, fmt.Errorf("schema %s[%d] is %T, not an object", kind, i, item)
		}
	}
	return out, nil
}
