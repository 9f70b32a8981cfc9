package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// FetchFunc returns the live resources of one kind.
type FetchFunc func(ctx context.Context) ([]Descriptor, error)

// ApplyFunc performs a corrective write for one resource.
type ApplyFunc func(ctx context.Context, action Action, d Descriptor) error

// EnsureSpec describes one reconciliation pass over a resource collection.
type EnsureSpec struct {
	// Kind names the resource kind for logs and change records.
	Kind string

	// Scope is the owning collection, or "" for instance-level resources.
	Scope string

	// Desired is the declared state, processed in order.
	Desired []Descriptor

	// Fetch returns the live state. It is called exactly once per pass.
	Fetch FetchFunc

	// Identity extracts the identity of a descriptor.
	Identity IdentityFunc

	// Apply performs add and replace writes. Only called in ModeWrite.
	Apply ApplyFunc
}

// EnsureResult reports the outcome of a reconciliation pass.
type EnsureResult struct {
	// Configured is true when the pass ended in a configured state: in write
	// mode after all writes succeeded, in check mode when nothing differed.
	Configured bool

	// Changes lists the writes performed (write mode) or the first
	// discrepancy found (check mode).
	Changes []Change

	// Unchanged counts desired resources that already matched.
	Unchanged int
}

// Ensure compares desired resources against the live state and converges it.
//
// In check mode the pass stops at the first missing or differing resource.
// In write mode every missing resource is added and every differing resource
// is replaced, in declaration order. Live resources that are not declared are
// never touched. A failed write aborts the pass; the returned result still
// lists the writes that succeeded before it.
func Ensure(ctx context.Context, spec EnsureSpec, mode Mode) (*EnsureResult, error) {
	if spec.Fetch == nil || spec.Identity == nil {
		return nil, fmt.Errorf("ensure %s: fetch and identity functions are required", spec.Kind)
	}
	if mode.Writes() && spec.Apply == nil {
		return nil, fmt.Errorf("ensure %s: apply function is required in write mode", spec.Kind)
	}

	logger := zerolog.Ctx(ctx).With().
		Str("kind", spec.Kind).
		Str("scope", spec.Scope).
		Str("mode", mode.String()).
		Logger()

	current, err := spec.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch current %s: %w", spec.Kind, err)
	}

	live := make(map[string]Descriptor, len(current))
	for _, d := range current {
		id, err := spec.Identity(d)
		if err != nil {
			return nil, fmt.Errorf("live %s: %w", spec.Kind, err)
		}
		live[id] = d
	}

	result := &EnsureResult{Configured: true}
	for _, want := range spec.Desired {
		id, err := spec.Identity(want)
		if err != nil {
			return result, fmt.Errorf("desired %s: %w", spec.Kind, err)
		}

		var action Action
		if have, ok := live[id]; !ok {
			action = ActionAdd
		} else if !Equal(want, have) {
			action = ActionReplace
		} else {
			result.Unchanged++
			logger.Debug().Str("identity", id).Msg("Resource matches")
			continue
		}

		change := Change{Kind: spec.Kind, Scope: spec.Scope, Identity: id, Action: action}
		if !mode.Writes() {
			logger.Debug().Str("identity", id).Str("action", string(action)).Msg("Resource differs")
			result.Configured = false
			result.Changes = append(result.Changes, change)
			return result, nil
		}

		if err := spec.Apply(ctx, action, want); err != nil {
			return result, fmt.Errorf("failed to %s %s %s: %w", action, spec.Kind, id, err)
		}
		change.Applied = true
		result.Changes = append(result.Changes, change)
		logger.Info().Str("identity", id).Str("action", string(action)).Msg("Resource converged")
	}

	return result, nil
}
