package engine

import (
	"fmt"
	"sort"
)

// Descriptor is a declarative description of a single server resource:
// a pipeline, a schema field, a field type or a collection configuration.
type Descriptor map[string]interface{}

// String returns the string value of key, or "" if it is absent or not a string.
func (d Descriptor) String(key string) string {
	if s, ok := d[key].(string); ok {
		return s
	}
	return ""
}

// Keys returns the descriptor's attribute names in sorted order.
func (d Descriptor) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IdentityFunc extracts the identity of a descriptor within its resource collection.
type IdentityFunc func(Descriptor) (string, error)

// IdentityBy returns an IdentityFunc that reads a non-empty string attribute.
func IdentityBy(attr string) IdentityFunc {
	return func(d Descriptor) (string, error) {
		id := d.String(attr)
		if id == "" {
			return "", NewConfigurationError(fmt.Sprintf("descriptor has no %q attribute", attr), nil).
				WithCode(ErrCodeInvalidConfig)
		}
		return id, nil
	}
}

// Mode selects whether a reconciliation pass writes or only checks.
type Mode int

const (
	// ModeCheck reports whether changes are needed without making them.
	ModeCheck Mode = iota

	// ModeWrite applies the changes needed to converge.
	ModeWrite
)

// Writes reports whether the mode performs writes.
func (m Mode) Writes() bool {
	return m == ModeWrite
}

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "check"
}

// ModeFor maps a write flag to a Mode.
func ModeFor(write bool) Mode {
	if write {
		return ModeWrite
	}
	return ModeCheck
}

// Outcome is the result of an orchestration step.
type Outcome int

const (
	// OutcomeReady means every declared resource is present and matching.
	OutcomeReady Outcome = iota

	// OutcomeAbsent means the system is uninitialized or a declared collection
	// does not exist. Only observable in check mode.
	OutcomeAbsent

	// OutcomeDiffers means at least one addition or update is needed.
	// Only observable in check mode.
	OutcomeDiffers
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "ready"
	case OutcomeAbsent:
		return "absent"
	case OutcomeDiffers:
		return "differs"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Ready reports whether the outcome is OutcomeReady.
func (o Outcome) Ready() bool {
	return o == OutcomeReady
}

// Action is a corrective write issued by reconciliation.
type Action string

const (
	// ActionAdd creates a resource that is missing on the server.
	ActionAdd Action = "add"

	// ActionReplace overwrites a resource whose live definition differs.
	ActionReplace Action = "replace"
)

// Change records a single add or replace decided by a reconciliation pass.
type Change struct {
	// Kind is the resource kind (e.g. "query-pipeline", "field", "config-file").
	Kind string `json:"kind"`

	// Scope is the owning collection, or "" for instance-level resources.
	Scope string `json:"scope,omitempty"`

	// Identity is the resource identity within its kind.
	Identity string `json:"identity"`

	// Action is the corrective action.
	Action Action `json:"action"`

	// Applied is true when the write was performed, false when only detected.
	Applied bool `json:"applied"`
}

// String returns a compact representation of the change.
func (c Change) String() string {
	scope := c.Kind
	if c.Scope != "" {
		scope = c.Scope + "/" + c.Kind
	}
	return fmt.Sprintf("%s %s %s", c.Action, scope, c.Identity)
}
