// Package registry holds the per-event-type policy table: which emitter
// classes may write an event type, how evidence must accompany it, and an
// optional payload schema. Loaded once at startup and read-only thereafter.
package registry

import (
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/veriledger/veriledger/pkg/contracts"
)

// Entry is the policy record for one event type.
type Entry struct {
	EventType             string
	AllowedEmitterClasses []contracts.EmitterClass
	EvidencePolicy        contracts.EvidencePolicy
	// PayloadSchema constrains the submitted payload when non-nil.
	PayloadSchema *jsonschema.Schema
}

// Allows reports whether the emitter class may write this event type.
func (e *Entry) Allows(class contracts.EmitterClass) bool {
	for _, c := range e.AllowedEmitterClasses {
		if c == class {
			return true
		}
	}
	return false
}

// ValidatePayload checks the payload against the entry's schema, if any.
func (e *Entry) ValidatePayload(payload map[string]any) error {
	if e.PayloadSchema == nil {
		return nil
	}
	return e.PayloadSchema.Validate(anyMap(payload))
}

// anyMap rebuilds the payload with plain interface values so the schema
// engine never sees typed map aliases.
func anyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Registry is the immutable event-type policy table. Construct it once via
// New or LoadFile; it is safe for unsynchronized concurrent reads.
type Registry struct {
	entries map[string]*Entry
}

// New builds a registry from entries, validating each one.
func New(entries []Entry) (*Registry, error) {
	table := make(map[string]*Entry, len(entries))
	for i := range entries {
		e := entries[i]
		if e.EventType == "" {
			return nil, fmt.Errorf("registry entry %d has empty event type", i)
		}
		if _, dup := table[e.EventType]; dup {
			return nil, fmt.Errorf("duplicate registry entry for event type %q", e.EventType)
		}
		if len(e.AllowedEmitterClasses) == 0 {
			return nil, fmt.Errorf("event type %q allows no emitter classes", e.EventType)
		}
		for _, class := range e.AllowedEmitterClasses {
			switch class {
			case contracts.EmitterHuman, contracts.EmitterSystem, contracts.EmitterLedgerExternal:
			default:
				return nil, fmt.Errorf("event type %q: unknown emitter class %q", e.EventType, class)
			}
		}
		switch e.EvidencePolicy {
		case contracts.EvidenceRequired, contracts.EvidenceInheritLast, contracts.EvidenceOptional:
		default:
			return nil, fmt.Errorf("event type %q: unknown evidence policy %q", e.EventType, e.EvidencePolicy)
		}
		table[e.EventType] = &e
	}
	return &Registry{entries: table}, nil
}

// Get returns the entry for an event type.
func (r *Registry) Get(eventType string) (*Entry, error) {
	entry, ok := r.entries[eventType]
	if !ok {
		return nil, contracts.Faultf(contracts.UnknownEventType, "event type %q is not registered", eventType)
	}
	return entry, nil
}

// Types returns all registered event types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
