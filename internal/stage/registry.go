package stage

import (
	"errors"
	"fmt"
	"regexp"
)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Descriptor names a stage and binds it to its action.
type Descriptor struct {
	ID          string
	DisplayName string
	Action      Action
}

// Name returns the display name, falling back to the id.
func (d Descriptor) Name() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.ID
}

// Registry is the fixed, ordered list of stages. It is read-only after New.
type Registry struct {
	stages []Descriptor
	index  map[string]int
}

// New builds a registry. Ids must be non-empty, unique and lower-case
// kebab-case, and every descriptor needs an action.
func New(descs ...Descriptor) (*Registry, error) {
	if len(descs) == 0 {
		return nil, errors.New("registry needs at least one stage")
	}

	r := &Registry{
		stages: make([]Descriptor, len(descs)),
		index:  make(map[string]int, len(descs)),
	}
	for i, d := range descs {
		if !idPattern.MatchString(d.ID) {
			return nil, fmt.Errorf("stage %d: invalid id %q", i+1, d.ID)
		}
		if _, dup := r.index[d.ID]; dup {
			return nil, fmt.Errorf("stage %d: duplicate id %q", i+1, d.ID)
		}
		if d.Action == nil {
			return nil, fmt.Errorf("stage %q has no action", d.ID)
		}
		r.stages[i] = d
		r.index[d.ID] = i
	}
	return r, nil
}

// MustNew is New that panics on error, for compiled-in registries.
func MustNew(descs ...Descriptor) *Registry {
	r, err := New(descs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Len returns the number of stages.
func (r *Registry) Len() int {
	return len(r.stages)
}

// At returns the stage at position i.
func (r *Registry) At(i int) Descriptor {
	return r.stages[i]
}

// IDs returns the stage ids in execution order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.stages))
	for i, d := range r.stages {
		ids[i] = d.ID
	}
	return ids
}

// Lookup finds a stage by id.
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	i, ok := r.index[id]
	if !ok {
		return Descriptor{}, false
	}
	return r.stages[i], true
}

// Index returns the position of id, or -1.
func (r *Registry) Index(id string) int {
	if i, ok := r.index[id]; ok {
		return i
	}
	return -1
}

// DisplayName returns the display name for id, or id itself when unknown.
func (r *Registry) DisplayName(id string) string {
	if d, ok := r.Lookup(id); ok {
		return d.Name()
	}
	return id
}
