package pipeline

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Class is descriptive factory metadata.
type Class struct {
	LongName    string
	Klass       string // e.g. "Source/Video", "Generic"
	Description string
}

// Factory makes elements of one kind and describes their pads and
// properties.
type Factory struct {
	Name       string
	Class      Class
	Templates  []*PadTemplate
	Properties []PropertySpec
	New        func() Impl
}

// Template returns the pad template named name, or nil.
func (f *Factory) Template(name string) *PadTemplate {
	for _, t := range f.Templates {
		if t.NameTemplate == name {
			return t
		}
	}
	return nil
}

// Property returns the declaration of the named property.
func (f *Factory) Property(name string) (PropertySpec, bool) {
	for _, p := range f.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return PropertySpec{}, false
}

// Registry holds element factories by name.
type Registry struct {
	log       *slog.Logger
	mu        sync.RWMutex
	factories map[string]*Factory
	counters  map[string]int
}

// NewRegistry creates an empty registry. If log is nil, slog.Default() is
// used.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:       log.With("component", "registry"),
		factories: make(map[string]*Factory),
		counters:  make(map[string]int),
	}
}

// Register adds f. Names are unique.
func (r *Registry) Register(f *Factory) error {
	if f.Name == "" || f.New == nil {
		return fmt.Errorf("pipeline: factory needs a name and a constructor")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[f.Name]; ok {
		r.log.Warn("factory already registered, rejecting duplicate", "factory", f.Name)
		return fmt.Errorf("%w: %s", ErrDuplicateFactory, f.Name)
	}
	r.factories[f.Name] = f
	r.log.Debug("factory registered", "factory", f.Name)
	return nil
}

// Unregister removes the factory called name. It reports whether one was
// registered.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	_, ok := r.factories[name]
	if ok {
		delete(r.factories, name)
	}
	r.mu.Unlock()

	if ok {
		r.log.Debug("factory unregistered", "factory", name)
	}
	return ok
}

// Find looks up a factory by name.
func (r *Registry) Find(name string) (*Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Make creates an element from the named factory. An empty name gives the
// element the factory name followed by a per-factory counter ("queue0").
func (r *Registry) Make(factory, name string) (*Element, error) {
	r.mu.Lock()
	f, ok := r.factories[factory]
	if ok && name == "" {
		name = fmt.Sprintf("%s%d", f.Name, r.counters[f.Name])
		r.counters[f.Name]++
	}
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFactory, factory)
	}
	return newElement(name, f, f.New())
}

// Factories returns every registered factory sorted by name.
func (r *Registry) Factories() []*Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Factory, 0, len(r.factories))
	for _, f := range r.factories {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
