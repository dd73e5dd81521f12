// Package registry provides the TemplateRegistry: the table of replicable
// templates contributed by content packages, deduplicated by identity and
// resolved against the fixed baseline set by name.
package registry

import (
	"sync"

	"github.com/zjrosen/levelsync/internal/content"
	"github.com/zjrosen/levelsync/internal/log"
	"github.com/zjrosen/levelsync/internal/metrics"
)

// Entry records one admitted template.
type Entry struct {
	Template *content.Template
	Source   *content.Source
	Baseline bool
}

// SourceGroup is the ordered list of templates a source contributed.
type SourceGroup struct {
	Source    *content.Source
	Templates []*content.Template
}

// Registry is the process-wide template table. It is safe for concurrent use;
// mutation is only accepted while the registry is unsealed.
type Registry struct {
	mu sync.RWMutex

	entries   map[*content.Template]*Entry
	byNetwork map[content.NetworkID]*Entry
	baseline  map[string]*content.Template
	redirects map[*content.Template]*content.Template

	groups      map[*content.Source][]*content.Template
	groupOrder  []*content.Source
	baselineSet bool
	sealed      bool

	metrics *metrics.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics records registration outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// New creates an empty, unsealed registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries:   make(map[*content.Template]*Entry),
		byNetwork: make(map[content.NetworkID]*Entry),
		baseline:  make(map[string]*content.Template),
		redirects: make(map[*content.Template]*content.Template),
		groups:    make(map[*content.Source][]*content.Template),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterBaseline seeds the registry and its name index with the fixed
// baseline set. It runs once, before the session window opens.
func (r *Registry) RegisterBaseline(templates []*content.Template) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		log.Error(log.CatRegistry, "baseline registration attempted after the session started", "count", len(templates))
		return
	}
	if r.baselineSet {
		log.Warn(log.CatRegistry, "baseline already registered, ignoring", "count", len(templates))
		return
	}
	if r.packageCount() > 0 {
		log.Warn(log.CatRegistry, "baseline registered after package content; earlier templates were not checked for collisions")
	}

	for _, t := range templates {
		if t == nil {
			continue
		}
		if _, exists := r.entries[t]; exists {
			continue
		}
		if _, dup := r.baseline[t.Name]; dup {
			log.Warn(log.CatRegistry, "duplicate baseline template name", "name", t.Name)
			continue
		}
		r.admit(content.Baseline, t, true)
		r.baseline[t.Name] = t
	}
	r.baselineSet = true
	r.metrics.SetTemplates(len(r.entries))
	log.Info(log.CatRegistry, "baseline registered", "count", len(r.baseline))
}

// Register admits template under source. It returns true only when a new
// network identity was admitted. A template whose name matches a baseline
// template is redirected to the baseline instance instead.
func (r *Registry) Register(source *content.Source, template *content.Template) bool {
	if source == nil || template == nil {
		r.metrics.Registration(metrics.OutcomeInvalid)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		log.Warn(log.CatRegistry, "attempted to register template after the session started", "template", template, "source", source)
		r.metrics.Registration(metrics.OutcomeSealed)
		return false
	}
	return r.register(source, template)
}

// RegisterReference resolves a template slot: when the referenced name
// exists in the baseline the slot is restored to the baseline template,
// otherwise the referenced template is registered.
func (r *Registry) RegisterReference(source *content.Source, ref *content.Reference) bool {
	template := ref.Template()
	if source == nil || template == nil {
		r.metrics.Registration(metrics.OutcomeInvalid)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if baseline, ok := r.baseline[template.Name]; ok {
		if baseline != template {
			ref.Restore(baseline)
			r.redirects[template] = baseline
			r.metrics.Registration(metrics.OutcomeRedirected)
		}
		return false
	}
	if r.sealed {
		log.Warn(log.CatRegistry, "attempted to register referenced template after the session started", "template", template, "source", source)
		r.metrics.Registration(metrics.OutcomeSealed)
		return false
	}
	return r.register(source, template)
}

// register must be called with mu held.
func (r *Registry) register(source *content.Source, template *content.Template) bool {
	if _, exists := r.entries[template]; exists {
		r.metrics.Registration(metrics.OutcomeDuplicate)
		return false
	}
	if baseline, ok := r.baseline[template.Name]; ok {
		r.redirects[template] = baseline
		log.Debug(log.CatRegistry, "template resolved to baseline", "template", template, "baseline", baseline)
		r.metrics.Registration(metrics.OutcomeRedirected)
		return false
	}
	if existing, ok := r.byNetwork[template.NetworkID]; ok {
		log.Warn(log.CatRegistry, "network identity already admitted", "template", template, "existing", existing.Template)
		r.metrics.Registration(metrics.OutcomeDuplicate)
		return false
	}

	r.admit(source, template, false)
	r.metrics.Registration(metrics.OutcomeAdmitted)
	r.metrics.SetTemplates(len(r.entries))
	return true
}

func (r *Registry) admit(source *content.Source, template *content.Template, baseline bool) {
	entry := &Entry{Template: template, Source: source, Baseline: baseline}
	r.entries[template] = entry
	r.byNetwork[template.NetworkID] = entry
	if _, ok := r.groups[source]; !ok {
		r.groupOrder = append(r.groupOrder, source)
	}
	r.groups[source] = append(r.groups[source], template)
}

func (r *Registry) packageCount() int {
	n := 0
	for _, e := range r.entries {
		if !e.Baseline {
			n++
		}
	}
	return n
}

// Lookup returns the entry for template. Absence is a valid outcome.
func (r *Registry) Lookup(template *content.Template) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[template]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// LookupNetworkID returns the entry admitted under id.
func (r *Registry) LookupNetworkID(id content.NetworkID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byNetwork[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Resolve returns the template every holder of t should use: the baseline
// instance when t collided by name, otherwise t itself.
func (r *Registry) Resolve(t *content.Template) *content.Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if baseline, ok := r.redirects[t]; ok {
		return baseline
	}
	return t
}

// Seal closes the mutator window for the current session.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Unseal reopens the mutator window once the session has ended.
func (r *Registry) Unseal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = false
}

// Sealed reports whether registration is currently rejected.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Len returns the number of admitted templates, baseline included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Groups returns the source groups in first-contribution order.
func (r *Registry) Groups() []SourceGroup {
	r.mu.RLock()
	defer r.mu.RUnlock()

	groups := make([]SourceGroup, 0, len(r.groupOrder))
	for _, src := range r.groupOrder {
		templates := make([]*content.Template, len(r.groups[src]))
		copy(templates, r.groups[src])
		groups = append(groups, SourceGroup{Source: src, Templates: templates})
	}
	return groups
}
