// Package content defines the replicable world-content model: contributing
// sources, templates with a stable network identity, and references that hold
// a template slot.
package content

import (
	"fmt"

	"github.com/google/uuid"
)

// networkNamespace scopes NetworkID derivation. Changing it changes every
// identity and breaks compatibility between builds.
var networkNamespace = uuid.MustParse("5b0c4fd2-8f3e-4d61-9a57-2f7c1f0d6e8a")

// NetworkID is the identity a template is instantiated by across processes.
type NetworkID = uuid.UUID

// Source is a contributing content package.
type Source struct {
	ID   string
	Name string
}

// Reserved sources.
var (
	// Baseline owns the fixed content set shipped with the game.
	Baseline = &Source{ID: "baseline", Name: "Baseline"}
	// Internal owns singleton service templates created by this module.
	Internal = &Source{ID: "internal", Name: "Internal"}
)

// IsBaseline reports whether s is the reserved baseline source.
func (s *Source) IsBaseline() bool {
	return s == Baseline
}

func (s *Source) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.ID
}

// Template is an instantiable world-content definition. Templates are
// referenced by pointer identity and never copied.
type Template struct {
	Name      string
	Source    *Source
	NetworkID NetworkID
}

// NewTemplate creates a template whose NetworkID is derived from the source id
// and name, so every process loading the same package computes the same id.
func NewTemplate(source *Source, name string) *Template {
	return &Template{
		Name:      name,
		Source:    source,
		NetworkID: DeriveNetworkID(source, name),
	}
}

// DeriveNetworkID returns the deterministic identity for (source, name).
func DeriveNetworkID(source *Source, name string) NetworkID {
	return uuid.NewSHA1(networkNamespace, []byte(source.String()+"/"+name))
}

func (t *Template) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s:%s", t.Source, t.Name)
}

// Reference is a slot that points at a template. Collision resolution may
// restore the slot to a different (baseline) template.
type Reference struct {
	target   *Template
	restored bool
}

// NewReference returns a reference holding t.
func NewReference(t *Template) *Reference {
	return &Reference{target: t}
}

// Template returns the template currently held.
func (r *Reference) Template() *Template {
	if r == nil {
		return nil
	}
	return r.target
}

// Restore points the reference at t.
func (r *Reference) Restore(t *Template) {
	r.target = t
	r.restored = true
}

// Restored reports whether the reference was redirected by Restore.
func (r *Reference) Restored() bool {
	return r != nil && r.restored
}

// Ref is an opaque, serializable reference to a content item by its unique
// identifier. It is what remote calls carry instead of templates.
type Ref struct {
	ID string `cbor:"1,keyasint"`
}

// IsZero reports whether the ref names nothing.
func (r Ref) IsZero() bool {
	return r.ID == ""
}

func (r Ref) String() string {
	return r.ID
}
