package presentation

import (
	"sort"
	"time"

	"github.com/zjrosen/levelsync/internal/infrastructure/sqlite"
	"github.com/zjrosen/levelsync/internal/registry"
)

// SourceDTO represents one contributing source and the templates it had admitted
type SourceDTO struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Baseline  bool          `json:"baseline"`
	Templates []TemplateDTO `json:"templates"`
}

// TemplateDTO represents an admitted template
type TemplateDTO struct {
	Name      string `json:"name"`
	NetworkID string `json:"network_id"`
}

// FromSourceGroup converts a registry source group to a DTO.
func FromSourceGroup(g registry.SourceGroup) SourceDTO {
	templates := make([]TemplateDTO, len(g.Templates))
	for i, t := range g.Templates {
		templates[i] = TemplateDTO{
			Name:      t.Name,
			NetworkID: t.NetworkID.String(),
		}
	}

	return SourceDTO{
		ID:        g.Source.ID,
		Name:      g.Source.Name,
		Baseline:  g.Source.IsBaseline(),
		Templates: templates,
	}
}

// FromSourceGroups converts source groups to DTOs, keeping contribution order
func FromSourceGroups(groups []registry.SourceGroup) []SourceDTO {
	dtos := make([]SourceDTO, len(groups))
	for i, g := range groups {
		dtos[i] = FromSourceGroup(g)
	}
	return dtos
}

// DiffDTO is the result of comparing two registries
type DiffDTO struct {
	Want  string `json:"want"`
	Got   string `json:"got"`
	Match bool   `json:"match"`
	Diff  string `json:"diff,omitempty"`
}

// OverrideDTO represents a stored override record
type OverrideDTO struct {
	UniqueID  string     `json:"unique_id"`
	SourceID  string     `json:"source_id"`
	Revision  int64      `json:"revision"`
	UpdatedAt time.Time  `json:"updated_at"`
	Fields    []FieldDTO `json:"fields"`
}

// FieldDTO represents one override field in its text form
type FieldDTO struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// FromStoredOverride converts a stored record to a DTO with fields sorted by name.
func FromStoredOverride(o sqlite.StoredOverride) OverrideDTO {
	fields := make([]FieldDTO, 0, len(o.Record.Fields))
	for name, v := range o.Record.Fields {
		fields = append(fields, FieldDTO{Name: name, Kind: v.Kind.String(), Value: v.Raw()})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

	return OverrideDTO{
		UniqueID:  o.Record.UniqueID,
		SourceID:  o.SourceID,
		Revision:  o.Revision,
		UpdatedAt: o.UpdatedAt.UTC(),
		Fields:    fields,
	}
}

// FromStoredOverrides converts stored records to DTOs
func FromStoredOverrides(overrides []sqlite.StoredOverride) []OverrideDTO {
	dtos := make([]OverrideDTO, len(overrides))
	for i, o := range overrides {
		dtos[i] = FromStoredOverride(o)
	}
	return dtos
}
