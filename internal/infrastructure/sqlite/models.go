package sqlite

import (
	"fmt"
	"sort"
	"time"

	"github.com/zjrosen/levelsync/internal/syncproto"
)

// OverrideModel represents one row of the overrides table with its fields.
// Timestamps are Unix seconds.
type OverrideModel struct {
	UniqueID  string
	SourceID  string
	Revision  int64
	CreatedAt int64
	UpdatedAt int64
	Fields    []FieldModel
}

// FieldModel represents one row of override_fields. Value holds the text
// form accepted by syncproto.ParseValue.
type FieldModel struct {
	Name  string
	Kind  string
	Value string
}

// StoredOverride is an override record with its persistence metadata.
type StoredOverride struct {
	Record    syncproto.OverrideRecord
	SourceID  string
	Revision  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// toOverrideModel converts a record to its row form. Fields are sorted by
// name so writes are stable.
func toOverrideModel(sourceID string, rec syncproto.OverrideRecord, now time.Time) *OverrideModel {
	m := &OverrideModel{
		UniqueID:  rec.UniqueID,
		SourceID:  sourceID,
		CreatedAt: now.Unix(),
		UpdatedAt: now.Unix(),
		Fields:    make([]FieldModel, 0, len(rec.Fields)),
	}
	for name, v := range rec.Fields {
		m.Fields = append(m.Fields, FieldModel{Name: name, Kind: v.Kind.String(), Value: v.Raw()})
	}
	sort.Slice(m.Fields, func(i, j int) bool { return m.Fields[i].Name < m.Fields[j].Name })
	return m
}

// toDomain converts the row form back to a StoredOverride.
func (m *OverrideModel) toDomain() (StoredOverride, error) {
	rec := syncproto.OverrideRecord{
		UniqueID: m.UniqueID,
		Fields:   make(map[string]syncproto.Value, len(m.Fields)),
	}
	for _, f := range m.Fields {
		kind, err := syncproto.ParseValueKind(f.Kind)
		if err != nil {
			return StoredOverride{}, fmt.Errorf("field %s of %s: %w", f.Name, m.UniqueID, err)
		}
		v, err := syncproto.ParseValue(kind, f.Value)
		if err != nil {
			return StoredOverride{}, fmt.Errorf("field %s of %s: %w", f.Name, m.UniqueID, err)
		}
		rec.Fields[f.Name] = v
	}
	return StoredOverride{
		Record:    rec,
		SourceID:  m.SourceID,
		Revision:  m.Revision,
		CreatedAt: time.Unix(m.CreatedAt, 0),
		UpdatedAt: time.Unix(m.UpdatedAt, 0),
	}, nil
}
