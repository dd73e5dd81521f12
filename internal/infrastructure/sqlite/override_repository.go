package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/levelsync/internal/syncproto"
)

// ErrNotFound is returned when no override record exists for an id.
var ErrNotFound = errors.New("override record not found")

const overrideColumns = `unique_id, source_id, revision, created_at, updated_at`

// OverrideRepository persists override records.
type OverrideRepository struct {
	db  *sql.DB
	now func() time.Time
}

func newOverrideRepository(db *sql.DB) *OverrideRepository {
	return &OverrideRepository{db: db, now: time.Now}
}

func scanOverride(scanner interface{ Scan(...any) error }) (*OverrideModel, error) {
	var model OverrideModel
	err := scanner.Scan(&model.UniqueID, &model.SourceID, &model.Revision, &model.CreatedAt, &model.UpdatedAt)
	return &model, err
}

// Save inserts rec or replaces the stored fields of an existing record,
// bumping its revision.
func (r *OverrideRepository) Save(ctx context.Context, sourceID string, rec syncproto.OverrideRecord) error {
	if rec.UniqueID == "" {
		return errors.New("override record has no unique id")
	}
	model := toOverrideModel(sourceID, rec, r.now())

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO overrides (unique_id, source_id, revision, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(unique_id) DO UPDATE SET
			source_id = excluded.source_id,
			revision = overrides.revision + 1,
			updated_at = excluded.updated_at`,
		model.UniqueID, model.SourceID, model.CreatedAt, model.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert override: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM override_fields WHERE unique_id = ?`, model.UniqueID); err != nil {
		return fmt.Errorf("failed to clear override fields: %w", err)
	}
	for _, f := range model.Fields {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO override_fields (unique_id, name, kind, value) VALUES (?, ?, ?, ?)`,
			model.UniqueID, f.Name, f.Kind, f.Value,
		); err != nil {
			return fmt.Errorf("failed to insert override field %s: %w", f.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit override: %w", err)
	}
	return nil
}

// Get returns the stored record for uniqueID, or ErrNotFound.
func (r *OverrideRepository) Get(ctx context.Context, uniqueID string) (StoredOverride, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+overrideColumns+` FROM overrides WHERE unique_id = ?`, uniqueID)
	model, err := scanOverride(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredOverride{}, fmt.Errorf("%w: %s", ErrNotFound, uniqueID)
	}
	if err != nil {
		return StoredOverride{}, fmt.Errorf("failed to find override: %w", err)
	}
	if err := r.loadFields(ctx, model); err != nil {
		return StoredOverride{}, err
	}
	return model.toDomain()
}

// List returns every stored record ordered by unique id.
func (r *OverrideRepository) List(ctx context.Context) ([]StoredOverride, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+overrideColumns+` FROM overrides ORDER BY unique_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	var models []*OverrideModel
	for rows.Next() {
		model, err := scanOverride(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		models = append(models, model)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to iterate overrides: %w", err)
	}
	_ = rows.Close()

	out := make([]StoredOverride, 0, len(models))
	for _, model := range models {
		if err := r.loadFields(ctx, model); err != nil {
			return nil, err
		}
		stored, err := model.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	return out, nil
}

// Delete removes the record and its fields. Returns ErrNotFound when there
// was nothing to delete.
func (r *OverrideRepository) Delete(ctx context.Context, uniqueID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM overrides WHERE unique_id = ?`, uniqueID)
	if err != nil {
		return fmt.Errorf("failed to delete override: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, uniqueID)
	}
	return nil
}

func (r *OverrideRepository) loadFields(ctx context.Context, model *OverrideModel) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, kind, value FROM override_fields WHERE unique_id = ? ORDER BY name`, model.UniqueID)
	if err != nil {
		return fmt.Errorf("failed to load override fields: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var f FieldModel
		if err := rows.Scan(&f.Name, &f.Kind, &f.Value); err != nil {
			return fmt.Errorf("failed to scan override field: %w", err)
		}
		model.Fields = append(model.Fields, f)
	}
	return rows.Err()
}
