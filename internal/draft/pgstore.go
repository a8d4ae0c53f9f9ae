package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bucketworks/boardwalk/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5. It expects a table:
//
//	CREATE TABLE drafts (
//	    subject_id  TEXT        NOT NULL,
//	    action_id   TEXT        NOT NULL,
//	    project_id  TEXT        NOT NULL,
//	    name        TEXT,
//	    description TEXT,
//	    owner_text  TEXT,
//	    due_at      TIMESTAMPTZ,
//	    tags        JSONB,
//	    updated_at  TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (subject_id, action_id)
//	);
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL draft store over an existing pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Put saves or replaces the subject's draft for d.ActionID.
func (s *PgStore) Put(ctx context.Context, subjectID string, d model.Draft) error {
	var tagsJSON []byte
	if d.Tags != nil {
		var err error
		tagsJSON, err = json.Marshal(*d.Tags)
		if err != nil {
			return fmt.Errorf("marshal draft tags: %w", err)
		}
	}

	updatedAt := d.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO drafts (
			subject_id, action_id, project_id,
			name, description, owner_text, due_at, tags, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (subject_id, action_id) DO UPDATE SET
			project_id  = EXCLUDED.project_id,
			name        = EXCLUDED.name,
			description = EXCLUDED.description,
			owner_text  = EXCLUDED.owner_text,
			due_at      = EXCLUDED.due_at,
			tags        = EXCLUDED.tags,
			updated_at  = EXCLUDED.updated_at`,
		subjectID, d.ActionID, d.ProjectID,
		d.Name, d.Description, d.Owner, d.DueAt, tagsJSON, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert draft: %w", err)
	}
	return nil
}

// Get returns the subject's draft for an action.
func (s *PgStore) Get(ctx context.Context, subjectID, actionID string) (model.Draft, bool, error) {
	d, err := scanDraft(s.pool.QueryRow(ctx, `
		SELECT action_id, project_id, name, description, owner_text, due_at, tags, updated_at
		FROM drafts
		WHERE subject_id = $1 AND action_id = $2`,
		subjectID, actionID,
	))
	if err == pgx.ErrNoRows {
		return model.Draft{}, false, nil
	}
	if err != nil {
		return model.Draft{}, false, fmt.Errorf("query draft: %w", err)
	}
	return d, true, nil
}

// Delete removes the subject's draft for an action. Deleting an absent draft
// is not an error.
func (s *PgStore) Delete(ctx context.Context, subjectID, actionID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM drafts
		WHERE subject_id = $1 AND action_id = $2`,
		subjectID, actionID,
	)
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// ListByProject returns the subject's drafts within one project, newest
// first.
func (s *PgStore) ListByProject(ctx context.Context, subjectID, projectID string) ([]model.Draft, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT action_id, project_id, name, description, owner_text, due_at, tags, updated_at
		FROM drafts
		WHERE subject_id = $1 AND project_id = $2
		ORDER BY updated_at DESC`,
		subjectID, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query drafts: %w", err)
	}
	defer rows.Close()

	var drafts []model.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

// HealthCheck verifies the database connection.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

func scanDraft(row pgx.Row) (model.Draft, error) {
	var d model.Draft
	var tagsJSON []byte

	err := row.Scan(
		&d.ActionID, &d.ProjectID,
		&d.Name, &d.Description, &d.Owner, &d.DueAt, &tagsJSON, &d.UpdatedAt,
	)
	if err != nil {
		return model.Draft{}, err
	}

	if tagsJSON != nil {
		var tags []string
		if err := json.Unmarshal(tagsJSON, &tags); err != nil {
			return model.Draft{}, fmt.Errorf("unmarshal draft tags: %w", err)
		}
		d.Tags = &tags
	}
	return d, nil
}
