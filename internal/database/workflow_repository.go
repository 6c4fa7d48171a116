package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/wevoice/wesub-sub003/pkg/models"
)

const workflowColumns = `id, team_id, project_id, autocreate_subtitle, autocreate_translate,
	       review_allowed, approve_allowed, subtitle_policy, translate_policy,
	       preferred_languages, created_at, updated_at`

// WorkflowRepository stores the per-team moderation policy with optional
// per-project overrides.
type WorkflowRepository struct {
	db *DB
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// Upsert writes a workflow record
func (r *WorkflowRepository) Upsert(ctx context.Context, w *models.Workflow) error {
	q := r.db.querierFrom(ctx)

	if w.ID == "" {
		w.ID = uuid.New().String()
	}

	query := `
		INSERT INTO workflows (id, team_id, project_id, autocreate_subtitle, autocreate_translate,
		                       review_allowed, approve_allowed, subtitle_policy, translate_policy,
		                       preferred_languages)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (team_id, project_id) DO UPDATE SET
			autocreate_subtitle = EXCLUDED.autocreate_subtitle,
			autocreate_translate = EXCLUDED.autocreate_translate,
			review_allowed = EXCLUDED.review_allowed,
			approve_allowed = EXCLUDED.approve_allowed,
			subtitle_policy = EXCLUDED.subtitle_policy,
			translate_policy = EXCLUDED.translate_policy,
			preferred_languages = EXCLUDED.preferred_languages,
			updated_at = now()
		RETURNING id, created_at, updated_at
	`

	err := q.QueryRow(ctx, query,
		w.ID, w.TeamID, w.ProjectID, w.AutocreateSubtitle, w.AutocreateTranslate,
		w.ReviewAllowed, w.ApproveAllowed, w.SubtitlePolicy, w.TranslatePolicy,
		w.PreferredLanguages,
	).Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert workflow: %w", err)
	}
	return nil
}

// Get returns the effective workflow for a team and project: the project
// override when present, else the team default, else models.ErrNotFound.
func (r *WorkflowRepository) Get(ctx context.Context, teamID, projectID string) (*models.Workflow, error) {
	q := r.db.querierFrom(ctx)

	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE team_id = $1 AND project_id IN ($2, '')
		ORDER BY project_id DESC
		LIMIT 1
	`

	var w models.Workflow
	err := q.QueryRow(ctx, query, teamID, projectID).Scan(
		&w.ID, &w.TeamID, &w.ProjectID, &w.AutocreateSubtitle, &w.AutocreateTranslate,
		&w.ReviewAllowed, &w.ApproveAllowed, &w.SubtitlePolicy, &w.TranslatePolicy,
		&w.PreferredLanguages, &w.CreatedAt, &w.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	return &w, nil
}
