package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wevoice/wesub-sub003/pkg/models"
)

const taskColumns = `id, team_video_id, video_id, language_code, type, assignee,
	       priority, state, decision, body, version_number, created_at, completed_at`

// TaskRepository stores moderation tasks. State transitions use
// compare-and-set updates so the engine can reject invalid transitions
// without read-modify-write races.
type TaskRepository struct {
	db *DB
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create inserts an open task. A second open task for the same
// (team_video, language, type) loses to the partial unique index and
// surfaces as models.ErrConflict.
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	q := r.db.querierFrom(ctx)

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.State == "" {
		task.State = models.TaskStateOpen
	}

	query := `
		INSERT INTO tasks (id, team_video_id, video_id, language_code, type, assignee,
		                   priority, state, decision, body, version_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`

	err := q.QueryRow(ctx, query,
		task.ID, task.TeamVideoID, task.VideoID, task.LanguageCode, task.Type,
		task.Assignee, task.Priority, task.State, task.Decision, task.Body,
		task.VersionNumber,
	).Scan(&task.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return models.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// Get retrieves a task by ID
func (r *TaskRepository) Get(ctx context.Context, id string) (*models.Task, error) {
	q := r.db.querierFrom(ctx)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	return scanTask(q.QueryRow(ctx, query, id))
}

// GetOpen returns the open task for a (team_video, language, type), or
// models.ErrNotFound
func (r *TaskRepository) GetOpen(ctx context.Context, teamVideoID, languageCode, taskType string) (*models.Task, error) {
	q := r.db.querierFrom(ctx)

	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE team_video_id = $1 AND language_code = $2 AND type = $3 AND state = 'open'
	`

	return scanTask(q.QueryRow(ctx, query, teamVideoID, languageCode, taskType))
}

// ListOpen lists the open tasks of a team video, highest priority first
// and FIFO within a priority
func (r *TaskRepository) ListOpen(ctx context.Context, teamVideoID string) ([]*models.Task, error) {
	q := r.db.querierFrom(ctx)

	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE team_video_id = $1 AND state = 'open'
		ORDER BY priority DESC, created_at ASC
	`

	rows, err := q.Query(ctx, query, teamVideoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// SetAssignee assigns an open task
func (r *TaskRepository) SetAssignee(ctx context.Context, taskID, assignee string) error {
	q := r.db.querierFrom(ctx)

	tag, err := q.Exec(ctx,
		`UPDATE tasks SET assignee = $2 WHERE id = $1 AND state = 'open'`,
		taskID, assignee,
	)
	if err != nil {
		return fmt.Errorf("failed to assign task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrTaskState
	}
	return nil
}

// Transition moves a task out of the open state, recording the decision,
// note and version. The open-state guard makes a second completion fail
// with models.ErrTaskState.
func (r *TaskRepository) Transition(ctx context.Context, taskID, toState, decision, body string, versionNumber *int) error {
	q := r.db.querierFrom(ctx)

	tag, err := q.Exec(ctx, `
		UPDATE tasks
		SET state = $2, decision = $3, body = $4,
		    version_number = COALESCE($5, version_number), completed_at = $6
		WHERE id = $1 AND state = 'open'
	`, taskID, toState, decision, body, versionNumber, time.Now())
	if err != nil {
		return fmt.Errorf("failed to transition task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrTaskState
	}
	return nil
}

// Reopen returns a completed task to the open state with a new assignee.
// Used when a review or approval sends a draft back to its author.
func (r *TaskRepository) Reopen(ctx context.Context, taskID, assignee string) error {
	q := r.db.querierFrom(ctx)

	tag, err := q.Exec(ctx, `
		UPDATE tasks
		SET state = 'open', assignee = $2, decision = '', completed_at = NULL
		WHERE id = $1 AND state = 'completed'
	`, taskID, assignee)
	if err != nil {
		return fmt.Errorf("failed to reopen task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrTaskState
	}
	return nil
}

// LatestCompletedAuthoring returns the most recently completed
// Subtitle/Translate task for a language, used to find the author a
// rejected draft goes back to.
func (r *TaskRepository) LatestCompletedAuthoring(ctx context.Context, teamVideoID, languageCode string) (*models.Task, error) {
	q := r.db.querierFrom(ctx)

	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE team_video_id = $1 AND language_code = $2
		  AND type IN ('subtitle', 'translate') AND state = 'completed'
		ORDER BY completed_at DESC
		LIMIT 1
	`

	return scanTask(q.QueryRow(ctx, query, teamVideoID, languageCode))
}

// LatestCompletedReview returns the most recently completed Review task
// for a language. The approve gate uses it to keep reviewer and
// approver distinct.
func (r *TaskRepository) LatestCompletedReview(ctx context.Context, teamVideoID, languageCode string) (*models.Task, error) {
	q := r.db.querierFrom(ctx)

	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE team_video_id = $1 AND language_code = $2
		  AND type = 'review' AND state = 'completed'
		ORDER BY completed_at DESC
		LIMIT 1
	`

	return scanTask(q.QueryRow(ctx, query, teamVideoID, languageCode))
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var task models.Task
	err := row.Scan(
		&task.ID, &task.TeamVideoID, &task.VideoID, &task.LanguageCode, &task.Type,
		&task.Assignee, &task.Priority, &task.State, &task.Decision, &task.Body,
		&task.VersionNumber, &task.CreatedAt, &task.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	return &task, nil
}
