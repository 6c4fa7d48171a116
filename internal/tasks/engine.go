package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/wevoice/wesub-sub003/internal/logging"
	"github.com/wevoice/wesub-sub003/internal/workflow"
	"github.com/wevoice/wesub-sub003/pkg/models"
)

// TaskStore is the persistence the engine drives. Transitions are
// compare-and-set on the open state; Create fails with
// models.ErrConflict when an open task of the same kind already exists.
type TaskStore interface {
	Create(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, id string) (*models.Task, error)
	GetOpen(ctx context.Context, teamVideoID, languageCode, taskType string) (*models.Task, error)
	ListOpen(ctx context.Context, teamVideoID string) ([]*models.Task, error)
	SetAssignee(ctx context.Context, taskID, assignee string) error
	Transition(ctx context.Context, taskID, toState, decision, body string, versionNumber *int) error
	Reopen(ctx context.Context, taskID, assignee string) error
	LatestCompletedAuthoring(ctx context.Context, teamVideoID, languageCode string) (*models.Task, error)
	LatestCompletedReview(ctx context.Context, teamVideoID, languageCode string) (*models.Task, error)
}

// ModerationOutcome describes what a completed Review/Approve task did
// to the rest of the flow. The pipeline applies the visibility change
// and emits events.
type ModerationOutcome struct {
	Task *models.Task

	// ReopenedTask is the authoring task sent back to the original
	// author, when the decision was SentBack.
	ReopenedTask *models.Task

	// NextTask is the Approve task spawned by an approving Review, when
	// the approve gate is enabled.
	NextTask *models.Task

	// Publish is set when the moderation chain is exhausted and the
	// draft version becomes public.
	Publish bool
}

// Engine runs the task state machine: assignment, completion,
// rejection and workflow-driven auto-creation.
type Engine struct {
	store  TaskStore
	policy *workflow.Policy
	logger *logging.Logger
}

// NewEngine creates a task engine
func NewEngine(store TaskStore, policy *workflow.Policy, logger *logging.Logger) *Engine {
	return &Engine{store: store, policy: policy, logger: logger}
}

// EnsureOpen idempotently creates an open task. It returns the task and
// whether this call created it; an existing open task of the same kind
// is a no-op.
func (e *Engine) EnsureOpen(ctx context.Context, task *models.Task) (*models.Task, bool, error) {
	existing, err := e.store.GetOpen(ctx, task.TeamVideoID, task.LanguageCode, task.Type)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, false, err
	}

	task.State = models.TaskStateOpen
	if err := e.store.Create(ctx, task); err != nil {
		if errors.Is(err, models.ErrConflict) {
			// Lost a race to another creator; adopt theirs.
			existing, err := e.store.GetOpen(ctx, task.TeamVideoID, task.LanguageCode, task.Type)
			if err != nil {
				return nil, false, err
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	if e.logger != nil {
		e.logger.LogTaskEvent(task.ID, task.Type, task.State, "created")
	}
	return task, true, nil
}

// Get loads a task by ID.
func (e *Engine) Get(ctx context.Context, taskID string) (*models.Task, error) {
	return e.store.Get(ctx, taskID)
}

// OpenAuthoring returns the open Subtitle or Translate task for a
// language, or nil when the language has none.
func (e *Engine) OpenAuthoring(ctx context.Context, teamVideoID, languageCode string) (*models.Task, error) {
	for _, taskType := range []string{models.TaskTypeSubtitle, models.TaskTypeTranslate} {
		task, err := e.store.GetOpen(ctx, teamVideoID, languageCode, taskType)
		if err == nil {
			return task, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// LatestReview returns the most recently completed Review task for a
// language. Rollback and approve permission checks use its assignee and
// decision.
func (e *Engine) LatestReview(ctx context.Context, teamVideoID, languageCode string) (*models.Task, error) {
	return e.store.LatestCompletedReview(ctx, teamVideoID, languageCode)
}

// Assign gives an open task to a member. Permitted when the task is
// unassigned or already theirs and the member passes the gate for the
// task type.
func (e *Engine) Assign(ctx context.Context, w *models.Workflow, member models.Member, taskID string) (*models.Task, error) {
	task, err := e.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.IsOpen() {
		return nil, fmt.Errorf("%w: task %s is %s", models.ErrTaskState, task.ID, task.State)
	}
	if !e.policy.CanAssign(w, member, task) {
		return nil, models.ErrPermissionDenied
	}

	if err := e.store.SetAssignee(ctx, task.ID, member.UserID); err != nil {
		return nil, err
	}
	task.Assignee = member.UserID
	return task, nil
}

// CompleteAuthoring closes a Subtitle/Translate task with the version it
// produced.
func (e *Engine) CompleteAuthoring(ctx context.Context, task *models.Task, versionNumber int) error {
	if !task.IsAuthoring() {
		return fmt.Errorf("%w: task %s is not an authoring task", models.ErrTaskState, task.ID)
	}

	if err := e.store.Transition(ctx, task.ID, models.TaskStateCompleted, "", "", &versionNumber); err != nil {
		return err
	}
	task.State = models.TaskStateCompleted
	task.VersionNumber = &versionNumber

	if e.logger != nil {
		e.logger.LogTaskEvent(task.ID, task.Type, task.State, "completed")
	}
	return nil
}

// CompleteReview records a Review decision. An approving review spawns
// the Approve task when that gate is enabled, else signals publication.
// A send-back reopens the authoring task assigned to the draft's author.
func (e *Engine) CompleteReview(ctx context.Context, w *models.Workflow, member models.Member, taskID, decision, note, draftAuthor string) (*ModerationOutcome, error) {
	task, err := e.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Type != models.TaskTypeReview {
		return nil, fmt.Errorf("%w: task %s is not a review task", models.ErrTaskState, task.ID)
	}
	if !e.policy.CanReview(w, member, draftAuthor) {
		return nil, models.ErrPermissionDenied
	}

	return e.completeModeration(ctx, w, task, member, decision, note, draftAuthor)
}

// CompleteApprove records an Approve decision. reviewer is the member
// who reviewed the draft, when the review gate ran.
func (e *Engine) CompleteApprove(ctx context.Context, w *models.Workflow, member models.Member, taskID, decision, note, draftAuthor, reviewer string) (*ModerationOutcome, error) {
	task, err := e.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Type != models.TaskTypeApprove {
		return nil, fmt.Errorf("%w: task %s is not an approve task", models.ErrTaskState, task.ID)
	}
	if !e.policy.CanApprove(w, member, reviewer) {
		return nil, models.ErrPermissionDenied
	}

	return e.completeModeration(ctx, w, task, member, decision, note, draftAuthor)
}

func (e *Engine) completeModeration(ctx context.Context, w *models.Workflow, task *models.Task, member models.Member, decision, note, draftAuthor string) (*ModerationOutcome, error) {
	if decision != models.DecisionApproved && decision != models.DecisionSentBack {
		return nil, fmt.Errorf("%w: unknown decision %q", models.ErrTaskState, decision)
	}

	// Record who decided; unassigned moderation tasks are adopted by
	// the deciding member.
	if task.Assignee == "" {
		if err := e.store.SetAssignee(ctx, task.ID, member.UserID); err != nil {
			return nil, err
		}
		task.Assignee = member.UserID
	}

	if err := e.store.Transition(ctx, task.ID, models.TaskStateCompleted, decision, note, nil); err != nil {
		return nil, err
	}
	task.State = models.TaskStateCompleted
	task.Decision = decision
	task.Body = note

	outcome := &ModerationOutcome{Task: task}

	if decision == models.DecisionSentBack {
		reopened, err := e.reopenAuthoring(ctx, task, draftAuthor)
		if err != nil {
			return nil, err
		}
		outcome.ReopenedTask = reopened
		if e.logger != nil {
			e.logger.LogTaskEvent(task.ID, task.Type, task.State, "sent_back")
		}
		return outcome, nil
	}

	if task.Type == models.TaskTypeReview && w.ApproveEnabled() {
		next, _, err := e.EnsureOpen(ctx, &models.Task{
			TeamVideoID:   task.TeamVideoID,
			VideoID:       task.VideoID,
			LanguageCode:  task.LanguageCode,
			Type:          models.TaskTypeApprove,
			Priority:      task.Priority,
			VersionNumber: task.VersionNumber,
		})
		if err != nil {
			return nil, err
		}
		outcome.NextTask = next
	} else {
		outcome.Publish = true
	}

	if e.logger != nil {
		e.logger.LogTaskEvent(task.ID, task.Type, task.State, "approved")
	}
	return outcome, nil
}

// reopenAuthoring returns the draft to its author: the originating
// Subtitle/Translate task goes back to open, assigned to whoever wrote
// the draft.
func (e *Engine) reopenAuthoring(ctx context.Context, moderation *models.Task, draftAuthor string) (*models.Task, error) {
	prior, err := e.store.LatestCompletedAuthoring(ctx, moderation.TeamVideoID, moderation.LanguageCode)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	if prior != nil {
		assignee := prior.Assignee
		if assignee == "" {
			assignee = draftAuthor
		}
		if err := e.store.Reopen(ctx, prior.ID, assignee); err != nil {
			return nil, err
		}
		prior.State = models.TaskStateOpen
		prior.Assignee = assignee
		return prior, nil
	}

	// No recorded authoring task; open a fresh one for the author.
	task, _, err := e.EnsureOpen(ctx, &models.Task{
		TeamVideoID:  moderation.TeamVideoID,
		VideoID:      moderation.VideoID,
		LanguageCode: moderation.LanguageCode,
		Type:         models.TaskTypeSubtitle,
		Assignee:     draftAuthor,
		Priority:     moderation.Priority,
	})
	return task, err
}

// Delete removes an open task. Admin only; rejected drafts keep their
// history.
func (e *Engine) Delete(ctx context.Context, member models.Member, taskID string) error {
	if member.Role < models.LevelAdmin {
		return models.ErrPermissionDenied
	}

	task, err := e.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if !task.IsOpen() {
		return fmt.Errorf("%w: task %s is %s", models.ErrTaskState, task.ID, task.State)
	}

	return e.store.Transition(ctx, task.ID, models.TaskStateDeleted, "", "", nil)
}

// IncompleteAuthoring returns the open Subtitle/Translate tasks of a
// team video, in pickup order.
func (e *Engine) IncompleteAuthoring(ctx context.Context, teamVideoID string) ([]*models.Task, error) {
	return e.openOfKind(ctx, teamVideoID, func(t *models.Task) bool { return t.IsAuthoring() }, "")
}

// IncompleteModeration returns the open Review/Approve tasks of a team
// video, optionally filtered to one language.
func (e *Engine) IncompleteModeration(ctx context.Context, teamVideoID, languageCode string) ([]*models.Task, error) {
	return e.openOfKind(ctx, teamVideoID, func(t *models.Task) bool { return t.IsModeration() }, languageCode)
}

func (e *Engine) openOfKind(ctx context.Context, teamVideoID string, match func(*models.Task) bool, languageCode string) ([]*models.Task, error) {
	open, err := e.store.ListOpen(ctx, teamVideoID)
	if err != nil {
		return nil, err
	}

	var filtered []*models.Task
	for _, task := range open {
		if !match(task) {
			continue
		}
		if languageCode != "" && task.LanguageCode != languageCode {
			continue
		}
		filtered = append(filtered, task)
	}
	return OrderTasks(filtered), nil
}

// AutoCreateTranslations opens a Translate task for each team preferred
// language that has no open one yet. Best-effort and idempotent.
func (e *Engine) AutoCreateTranslations(ctx context.Context, w *models.Workflow, teamVideoID, videoID, sourceLanguage string) ([]*models.Task, error) {
	if w == nil || !w.AutocreateTranslate {
		return nil, nil
	}

	var created []*models.Task
	for _, code := range w.PreferredLanguages {
		if code == sourceLanguage {
			continue
		}
		task, isNew, err := e.EnsureOpen(ctx, &models.Task{
			TeamVideoID:  teamVideoID,
			VideoID:      videoID,
			LanguageCode: code,
			Type:         models.TaskTypeTranslate,
			Priority:     models.TaskPriorityNormal,
		})
		if err != nil {
			if e.logger != nil {
				e.logger.WithError(err).WithLanguage(code).Warn("Failed to auto-create translate task")
			}
			continue
		}
		if isNew {
			created = append(created, task)
		}
	}
	return created, nil
}
