package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wevoice/wesub-sub003/internal/metrics"
	"github.com/wevoice/wesub-sub003/internal/tasks"
	"github.com/wevoice/wesub-sub003/internal/tracing"
	"github.com/wevoice/wesub-sub003/pkg/models"
)

// ModerationRequest carries one Review or Approve decision.
type ModerationRequest struct {
	TaskID   string
	Member   models.Member
	Decision string
	Note     string
}

// CompleteModeration records a Review/Approve decision and applies its
// consequences: a send-back keeps the draft private and reopens the
// authoring task; the final approval makes the draft public, spawns
// preferred-language Translate tasks and kicks off the publication side
// effects.
func (p *Pipeline) CompleteModeration(ctx context.Context, req *ModerationRequest) (*tasks.ModerationOutcome, error) {
	span, ctx := tracing.StartSpan(ctx, "pipeline.complete_moderation")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "task_id", req.TaskID)
	tracing.SetTag(span, "decision", req.Decision)

	timer := prometheus.NewTimer(metrics.PipelineDuration.WithLabelValues("complete_moderation"))
	defer timer.ObserveDuration()

	task, err := p.engine.Get(ctx, req.TaskID)
	if err != nil {
		return nil, p.reject(span, "task_lookup", err)
	}
	if !task.IsModeration() {
		return nil, p.reject(span, "task_state",
			fmt.Errorf("%w: task %s is not a moderation task", models.ErrTaskState, task.ID))
	}

	tv, wf, err := p.teamContext(ctx, task.VideoID)
	if err != nil {
		return nil, p.reject(span, "team_lookup", err)
	}
	if tv == nil {
		return nil, p.reject(span, "task_state",
			fmt.Errorf("%w: task %s has no team video", models.ErrTaskState, task.ID))
	}

	draft, err := p.moderatedDraft(ctx, task)
	if err != nil {
		return nil, p.reject(span, "draft_lookup", err)
	}

	reviewer := ""
	if task.Type == models.TaskTypeApprove {
		review, err := p.engine.LatestReview(ctx, tv.ID, task.LanguageCode)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, p.reject(span, "task_lookup", err)
		}
		if review != nil {
			reviewer = review.Assignee
		}
	}

	var outcome *tasks.ModerationOutcome
	err = p.tx.InTx(ctx, func(ctx context.Context) error {
		switch task.Type {
		case models.TaskTypeReview:
			outcome, err = p.engine.CompleteReview(ctx, wf, req.Member, task.ID, req.Decision, req.Note, draft.Author)
		default:
			outcome, err = p.engine.CompleteApprove(ctx, wf, req.Member, task.ID, req.Decision, req.Note, draft.Author, reviewer)
		}
		if err != nil {
			return err
		}

		if outcome.ReopenedTask != nil && draft.IsPublic() {
			return p.versions.SetVisibilityOverride(ctx, draft.ID, draft.VisibilityOverride, models.VisibilityPrivate)
		}
		if outcome.Publish && !draft.IsPublic() {
			return p.versions.SetVisibilityOverride(ctx, draft.ID, draft.VisibilityOverride, models.VisibilityPublic)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrPermissionDenied) || errors.Is(err, models.ErrTaskState) {
			return nil, p.reject(span, "moderation_denied", err)
		}
		tracing.LogError(span, err)
		return nil, fmt.Errorf("failed to complete moderation: %w", err)
	}

	p.invalidateTips(ctx, draft.VideoID, draft.LanguageCode)

	completedEvent := models.EventTaskCompleted
	if outcome.Task.Decision == models.DecisionSentBack {
		completedEvent = models.EventTaskRejected
	}
	p.emitTask(ctx, completedEvent, outcome.Task)
	metrics.TasksCompletedTotal.WithLabelValues(outcome.Task.Type, outcome.Task.Decision).Inc()

	if outcome.ReopenedTask != nil {
		p.emitTask(ctx, models.EventTaskCreated, outcome.ReopenedTask)
		metrics.TasksCreatedTotal.WithLabelValues(outcome.ReopenedTask.Type).Inc()
	}
	if outcome.NextTask != nil {
		p.emitTask(ctx, models.EventTaskCreated, outcome.NextTask)
		metrics.TasksCreatedTotal.WithLabelValues(outcome.NextTask.Type).Inc()
	}

	if outcome.Publish {
		p.finishPublication(ctx, tv, wf, draft)
	}

	if p.logger != nil {
		p.logger.LogTaskEvent(outcome.Task.ID, outcome.Task.Type, outcome.Task.State, outcome.Task.Decision)
	}
	return outcome, nil
}

// moderatedDraft resolves the version a moderation task is judging: the
// recorded version number, else the newest version of the language.
func (p *Pipeline) moderatedDraft(ctx context.Context, task *models.Task) (*models.SubtitleVersion, error) {
	if task.VersionNumber != nil {
		return p.versions.Get(ctx, task.VideoID, task.LanguageCode, *task.VersionNumber)
	}
	return p.versions.Tip(ctx, task.VideoID, task.LanguageCode, models.PolicyAny)
}

// finishPublication runs the post-commit consequences of a language
// going public: the published event, preferred-language Translate
// tasks, and the index/export/provider jobs. Everything here is
// best-effort and idempotent.
func (p *Pipeline) finishPublication(ctx context.Context, tv *models.TeamVideo, wf *models.Workflow, draft *models.SubtitleVersion) {
	p.emit(ctx, models.EventLanguagePublished, models.LanguagePublishedData{
		VideoID:       draft.VideoID,
		LanguageCode:  draft.LanguageCode,
		VersionNumber: draft.VersionNumber,
	})
	metrics.LanguagesPublishedTotal.Inc()

	p.fanOutTranslations(ctx, tv, wf, draft)

	published := *draft
	published.VisibilityOverride = models.VisibilityPublic
	p.enqueueSideEffects(ctx, &published)
}
