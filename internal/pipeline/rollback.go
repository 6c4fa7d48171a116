package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wevoice/wesub-sub003/internal/metrics"
	"github.com/wevoice/wesub-sub003/internal/tracing"
	"github.com/wevoice/wesub-sub003/pkg/models"
)

// RollbackRequest carries one rollback call.
type RollbackRequest struct {
	VideoID       string
	LanguageCode  string
	TargetVersion int
	Requester     models.Member
	SessionKey    string
}

// Rollback appends a new version carrying the payload of an earlier
// one. History is never rewritten; the rollback is a normal append with
// rollback_of_version_number set. Who may roll back, and whether the
// result is public immediately, depends on where the language sits in
// the moderation flow.
func (p *Pipeline) Rollback(ctx context.Context, req *RollbackRequest) (*models.SubtitleVersion, error) {
	span, ctx := tracing.StartSpan(ctx, "pipeline.rollback")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "video_id", req.VideoID)
	tracing.SetTag(span, "language_code", req.LanguageCode)
	tracing.SetTag(span, "target_version", req.TargetVersion)

	timer := prometheus.NewTimer(metrics.PipelineDuration.WithLabelValues("rollback"))
	defer timer.ObserveDuration()

	session := req.SessionKey
	if session == "" {
		session = uuid.New().String()
	}

	if err := p.locks.Acquire(ctx, req.VideoID, req.LanguageCode, req.Requester.UserID, session); err != nil {
		if errors.Is(err, models.ErrWritelockHeld) {
			metrics.LockContentionTotal.Inc()
			return nil, p.reject(span, "writelock_held", err)
		}
		return nil, p.reject(span, "lock_error", err)
	}
	defer p.release(ctx, req.VideoID, req.LanguageCode, session)

	target, err := p.versions.Get(ctx, req.VideoID, req.LanguageCode, req.TargetVersion)
	if err != nil {
		return nil, p.reject(span, "target_lookup", err)
	}

	tv, wf, err := p.teamContext(ctx, req.VideoID)
	if err != nil {
		return nil, p.reject(span, "team_lookup", err)
	}

	makePublic, err := p.authorizeRollback(ctx, tv, wf, req)
	if err != nil {
		return nil, p.reject(span, "permission_denied", err)
	}

	visibility := models.VisibilityPrivate
	if makePublic {
		visibility = models.VisibilityPublic
	}

	version := &models.SubtitleVersion{
		VideoID:                 req.VideoID,
		LanguageCode:            req.LanguageCode,
		Author:                  req.Requester.UserID,
		Title:                   target.Title,
		Description:             target.Description,
		Metadata:                target.Metadata,
		Payload:                 target.Payload,
		Visibility:              visibility,
		RollbackOfVersionNumber: &target.VersionNumber,
		Origin:                  models.OriginRollback,
	}

	err = p.commitWithRetry(ctx, func(ctx context.Context) error {
		prev, err := p.versions.Tip(ctx, req.VideoID, req.LanguageCode, models.PolicyAny)
		if err != nil {
			return err
		}

		version.ParentIDs = []string{prev.ID}
		crossParent, err := p.translationParent(ctx, req.VideoID, req.LanguageCode, target)
		if err != nil {
			return err
		}
		if crossParent != "" {
			version.ParentIDs = append(version.ParentIDs, crossParent)
		}

		return p.versions.Append(ctx, version)
	})
	if err != nil {
		tracing.LogError(span, err)
		return nil, fmt.Errorf("failed to roll back: %w", err)
	}

	p.invalidateTips(ctx, req.VideoID, req.LanguageCode)

	p.emit(ctx, models.EventVersionAdded, models.VersionAddedData{
		VersionID:     version.ID,
		VideoID:       version.VideoID,
		LanguageCode:  version.LanguageCode,
		VersionNumber: version.VersionNumber,
		Author:        version.Author,
		Origin:        version.Origin,
	})
	if version.IsPublic() {
		p.emit(ctx, models.EventLanguagePublished, models.LanguagePublishedData{
			VideoID:       version.VideoID,
			LanguageCode:  version.LanguageCode,
			VersionNumber: version.VersionNumber,
		})
		metrics.LanguagesPublishedTotal.Inc()
	}

	p.enqueueSideEffects(ctx, version)

	metrics.RollbacksTotal.Inc()
	metrics.VersionsAppendedTotal.WithLabelValues(version.Origin, version.EffectiveVisibility()).Inc()
	if p.logger != nil {
		p.logger.WithVideoID(version.VideoID).WithLanguage(version.LanguageCode).
			WithVersion(version.VersionNumber).
			WithField("rollback_of", target.VersionNumber).
			Info("Version rolled back")
	}
	return version, nil
}

// authorizeRollback walks the three rollback paths in order: the draft
// author holding the open authoring task, the reviewer who sent the
// draft back, and the post-publication gate. It reports whether the
// rollback publishes immediately.
func (p *Pipeline) authorizeRollback(ctx context.Context, tv *models.TeamVideo, wf *models.Workflow, req *RollbackRequest) (bool, error) {
	if tv == nil {
		// Open videos have no moderation; the rollback is public like
		// any other edit.
		return true, nil
	}

	authoring, err := p.engine.OpenAuthoring(ctx, tv.ID, req.LanguageCode)
	if err != nil {
		return false, err
	}
	if p.policy.CanRollbackDraft(req.Requester, authoring) {
		return false, nil
	}

	review, err := p.latestSentBackReview(ctx, tv.ID, req.LanguageCode)
	if err != nil {
		return false, err
	}
	if p.policy.CanRollbackRejected(req.Requester, review) {
		return false, nil
	}

	publicTip, err := p.versions.Tip(ctx, req.VideoID, req.LanguageCode, models.PolicyPublic)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return false, err
	}
	if publicTip != nil && p.policy.CanRollbackPublic(wf, req.Requester) {
		return true, nil
	}

	return false, models.ErrPermissionDenied
}

func (p *Pipeline) latestSentBackReview(ctx context.Context, teamVideoID, languageCode string) (*models.Task, error) {
	task, err := p.engine.LatestReview(ctx, teamVideoID, languageCode)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return task, nil
}

// translationParent returns the cross-language parent to carry forward:
// rolling a translation back keeps its lineage to the source language,
// unless the language has been forked since.
func (p *Pipeline) translationParent(ctx context.Context, videoID, languageCode string, target *models.SubtitleVersion) (string, error) {
	lang, err := p.registry.Get(ctx, videoID, languageCode)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if lang.IsForked {
		return "", nil
	}

	parents, err := p.versions.Parents(ctx, target.ID)
	if err != nil {
		return "", err
	}
	for _, parent := range parents {
		if parent.LanguageCode != languageCode {
			return parent.ID, nil
		}
	}
	return "", nil
}
