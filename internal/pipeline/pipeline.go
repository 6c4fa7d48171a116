package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wevoice/wesub-sub003/internal/cache"
	"github.com/wevoice/wesub-sub003/internal/events"
	"github.com/wevoice/wesub-sub003/internal/jobs"
	"github.com/wevoice/wesub-sub003/internal/languages"
	"github.com/wevoice/wesub-sub003/internal/logging"
	"github.com/wevoice/wesub-sub003/internal/metrics"
	"github.com/wevoice/wesub-sub003/internal/subtitles"
	"github.com/wevoice/wesub-sub003/internal/tasks"
	"github.com/wevoice/wesub-sub003/internal/tracing"
	"github.com/wevoice/wesub-sub003/internal/workflow"
	"github.com/wevoice/wesub-sub003/pkg/models"
)

// defaultAppendRetries bounds version-number races under the write lock.
const defaultAppendRetries = 3

// tipCacheTTL is how long cached tips stay fresh between invalidations.
const tipCacheTTL = 5 * time.Minute

// VersionStore is the version-graph persistence the pipeline writes
// through.
type VersionStore interface {
	Append(ctx context.Context, version *models.SubtitleVersion) error
	Get(ctx context.Context, videoID, languageCode string, versionNumber int) (*models.SubtitleVersion, error)
	Tip(ctx context.Context, videoID, languageCode, policy string) (*models.SubtitleVersion, error)
	Parents(ctx context.Context, versionID string) ([]*models.SubtitleVersion, error)
	SetVisibilityOverride(ctx context.Context, versionID, previous, override string) error
}

// VideoStore resolves team membership and provider links of a video.
type VideoStore interface {
	GetTeamVideoByVideo(ctx context.Context, videoID string) (*models.TeamVideo, error)
	ActiveProviderLinks(ctx context.Context, videoID string) ([]*models.ProviderLink, error)
}

// WorkflowStore loads the moderation policy of a team.
type WorkflowStore interface {
	Get(ctx context.Context, teamID, projectID string) (*models.Workflow, error)
}

// Locker is the per-language write lock.
type Locker interface {
	Acquire(ctx context.Context, videoID, languageCode, ownerUser, sessionKey string) error
	Release(ctx context.Context, videoID, languageCode, sessionKey string) error
}

// TxRunner runs a function inside one database transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TipCache is the read-side cache for tips. Satisfied by the Redis
// cache; nil disables caching.
type TipCache interface {
	SetTip(ctx context.Context, policy string, version *models.SubtitleVersion, ttl time.Duration) error
	GetTip(ctx context.Context, videoID, languageCode, policy string) (*models.SubtitleVersion, error)
	InvalidateLanguage(ctx context.Context, videoID, languageCode string) error
}

var _ TipCache = (*cache.Cache)(nil)

// Config wires the pipeline's collaborators.
type Config struct {
	Tx        TxRunner
	Versions  VersionStore
	Videos    VideoStore
	Workflows WorkflowStore
	Registry  *languages.Registry
	Engine    *tasks.Engine
	Policy    *workflow.Policy
	Locks     Locker
	Events    events.Sink
	Jobs      jobs.Runner
	Cache     TipCache
	Logger    *logging.Logger

	// AppendRetries bounds retries of the version-number race inside
	// the transaction. Zero means the default.
	AppendRetries int
}

// Pipeline is the single write path for subtitle versions: locking,
// translation lineage, permissions, the task state machine, events and
// side-effect jobs, in the order the workflow requires.
type Pipeline struct {
	tx        TxRunner
	versions  VersionStore
	videos    VideoStore
	workflows WorkflowStore
	registry  *languages.Registry
	engine    *tasks.Engine
	policy    *workflow.Policy
	locks     Locker
	events    events.Sink
	jobs      jobs.Runner
	cache     TipCache
	logger    *logging.Logger
	retries   int
}

// New creates a pipeline
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		tx:        cfg.Tx,
		versions:  cfg.Versions,
		videos:    cfg.Videos,
		workflows: cfg.Workflows,
		registry:  cfg.Registry,
		engine:    cfg.Engine,
		policy:    cfg.Policy,
		locks:     cfg.Locks,
		events:    cfg.Events,
		jobs:      cfg.Jobs,
		cache:     cfg.Cache,
		logger:    cfg.Logger,
		retries:   cfg.AppendRetries,
	}
	if p.events == nil {
		p.events = events.NopSink{}
	}
	if p.policy == nil {
		p.policy = workflow.NewPolicy()
	}
	if p.retries <= 0 {
		p.retries = defaultAppendRetries
	}
	return p
}

// AddRequest carries one add_subtitles call.
type AddRequest struct {
	VideoID      string
	LanguageCode string
	Subtitles    *models.SubtitleSet
	Author       models.Member
	Title        string
	Description  string
	Metadata     models.VersionMetadata
	Origin       string

	// SourceLanguage declares the translation source. SourceVersion
	// picks a specific source version; zero means the source tip.
	SourceLanguage string
	SourceVersion  int

	// Complete is the author's intent that the language is finished.
	// Forced false when the payload has unsynced lines.
	Complete bool

	// SessionKey identifies the editing session for lock ownership. A
	// fresh key is generated when empty.
	SessionKey string
}

// AddSubtitles appends a new version of one language. It acquires the
// write lock, resolves translation lineage, checks permissions and task
// preconditions, then commits the version, language flags and task
// transitions in one transaction. Events and side-effect jobs go out
// only after the commit; the lock is released either way.
func (p *Pipeline) AddSubtitles(ctx context.Context, req *AddRequest) (*models.SubtitleVersion, error) {
	span, ctx := tracing.StartSpan(ctx, "pipeline.add_subtitles")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "video_id", req.VideoID)
	tracing.SetTag(span, "language_code", req.LanguageCode)

	timer := prometheus.NewTimer(metrics.PipelineDuration.WithLabelValues("add_subtitles"))
	defer timer.ObserveDuration()

	if err := languages.ValidateCode(req.LanguageCode); err != nil {
		return nil, p.reject(span, "invalid_language", err)
	}
	if err := subtitles.Validate(req.Subtitles); err != nil {
		return nil, p.reject(span, "invalid_subtitles", err)
	}

	session := req.SessionKey
	if session == "" {
		session = uuid.New().String()
	}

	if err := p.locks.Acquire(ctx, req.VideoID, req.LanguageCode, req.Author.UserID, session); err != nil {
		if errors.Is(err, models.ErrWritelockHeld) {
			metrics.LockContentionTotal.Inc()
			return nil, p.reject(span, "writelock_held", err)
		}
		return nil, p.reject(span, "lock_error", err)
	}
	defer p.release(ctx, req.VideoID, req.LanguageCode, session)

	tv, wf, err := p.teamContext(ctx, req.VideoID)
	if err != nil {
		return nil, p.reject(span, "team_lookup", err)
	}

	source, forkNeeded, err := p.resolveSource(ctx, req)
	if err != nil {
		return nil, p.reject(span, "translation_conflict", err)
	}

	subs := req.Subtitles.Clone()
	subs.SetLanguage(req.LanguageCode)

	complete := req.Complete
	if source != nil {
		if err := subtitles.ApplyTimingFrom(&source.Payload, subs); err != nil {
			return nil, p.reject(span, "line_overflow", err)
		}
	}
	if !subs.IsComplete() {
		// Plain transcripts and partially timed drafts never finalize
		// the language.
		complete = false
	}

	taskType := models.TaskTypeSubtitle
	if source != nil {
		taskType = models.TaskTypeTranslate
	}

	var authoring *models.Task
	if tv != nil {
		authoring, err = p.engine.OpenAuthoring(ctx, tv.ID, req.LanguageCode)
		if err != nil {
			return nil, p.reject(span, "task_lookup", err)
		}
		if !p.policy.CanAuthor(wf, req.Author, taskType, authoring) {
			return nil, p.reject(span, "permission_denied", models.ErrPermissionDenied)
		}
		if authoring != nil && authoring.Assignee != "" && authoring.Assignee != req.Author.UserID {
			return nil, p.reject(span, "permission_denied",
				fmt.Errorf("%w: task %s is assigned to %s", models.ErrPermissionDenied, authoring.ID, authoring.Assignee))
		}

		moderation, err := p.engine.IncompleteModeration(ctx, tv.ID, req.LanguageCode)
		if err != nil {
			return nil, p.reject(span, "task_lookup", err)
		}
		if len(moderation) > 0 {
			return nil, p.reject(span, "blocked_by_moderation",
				fmt.Errorf("%w: open %s task %s", models.ErrBlockedByModeration, moderation[0].Type, moderation[0].ID))
		}
	}

	visibility := models.VisibilityPublic
	if wf.Moderated() {
		visibility = models.VisibilityPrivate
	}

	version := &models.SubtitleVersion{
		VideoID:      req.VideoID,
		LanguageCode: req.LanguageCode,
		Author:       req.Author.UserID,
		Title:        req.Title,
		Description:  req.Description,
		Metadata:     req.Metadata,
		Payload:      *subs,
		Visibility:   visibility,
		Origin:       req.Origin,
	}

	var completedTask *models.Task
	var createdTask *models.Task

	err = p.commitWithRetry(ctx, func(ctx context.Context) error {
		completedTask, createdTask = nil, nil

		lang, err := p.registry.GetOrCreate(ctx, req.VideoID, req.LanguageCode)
		if err != nil {
			return err
		}
		if forkNeeded {
			if err := p.registry.Fork(ctx, lang); err != nil {
				return err
			}
		}

		prev, err := p.versions.Tip(ctx, req.VideoID, req.LanguageCode, models.PolicyAny)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return err
		}

		version.ParentIDs = version.ParentIDs[:0]
		if prev != nil {
			version.ParentIDs = append(version.ParentIDs, prev.ID)
		}
		if source != nil {
			version.ParentIDs = append(version.ParentIDs, source.ID)
		}

		if err := p.versions.Append(ctx, version); err != nil {
			return err
		}

		if lang.SubtitlesComplete != complete {
			if err := p.registry.SetComplete(ctx, lang, complete); err != nil {
				return err
			}
		}

		if tv == nil || !complete {
			return nil
		}

		if authoring != nil && authoring.Assignee == req.Author.UserID {
			if err := p.engine.CompleteAuthoring(ctx, authoring, version.VersionNumber); err != nil {
				return err
			}
			completedTask = authoring
		}

		if wf.Moderated() {
			next := models.TaskTypeReview
			if !wf.ReviewEnabled() {
				next = models.TaskTypeApprove
			}
			task, isNew, err := p.engine.EnsureOpen(ctx, &models.Task{
				TeamVideoID:   tv.ID,
				VideoID:       req.VideoID,
				LanguageCode:  req.LanguageCode,
				Type:          next,
				Priority:      models.TaskPriorityNormal,
				VersionNumber: &version.VersionNumber,
			})
			if err != nil {
				return err
			}
			if isNew {
				createdTask = task
			}
		}
		return nil
	})
	if err != nil {
		tracing.LogError(span, err)
		return nil, fmt.Errorf("failed to add subtitles: %w", err)
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
		if tv != nil && complete {
			p.fanOutTranslations(ctx, tv, wf, version)
		}
	}
	if completedTask != nil {
		p.emitTask(ctx, models.EventTaskCompleted, completedTask)
		metrics.TasksCompletedTotal.WithLabelValues(completedTask.Type, "").Inc()
	}
	if createdTask != nil {
		p.emitTask(ctx, models.EventTaskCreated, createdTask)
		metrics.TasksCreatedTotal.WithLabelValues(createdTask.Type).Inc()
	}

	p.enqueueSideEffects(ctx, version)

	metrics.VersionsAppendedTotal.WithLabelValues(version.Origin, version.EffectiveVisibility()).Inc()
	if p.logger != nil {
		p.logger.LogVersionEvent(version.VideoID, version.LanguageCode, version.VersionNumber, "appended")
	}
	return version, nil
}

// resolveSource loads the declared translation source and enforces the
// translation-source relation: a language keeps at most one source, and
// writing sourceless subtitles to a translated language forks it.
func (p *Pipeline) resolveSource(ctx context.Context, req *AddRequest) (*models.SubtitleVersion, bool, error) {
	current, err := p.registry.TranslationSource(ctx, req.VideoID, req.LanguageCode)
	if err != nil {
		return nil, false, err
	}

	if req.SourceLanguage == "" || req.SourceLanguage == req.LanguageCode {
		// No declared source; a language that is currently a translation
		// gets forked.
		return nil, current != nil, nil
	}

	lang, err := p.registry.Get(ctx, req.VideoID, req.LanguageCode)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, false, err
	}
	if lang != nil && lang.IsForked {
		return nil, false, fmt.Errorf("%w: %s is forked", models.ErrTranslationConflict, req.LanguageCode)
	}
	if current != nil && current.LanguageCode != req.SourceLanguage {
		return nil, false, fmt.Errorf("%w: %s already translates %s",
			models.ErrTranslationConflict, req.LanguageCode, current.LanguageCode)
	}

	var source *models.SubtitleVersion
	if req.SourceVersion > 0 {
		source, err = p.versions.Get(ctx, req.VideoID, req.SourceLanguage, req.SourceVersion)
	} else {
		source, err = p.versions.Tip(ctx, req.VideoID, req.SourceLanguage, models.PolicyAny)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load translation source: %w", err)
	}
	return source, false, nil
}

// commitWithRetry reruns the whole transaction when the version-number
// insert loses the race to a concurrent append. A duplicate key error
// aborts the transaction it ran in, so each attempt has to start a
// fresh one; fn must reset any state it carries across attempts.
func (p *Pipeline) commitWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < p.retries; attempt++ {
		err = p.tx.InTx(ctx, fn)
		if !errors.Is(err, models.ErrConflict) {
			return err
		}
		metrics.VersionAppendConflicts.Inc()
	}
	return err
}

// fanOutTranslations opens preferred-language Translate tasks once a
// language has a complete public version. Best-effort; failures only
// log.
func (p *Pipeline) fanOutTranslations(ctx context.Context, tv *models.TeamVideo, wf *models.Workflow, version *models.SubtitleVersion) {
	created, err := p.engine.AutoCreateTranslations(ctx, wf, tv.ID, version.VideoID, version.LanguageCode)
	if err != nil && p.logger != nil {
		p.logger.WithError(err).WithVideoID(version.VideoID).Warn("Failed to auto-create translate tasks")
	}
	for _, task := range created {
		p.emitTask(ctx, models.EventTaskCreated, task)
		metrics.TasksCreatedTotal.WithLabelValues(task.Type).Inc()
	}
}

// teamContext resolves the team video and its workflow. Open videos
// return (nil, nil); team videos without a stored workflow get an
// unmoderated zero workflow.
func (p *Pipeline) teamContext(ctx context.Context, videoID string) (*models.TeamVideo, *models.Workflow, error) {
	tv, err := p.videos.GetTeamVideoByVideo(ctx, videoID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	wf, err := p.workflows.Get(ctx, tv.TeamID, tv.ProjectID)
	if errors.Is(err, models.ErrNotFound) {
		return tv, &models.Workflow{TeamID: tv.TeamID}, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return tv, wf, nil
}

func (p *Pipeline) release(ctx context.Context, videoID, languageCode, session string) {
	if err := p.locks.Release(ctx, videoID, languageCode, session); err != nil && p.logger != nil {
		p.logger.WithError(err).WithVideoID(videoID).WithLanguage(languageCode).Warn("Failed to release write lock")
	}
}

func (p *Pipeline) reject(span opentracing.Span, reason string, err error) error {
	metrics.PipelineRejectionsTotal.WithLabelValues(reason).Inc()
	tracing.LogError(span, err)
	if p.logger != nil {
		p.logger.WithError(err).WithField("reason", reason).Debug("Pipeline rejected request")
	}
	return err
}

func (p *Pipeline) emit(ctx context.Context, eventType string, data interface{}) {
	event := models.Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data}
	if err := p.events.Publish(ctx, event); err != nil && p.logger != nil {
		p.logger.WithError(err).WithField("event_type", eventType).Warn("Failed to publish event")
	}
}

func (p *Pipeline) emitTask(ctx context.Context, eventType string, task *models.Task) {
	p.emit(ctx, eventType, models.TaskEventData{
		TaskID:       task.ID,
		TeamVideoID:  task.TeamVideoID,
		VideoID:      task.VideoID,
		LanguageCode: task.LanguageCode,
		Type:         task.Type,
		Assignee:     task.Assignee,
		Decision:     task.Decision,
	})
}

func (p *Pipeline) invalidateTips(ctx context.Context, videoID, languageCode string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.InvalidateLanguage(ctx, videoID, languageCode); err != nil && p.logger != nil {
		p.logger.WithError(err).WithVideoID(videoID).Warn("Failed to invalidate tip cache")
	}
}

// enqueueSideEffects submits the at-least-once follow-up work: the
// search-index refresh always, provider back-sync and export rendering
// when the version is publicly visible.
func (p *Pipeline) enqueueSideEffects(ctx context.Context, version *models.SubtitleVersion) {
	if p.jobs == nil {
		return
	}

	p.submitJob(ctx, jobs.KindIndexRefresh, jobs.IndexRefreshID(version.VideoID, version.LanguageCode),
		jobs.IndexRefreshPayload{VideoID: version.VideoID, LanguageCode: version.LanguageCode})

	if !version.IsPublic() {
		return
	}

	sync := jobs.SyncPayload{
		VideoID:       version.VideoID,
		LanguageCode:  version.LanguageCode,
		VersionNumber: version.VersionNumber,
	}
	p.submitJob(ctx, jobs.KindExport, jobs.ExportID(version.ID), sync)

	links, err := p.videos.ActiveProviderLinks(ctx, version.VideoID)
	if err != nil {
		if p.logger != nil {
			p.logger.WithError(err).WithVideoID(version.VideoID).Warn("Failed to list provider links")
		}
		return
	}
	if len(links) > 0 {
		p.submitJob(ctx, jobs.KindProviderSync, jobs.ProviderSyncID(version.ID), sync)
	}
}

// enqueueVisibilityEffects follows a visibility override change: the
// index refresh always, and a provider withdrawal when the language no
// longer has any public version.
func (p *Pipeline) enqueueVisibilityEffects(ctx context.Context, videoID, languageCode string) {
	if p.jobs == nil {
		return
	}

	p.submitJob(ctx, jobs.KindIndexRefresh, jobs.IndexRefreshID(videoID, languageCode),
		jobs.IndexRefreshPayload{VideoID: videoID, LanguageCode: languageCode})

	if _, err := p.versions.Tip(ctx, videoID, languageCode, models.PolicyPublic); !errors.Is(err, models.ErrNotFound) {
		return
	}

	links, err := p.videos.ActiveProviderLinks(ctx, videoID)
	if err != nil {
		if p.logger != nil {
			p.logger.WithError(err).WithVideoID(videoID).Warn("Failed to list provider links")
		}
		return
	}
	if len(links) > 0 {
		p.submitJob(ctx, jobs.KindProviderDelete, jobs.ProviderDeleteID(videoID, languageCode),
			jobs.ProviderDeletePayload{VideoID: videoID, LanguageCode: languageCode})
	}
}

func (p *Pipeline) submitJob(ctx context.Context, kind, id string, payload interface{}) {
	job, err := jobs.NewJob(id, kind, payload)
	if err == nil {
		err = p.jobs.Submit(ctx, job)
	}
	if err != nil && p.logger != nil {
		p.logger.WithError(err).WithField("job_kind", kind).Warn("Failed to submit side-effect job")
	}
	if err == nil {
		metrics.JobsSubmittedTotal.WithLabelValues(kind).Inc()
	}
}
