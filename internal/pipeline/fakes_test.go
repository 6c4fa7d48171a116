package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wevoice/wesub-sub003/internal/events"
	"github.com/wevoice/wesub-sub003/internal/jobs"
	"github.com/wevoice/wesub-sub003/internal/languages"
	"github.com/wevoice/wesub-sub003/internal/tasks"
	"github.com/wevoice/wesub-sub003/internal/workflow"
	"github.com/wevoice/wesub-sub003/pkg/models"
)

func langKey(videoID, languageCode string) string {
	return videoID + ":" + languageCode
}

// fakeVersions is an in-memory version graph with the repository's
// conflict and compare-and-set semantics. It also serves as the
// registry's version reader.
type fakeVersions struct {
	byLang  map[string][]*models.SubtitleVersion
	byID    map[string]*models.SubtitleVersion
	parents map[string][]string
	seq     int

	// conflicts injects that many ErrConflict failures into Append.
	conflicts int
}

func newFakeVersions() *fakeVersions {
	return &fakeVersions{
		byLang:  make(map[string][]*models.SubtitleVersion),
		byID:    make(map[string]*models.SubtitleVersion),
		parents: make(map[string][]string),
	}
}

func (f *fakeVersions) Append(ctx context.Context, version *models.SubtitleVersion) error {
	if f.conflicts > 0 {
		f.conflicts--
		return models.ErrConflict
	}

	f.seq++
	version.ID = fmt.Sprintf("ver-%d", f.seq)
	k := langKey(version.VideoID, version.LanguageCode)
	version.VersionNumber = len(f.byLang[k]) + 1
	version.CreatedAt = time.Now()

	copied := *version
	copied.ParentIDs = append([]string(nil), version.ParentIDs...)
	f.byLang[k] = append(f.byLang[k], &copied)
	f.byID[copied.ID] = &copied
	f.parents[copied.ID] = copied.ParentIDs
	return nil
}

func (f *fakeVersions) Get(ctx context.Context, videoID, languageCode string, versionNumber int) (*models.SubtitleVersion, error) {
	for _, v := range f.byLang[langKey(videoID, languageCode)] {
		if v.VersionNumber == versionNumber {
			copied := *v
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeVersions) Tip(ctx context.Context, videoID, languageCode, policy string) (*models.SubtitleVersion, error) {
	versions := f.byLang[langKey(videoID, languageCode)]
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].MatchesPolicy(policy) {
			copied := *versions[i]
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeVersions) Parents(ctx context.Context, versionID string) ([]*models.SubtitleVersion, error) {
	var out []*models.SubtitleVersion
	for _, id := range f.parents[versionID] {
		if parent, ok := f.byID[id]; ok {
			copied := *parent
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeVersions) SetVisibilityOverride(ctx context.Context, versionID, previous, override string) error {
	version, ok := f.byID[versionID]
	if !ok {
		return models.ErrNotFound
	}
	if version.VisibilityOverride != previous {
		return models.ErrConflict
	}
	version.VisibilityOverride = override
	return nil
}

// fakeLangStore mirrors the language repository.
type fakeLangStore struct {
	langs map[string]*models.SubtitleLanguage
	seq   int
}

func newFakeLangStore() *fakeLangStore {
	return &fakeLangStore{langs: make(map[string]*models.SubtitleLanguage)}
}

func (f *fakeLangStore) Get(ctx context.Context, videoID, languageCode string) (*models.SubtitleLanguage, error) {
	lang, ok := f.langs[langKey(videoID, languageCode)]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *lang
	return &copied, nil
}

func (f *fakeLangStore) GetOrCreate(ctx context.Context, videoID, languageCode string) (*models.SubtitleLanguage, error) {
	if lang, err := f.Get(ctx, videoID, languageCode); err == nil {
		return lang, nil
	}
	f.seq++
	lang := &models.SubtitleLanguage{
		ID:           fmt.Sprintf("lang-%d", f.seq),
		VideoID:      videoID,
		LanguageCode: languageCode,
	}
	f.langs[langKey(videoID, languageCode)] = lang
	copied := *lang
	return &copied, nil
}

func (f *fakeLangStore) find(languageID string) (*models.SubtitleLanguage, error) {
	for _, lang := range f.langs {
		if lang.ID == languageID {
			return lang, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeLangStore) SetForked(ctx context.Context, languageID string, forked bool) error {
	lang, err := f.find(languageID)
	if err != nil {
		return err
	}
	lang.IsForked = forked
	return nil
}

func (f *fakeLangStore) SetSubtitlesComplete(ctx context.Context, languageID string, complete bool) error {
	lang, err := f.find(languageID)
	if err != nil {
		return err
	}
	lang.SubtitlesComplete = complete
	return nil
}

func (f *fakeLangStore) List(ctx context.Context, videoID string) ([]*models.SubtitleLanguage, error) {
	var out []*models.SubtitleLanguage
	for _, lang := range f.langs {
		if lang.VideoID == videoID {
			copied := *lang
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeLangStore) LanguagesWithVersions(ctx context.Context, videoID string) ([]string, error) {
	var out []string
	for _, lang := range f.langs {
		if lang.VideoID == videoID {
			out = append(out, lang.LanguageCode)
		}
	}
	return out, nil
}

// fakeTaskStore mirrors the task repository's partial-unique and
// compare-and-set behavior.
type fakeTaskStore struct {
	tasks map[string]*models.Task
	seq   int
	now   time.Time
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: make(map[string]*models.Task), now: time.Now()}
}

func (f *fakeTaskStore) tick() time.Time {
	f.now = f.now.Add(time.Second)
	return f.now
}

func (f *fakeTaskStore) Create(ctx context.Context, task *models.Task) error {
	for _, existing := range f.tasks {
		if existing.State == models.TaskStateOpen &&
			existing.TeamVideoID == task.TeamVideoID &&
			existing.LanguageCode == task.LanguageCode &&
			existing.Type == task.Type {
			return models.ErrConflict
		}
	}
	f.seq++
	task.ID = fmt.Sprintf("task-%d", f.seq)
	task.CreatedAt = f.tick()
	copied := *task
	f.tasks[task.ID] = &copied
	return nil
}

func (f *fakeTaskStore) Get(ctx context.Context, id string) (*models.Task, error) {
	task, ok := f.tasks[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *task
	return &copied, nil
}

func (f *fakeTaskStore) GetOpen(ctx context.Context, teamVideoID, languageCode, taskType string) (*models.Task, error) {
	for _, task := range f.tasks {
		if task.State == models.TaskStateOpen &&
			task.TeamVideoID == teamVideoID &&
			task.LanguageCode == languageCode &&
			task.Type == taskType {
			copied := *task
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeTaskStore) ListOpen(ctx context.Context, teamVideoID string) ([]*models.Task, error) {
	var open []*models.Task
	for _, task := range f.tasks {
		if task.State == models.TaskStateOpen && task.TeamVideoID == teamVideoID {
			copied := *task
			open = append(open, &copied)
		}
	}
	return open, nil
}

func (f *fakeTaskStore) SetAssignee(ctx context.Context, taskID, assignee string) error {
	task, ok := f.tasks[taskID]
	if !ok {
		return models.ErrNotFound
	}
	if task.State != models.TaskStateOpen {
		return models.ErrTaskState
	}
	task.Assignee = assignee
	return nil
}

func (f *fakeTaskStore) Transition(ctx context.Context, taskID, toState, decision, body string, versionNumber *int) error {
	task, ok := f.tasks[taskID]
	if !ok {
		return models.ErrNotFound
	}
	if task.State != models.TaskStateOpen {
		return models.ErrTaskState
	}
	task.State = toState
	task.Decision = decision
	if body != "" {
		task.Body = body
	}
	if versionNumber != nil {
		task.VersionNumber = versionNumber
	}
	completed := f.tick()
	task.CompletedAt = &completed
	return nil
}

func (f *fakeTaskStore) Reopen(ctx context.Context, taskID, assignee string) error {
	task, ok := f.tasks[taskID]
	if !ok {
		return models.ErrNotFound
	}
	if task.State != models.TaskStateCompleted {
		return models.ErrTaskState
	}
	task.State = models.TaskStateOpen
	task.Assignee = assignee
	task.Decision = ""
	task.CompletedAt = nil
	return nil
}

func (f *fakeTaskStore) latestCompleted(teamVideoID, languageCode string, match func(*models.Task) bool) (*models.Task, error) {
	var latest *models.Task
	for _, task := range f.tasks {
		if task.State != models.TaskStateCompleted || task.TeamVideoID != teamVideoID ||
			task.LanguageCode != languageCode || !match(task) {
			continue
		}
		if latest == nil || task.CompletedAt.After(*latest.CompletedAt) {
			latest = task
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (f *fakeTaskStore) LatestCompletedAuthoring(ctx context.Context, teamVideoID, languageCode string) (*models.Task, error) {
	return f.latestCompleted(teamVideoID, languageCode, func(t *models.Task) bool { return t.IsAuthoring() })
}

func (f *fakeTaskStore) LatestCompletedReview(ctx context.Context, teamVideoID, languageCode string) (*models.Task, error) {
	return f.latestCompleted(teamVideoID, languageCode, func(t *models.Task) bool { return t.Type == models.TaskTypeReview })
}

// fakeVideos serves team bindings and provider links.
type fakeVideos struct {
	teamVideos map[string]*models.TeamVideo
	links      map[string][]*models.ProviderLink
}

func newFakeVideos() *fakeVideos {
	return &fakeVideos{
		teamVideos: make(map[string]*models.TeamVideo),
		links:      make(map[string][]*models.ProviderLink),
	}
}

func (f *fakeVideos) GetTeamVideoByVideo(ctx context.Context, videoID string) (*models.TeamVideo, error) {
	tv, ok := f.teamVideos[videoID]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *tv
	return &copied, nil
}

func (f *fakeVideos) ActiveProviderLinks(ctx context.Context, videoID string) ([]*models.ProviderLink, error) {
	return f.links[videoID], nil
}

// fakeWorkflows serves one workflow per team.
type fakeWorkflows struct {
	workflows map[string]*models.Workflow
}

func newFakeWorkflows() *fakeWorkflows {
	return &fakeWorkflows{workflows: make(map[string]*models.Workflow)}
}

func (f *fakeWorkflows) Get(ctx context.Context, teamID, projectID string) (*models.Workflow, error) {
	if w, ok := f.workflows[teamID+":"+projectID]; ok {
		copied := *w
		return &copied, nil
	}
	if w, ok := f.workflows[teamID+":"]; ok {
		copied := *w
		return &copied, nil
	}
	return nil, models.ErrNotFound
}

// fakeLocker is a process-local Locker with the Redis semantics the
// pipeline relies on.
type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string // key -> session
	releases int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]string)}
}

func (f *fakeLocker) Acquire(ctx context.Context, videoID, languageCode, ownerUser, sessionKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := langKey(videoID, languageCode)
	if session, ok := f.held[key]; ok && session != sessionKey {
		return fmt.Errorf("%w: user %s", models.ErrWritelockHeld, ownerUser)
	}
	f.held[key] = sessionKey
	return nil
}

func (f *fakeLocker) Release(ctx context.Context, videoID, languageCode, sessionKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := langKey(videoID, languageCode)
	if f.held[key] == sessionKey {
		delete(f.held, key)
		f.releases++
	}
	return nil
}

// fakeTx runs the function directly; the fakes have no transactions.
// runs counts attempts so tests can check that a conflicted commit
// starts a fresh transaction instead of retrying inside an aborted one.
type fakeTx struct {
	runs int
}

func (f *fakeTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.runs++
	return fn(ctx)
}

// fakeSink records published events.
type fakeSink struct {
	events []models.Event
}

func (f *fakeSink) Publish(ctx context.Context, event models.Event) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSink) typesSeen() []string {
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

var _ events.Sink = (*fakeSink)(nil)

// fakeRunner records submitted jobs.
type fakeRunner struct {
	jobs []*jobs.Job
}

func (f *fakeRunner) Submit(ctx context.Context, job *jobs.Job) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeRunner) kinds() []string {
	out := make([]string, len(f.jobs))
	for i, j := range f.jobs {
		out[i] = j.Kind
	}
	return out
}

// env bundles a pipeline over fakes.
type env struct {
	p         *Pipeline
	versions  *fakeVersions
	langs     *fakeLangStore
	taskStore *fakeTaskStore
	videos    *fakeVideos
	workflows *fakeWorkflows
	locks     *fakeLocker
	sink      *fakeSink
	runner    *fakeRunner
	tx        *fakeTx
	engine    *tasks.Engine
	registry  *languages.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		versions:  newFakeVersions(),
		langs:     newFakeLangStore(),
		taskStore: newFakeTaskStore(),
		videos:    newFakeVideos(),
		workflows: newFakeWorkflows(),
		locks:     newFakeLocker(),
		sink:      &fakeSink{},
		runner:    &fakeRunner{},
		tx:        &fakeTx{},
	}

	policy := workflow.NewPolicy()
	e.registry = languages.NewRegistry(e.langs, e.versions, nil)
	e.engine = tasks.NewEngine(e.taskStore, policy, nil)

	e.p = New(Config{
		Tx:        e.tx,
		Versions:  e.versions,
		Videos:    e.videos,
		Workflows: e.workflows,
		Registry:  e.registry,
		Engine:    e.engine,
		Policy:    policy,
		Locks:     e.locks,
		Events:    e.sink,
		Jobs:      e.runner,
	})
	return e
}

// addTeam binds a video to a moderated team.
func (e *env) addTeam(videoID string, w *models.Workflow) *models.TeamVideo {
	tv := &models.TeamVideo{ID: "tv-" + videoID, TeamID: w.TeamID, VideoID: videoID}
	e.videos.teamVideos[videoID] = tv
	e.workflows.workflows[w.TeamID+":"+w.ProjectID] = w
	return tv
}

func timedLines(texts ...string) []models.SubtitleLine {
	lines := make([]models.SubtitleLine, len(texts))
	for i, text := range texts {
		lines[i] = models.SubtitleLine{
			Text:    text,
			StartMS: int64(i) * 1000,
			EndMS:   int64(i+1) * 1000,
		}
	}
	return lines
}

func unsyncedLines(texts ...string) []models.SubtitleLine {
	lines := make([]models.SubtitleLine, len(texts))
	for i, text := range texts {
		lines[i] = models.SubtitleLine{
			Text:    text,
			StartMS: models.UnsyncedTime,
			EndMS:   models.UnsyncedTime,
		}
	}
	return lines
}

func mustAdd(t *testing.T, e *env, req *AddRequest) *models.SubtitleVersion {
	t.Helper()
	version, err := e.p.AddSubtitles(context.Background(), req)
	require.NoError(t, err)
	return version
}
