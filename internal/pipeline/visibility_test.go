package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wevoice/wesub-sub003/internal/jobs"
	"github.com/wevoice/wesub-sub003/internal/workflow"
	"github.com/wevoice/wesub-sub003/pkg/models"
)

// fakeTipCache is an in-memory TipCache counting hits and stores.
type fakeTipCache struct {
	tips   map[string]*models.SubtitleVersion
	hits   int
	stores int
}

func newFakeTipCache() *fakeTipCache {
	return &fakeTipCache{tips: make(map[string]*models.SubtitleVersion)}
}

func (f *fakeTipCache) tipKey(videoID, languageCode, policy string) string {
	return videoID + ":" + languageCode + ":" + policy
}

func (f *fakeTipCache) SetTip(ctx context.Context, policy string, version *models.SubtitleVersion, ttl time.Duration) error {
	copied := *version
	f.tips[f.tipKey(version.VideoID, version.LanguageCode, policy)] = &copied
	f.stores++
	return nil
}

func (f *fakeTipCache) GetTip(ctx context.Context, videoID, languageCode, policy string) (*models.SubtitleVersion, error) {
	version, ok := f.tips[f.tipKey(videoID, languageCode, policy)]
	if !ok {
		return nil, nil
	}
	f.hits++
	copied := *version
	return &copied, nil
}

func (f *fakeTipCache) InvalidateLanguage(ctx context.Context, videoID, languageCode string) error {
	for _, policy := range []string{models.PolicyPublic, models.PolicyAny} {
		delete(f.tips, f.tipKey(videoID, languageCode, policy))
	}
	return nil
}

// withCache rebuilds the env's pipeline with a tip cache wired in.
func withCache(e *env) *fakeTipCache {
	c := newFakeTipCache()
	e.p = New(Config{
		Tx:        e.tx,
		Versions:  e.versions,
		Videos:    e.videos,
		Workflows: e.workflows,
		Registry:  e.registry,
		Engine:    e.engine,
		Policy:    workflow.NewPolicy(),
		Locks:     e.locks,
		Events:    e.sink,
		Jobs:      e.runner,
		Cache:     c,
	})
	return c
}

func TestTipReadsThroughCache(t *testing.T) {
	e := newEnv(t)
	c := withCache(e)
	ctx := context.Background()

	mustAdd(t, e, &AddRequest{
		VideoID:      "v1",
		LanguageCode: "en",
		Subtitles:    &models.SubtitleSet{Lines: timedLines("Hello")},
		Author:       models.Member{UserID: "u1"},
		Origin:       models.OriginWeb,
		Complete:     true,
	})

	tip, err := e.p.Tip(ctx, "v1", "en", models.PolicyPublic)
	require.NoError(t, err)
	assert.Equal(t, 1, tip.VersionNumber)
	assert.Equal(t, 0, c.hits)
	assert.Equal(t, 1, c.stores)

	tip, err = e.p.Tip(ctx, "v1", "en", models.PolicyPublic)
	require.NoError(t, err)
	assert.Equal(t, 1, tip.VersionNumber)
	assert.Equal(t, 1, c.hits)

	// A new version invalidates the cached tip.
	mustAdd(t, e, &AddRequest{
		VideoID:      "v1",
		LanguageCode: "en",
		Subtitles:    &models.SubtitleSet{Lines: timedLines("Hello again")},
		Author:       models.Member{UserID: "u1"},
		Origin:       models.OriginWeb,
		Complete:     true,
	})

	tip, err = e.p.Tip(ctx, "v1", "en", models.PolicyPublic)
	require.NoError(t, err)
	assert.Equal(t, 2, tip.VersionNumber)
}

func TestTipPoliciesAreDistinct(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.addTeam("v1", &models.Workflow{
		TeamID:        "t1",
		ReviewAllowed: models.LevelContributor,
	})

	mustAdd(t, e, &AddRequest{
		VideoID:      "v1",
		LanguageCode: "en",
		Subtitles:    &models.SubtitleSet{Lines: timedLines("Hello")},
		Author:       models.Member{UserID: "u1", Role: models.LevelContributor},
		Origin:       models.OriginWeb,
		Complete:     true,
	})

	_, err := e.p.Tip(ctx, "v1", "en", models.PolicyPublic)
	assert.ErrorIs(t, err, models.ErrNotFound)

	tip, err := e.p.Tip(ctx, "v1", "en", models.PolicyAny)
	require.NoError(t, err)
	assert.Equal(t, 1, tip.VersionNumber)
}

func TestSetVisibilityHidesPublicVersion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, text := range []string{"first", "second"} {
		mustAdd(t, e, &AddRequest{
			VideoID:      "v1",
			LanguageCode: "en",
			Subtitles:    &models.SubtitleSet{Lines: timedLines(text)},
			Author:       models.Member{UserID: "u1"},
			Origin:       models.OriginWeb,
			Complete:     true,
		})
	}

	hidden, err := e.p.SetVisibility(ctx, models.Member{UserID: "u1"}, "v1", "en", 2, models.VisibilityPrivate)
	require.NoError(t, err)
	assert.Equal(t, models.VisibilityPrivate, hidden.VisibilityOverride)
	assert.False(t, hidden.IsPublic())

	// The public tip falls back to the previous version.
	tip, err := e.versions.Tip(ctx, "v1", "en", models.PolicyPublic)
	require.NoError(t, err)
	assert.Equal(t, 1, tip.VersionNumber)

	// Clearing the override restores it.
	restored, err := e.p.SetVisibility(ctx, models.Member{UserID: "u1"}, "v1", "en", 2, "")
	require.NoError(t, err)
	assert.True(t, restored.IsPublic())
}

func TestHidingLastPublicVersionWithdrawsFromProvider(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.videos.links["v1"] = []*models.ProviderLink{
		{VideoID: "v1", Provider: "youtube", ExternalAccount: "acct-1", Active: true},
	}

	mustAdd(t, e, &AddRequest{
		VideoID:      "v1",
		LanguageCode: "en",
		Subtitles:    &models.SubtitleSet{Lines: timedLines("Hello")},
		Author:       models.Member{UserID: "u1"},
		Origin:       models.OriginWeb,
		Complete:     true,
	})
	e.runner.jobs = nil

	_, err := e.p.SetVisibility(ctx, models.Member{UserID: "u1"}, "v1", "en", 1, models.VisibilityPrivate)
	require.NoError(t, err)

	require.Equal(t, []string{jobs.KindIndexRefresh, jobs.KindProviderDelete}, e.runner.kinds())

	var payload jobs.ProviderDeletePayload
	require.NoError(t, json.Unmarshal(e.runner.jobs[1].Payload, &payload))
	assert.Equal(t, "v1", payload.VideoID)
	assert.Equal(t, "en", payload.LanguageCode)
}

func TestHidingOnePublicVersionKeepsProviderLanguage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.videos.links["v1"] = []*models.ProviderLink{
		{VideoID: "v1", Provider: "youtube", ExternalAccount: "acct-1", Active: true},
	}

	for _, text := range []string{"first", "second"} {
		mustAdd(t, e, &AddRequest{
			VideoID:      "v1",
			LanguageCode: "en",
			Subtitles:    &models.SubtitleSet{Lines: timedLines(text)},
			Author:       models.Member{UserID: "u1"},
			Origin:       models.OriginWeb,
			Complete:     true,
		})
	}
	e.runner.jobs = nil

	// Version 1 is still public, so the language stays on the provider.
	_, err := e.p.SetVisibility(ctx, models.Member{UserID: "u1"}, "v1", "en", 2, models.VisibilityPrivate)
	require.NoError(t, err)

	assert.Equal(t, []string{jobs.KindIndexRefresh}, e.runner.kinds())
}

func TestSetVisibilityTeamGate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.addTeam("v1", &models.Workflow{
		TeamID:        "t1",
		ReviewAllowed: models.LevelManager,
	})

	mustAdd(t, e, &AddRequest{
		VideoID:      "v1",
		LanguageCode: "en",
		Subtitles:    &models.SubtitleSet{Lines: timedLines("Hello")},
		Author:       models.Member{UserID: "u1", Role: models.LevelContributor},
		Origin:       models.OriginWeb,
		Complete:     true,
	})

	_, err := e.p.SetVisibility(ctx, models.Member{UserID: "u1", Role: models.LevelContributor},
		"v1", "en", 1, models.VisibilityPublic)
	assert.ErrorIs(t, err, models.ErrPermissionDenied)

	version, err := e.p.SetVisibility(ctx, models.Member{UserID: "u2", Role: models.LevelManager},
		"v1", "en", 1, models.VisibilityPublic)
	require.NoError(t, err)
	assert.True(t, version.IsPublic())
}

func TestSetVisibilityRejectsUnknownOverride(t *testing.T) {
	e := newEnv(t)

	_, err := e.p.SetVisibility(context.Background(), models.Member{UserID: "u1"}, "v1", "en", 1, "hidden")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid visibility override")
}
