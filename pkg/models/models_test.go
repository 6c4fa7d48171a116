package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveVisibility(t *testing.T) {
	v := &SubtitleVersion{Visibility: VisibilityPrivate}
	assert.Equal(t, VisibilityPrivate, v.EffectiveVisibility())
	assert.False(t, v.IsPublic())

	v.VisibilityOverride = VisibilityPublic
	assert.Equal(t, VisibilityPublic, v.EffectiveVisibility())
	assert.True(t, v.IsPublic())

	v.Visibility = VisibilityPublic
	v.VisibilityOverride = VisibilityPrivate
	assert.False(t, v.IsPublic())
}

func TestMatchesPolicy(t *testing.T) {
	public := &SubtitleVersion{Visibility: VisibilityPublic}
	private := &SubtitleVersion{Visibility: VisibilityPrivate}

	assert.True(t, public.MatchesPolicy(PolicyPublic))
	assert.True(t, public.MatchesPolicy(PolicyAny))
	assert.False(t, private.MatchesPolicy(PolicyPublic))
	assert.True(t, private.MatchesPolicy(PolicyAny))
}

func TestIsRollback(t *testing.T) {
	v := &SubtitleVersion{}
	assert.False(t, v.IsRollback())

	target := 2
	v.RollbackOfVersionNumber = &target
	assert.True(t, v.IsRollback())
}

func TestLineSynced(t *testing.T) {
	assert.True(t, SubtitleLine{StartMS: 0, EndMS: 100}.Synced())
	assert.False(t, SubtitleLine{StartMS: UnsyncedTime, EndMS: UnsyncedTime}.Synced())
	assert.False(t, SubtitleLine{StartMS: 200, EndMS: 100}.Synced())
	assert.False(t, SubtitleLine{StartMS: 0, EndMS: MaxSubTime}.Synced())
}

func TestSetIsComplete(t *testing.T) {
	empty := &SubtitleSet{}
	assert.False(t, empty.IsComplete())

	synced := &SubtitleSet{Lines: []SubtitleLine{{Text: "a", StartMS: 0, EndMS: 100}}}
	assert.True(t, synced.IsComplete())

	mixed := &SubtitleSet{Lines: []SubtitleLine{
		{Text: "a", StartMS: 0, EndMS: 100},
		{Text: "b", StartMS: UnsyncedTime, EndMS: UnsyncedTime},
	}}
	assert.False(t, mixed.IsComplete())
}

func TestTaskKinds(t *testing.T) {
	for _, taskType := range []string{TaskTypeSubtitle, TaskTypeTranslate} {
		task := &Task{Type: taskType}
		assert.True(t, task.IsAuthoring(), taskType)
		assert.False(t, task.IsModeration(), taskType)
	}
	for _, taskType := range []string{TaskTypeReview, TaskTypeApprove} {
		task := &Task{Type: taskType}
		assert.False(t, task.IsAuthoring(), taskType)
		assert.True(t, task.IsModeration(), taskType)
	}

	assert.True(t, (&Task{State: TaskStateOpen}).IsOpen())
	assert.False(t, (&Task{State: TaskStateCompleted}).IsOpen())
}

func TestWorkflowGates(t *testing.T) {
	var nilWorkflow *Workflow
	assert.False(t, nilWorkflow.ReviewEnabled())
	assert.False(t, nilWorkflow.ApproveEnabled())
	assert.False(t, nilWorkflow.Moderated())

	assert.False(t, (&Workflow{}).Moderated())

	review := &Workflow{ReviewAllowed: LevelContributor}
	assert.True(t, review.ReviewEnabled())
	assert.False(t, review.ApproveEnabled())
	assert.True(t, review.Moderated())

	approve := &Workflow{ApproveAllowed: LevelManager}
	assert.False(t, approve.ReviewEnabled())
	assert.True(t, approve.ApproveEnabled())
	assert.True(t, approve.Moderated())
}

func TestWriteLockIsStale(t *testing.T) {
	now := time.Now()
	lock := &WriteLock{AcquiredAt: now.Add(-10 * time.Minute)}

	assert.False(t, lock.IsStale(30*time.Minute, now))
	assert.True(t, lock.IsStale(5*time.Minute, now))
}
