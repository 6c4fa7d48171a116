package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wevoice/wesub-sub003/pkg/models"
)

func moderatedWorkflow() *models.Workflow {
	return &models.Workflow{
		TeamID:          "team-1",
		ReviewAllowed:   models.LevelContributor,
		ApproveAllowed:  models.LevelManager,
		SubtitlePolicy:  models.LevelContributor,
		TranslatePolicy: models.LevelContributor,
	}
}

func TestCanAuthor(t *testing.T) {
	policy := NewPolicy()
	w := moderatedWorkflow()
	w.SubtitlePolicy = models.LevelManager

	contributor := models.Member{UserID: "u1", Role: models.LevelContributor}
	manager := models.Member{UserID: "u2", Role: models.LevelManager}

	assert.False(t, policy.CanAuthor(w, contributor, models.TaskTypeSubtitle, nil))
	assert.True(t, policy.CanAuthor(w, manager, models.TaskTypeSubtitle, nil))

	// The assignee of the open task may author regardless of role
	task := &models.Task{ID: "t1", Type: models.TaskTypeSubtitle, State: models.TaskStateOpen, Assignee: "u1"}
	assert.True(t, policy.CanAuthor(w, contributor, models.TaskTypeSubtitle, task))

	// Translate uses its own gate
	w.TranslatePolicy = models.LevelOff
	assert.True(t, policy.CanAuthor(w, contributor, models.TaskTypeTranslate, nil))

	// No workflow means no gate
	assert.True(t, policy.CanAuthor(nil, contributor, models.TaskTypeSubtitle, nil))
}

func TestCanReview(t *testing.T) {
	policy := NewPolicy()
	w := moderatedWorkflow()

	reviewer := models.Member{UserID: "u3", Role: models.LevelContributor}
	author := models.Member{UserID: "u1", Role: models.LevelAdmin}

	assert.True(t, policy.CanReview(w, reviewer, "u1"))

	// Never the draft's own author, whatever the role
	assert.False(t, policy.CanReview(w, author, "u1"))

	// Review disabled
	w.ReviewAllowed = models.LevelOff
	assert.False(t, policy.CanReview(w, reviewer, "u1"))
}

func TestCanApprove(t *testing.T) {
	policy := NewPolicy()
	w := moderatedWorkflow()

	manager := models.Member{UserID: "u4", Role: models.LevelManager}
	contributor := models.Member{UserID: "u5", Role: models.LevelContributor}

	assert.True(t, policy.CanApprove(w, manager, "u3"))
	assert.False(t, policy.CanApprove(w, contributor, "u3"))

	// The reviewer may not also approve
	assert.False(t, policy.CanApprove(w, models.Member{UserID: "u3", Role: models.LevelAdmin}, "u3"))

	w.ApproveAllowed = models.LevelOff
	assert.False(t, policy.CanApprove(w, manager, "u3"))
}

func TestCanAssign(t *testing.T) {
	policy := NewPolicy()
	w := moderatedWorkflow()

	member := models.Member{UserID: "u1", Role: models.LevelContributor}

	open := &models.Task{Type: models.TaskTypeSubtitle, State: models.TaskStateOpen}
	assert.True(t, policy.CanAssign(w, member, open))

	// Already assigned to someone else
	taken := &models.Task{Type: models.TaskTypeSubtitle, State: models.TaskStateOpen, Assignee: "u2"}
	assert.False(t, policy.CanAssign(w, member, taken))

	// Re-assigning to the current assignee is fine
	taken.Assignee = "u1"
	assert.True(t, policy.CanAssign(w, member, taken))

	// Closed tasks are not assignable
	done := &models.Task{Type: models.TaskTypeSubtitle, State: models.TaskStateCompleted}
	assert.False(t, policy.CanAssign(w, member, done))

	// Approve gate applies to approve tasks
	approve := &models.Task{Type: models.TaskTypeApprove, State: models.TaskStateOpen}
	assert.False(t, policy.CanAssign(w, member, approve))
	assert.True(t, policy.CanAssign(w, models.Member{UserID: "u6", Role: models.LevelManager}, approve))
}

func TestCanRollbackDraft(t *testing.T) {
	policy := NewPolicy()

	member := models.Member{UserID: "u1", Role: models.LevelContributor}
	task := &models.Task{Type: models.TaskTypeSubtitle, State: models.TaskStateOpen, Assignee: "u1"}

	assert.True(t, policy.CanRollbackDraft(member, task))
	assert.False(t, policy.CanRollbackDraft(models.Member{UserID: "u2"}, task))
	assert.False(t, policy.CanRollbackDraft(member, nil))

	task.State = models.TaskStateCompleted
	assert.False(t, policy.CanRollbackDraft(member, task))
}

func TestCanRollbackRejected(t *testing.T) {
	policy := NewPolicy()

	review := &models.Task{
		Type:     models.TaskTypeReview,
		State:    models.TaskStateCompleted,
		Assignee: "u3",
		Decision: models.DecisionSentBack,
	}

	assert.True(t, policy.CanRollbackRejected(models.Member{UserID: "u3"}, review))
	assert.False(t, policy.CanRollbackRejected(models.Member{UserID: "u1"}, review))

	review.Decision = models.DecisionApproved
	assert.False(t, policy.CanRollbackRejected(models.Member{UserID: "u3"}, review))
	assert.False(t, policy.CanRollbackRejected(models.Member{UserID: "u3"}, nil))
}

func TestCanRollbackPublic(t *testing.T) {
	policy := NewPolicy()

	manager := models.Member{UserID: "u4", Role: models.LevelManager}
	contributor := models.Member{UserID: "u5", Role: models.LevelContributor}
	admin := models.Member{UserID: "u6", Role: models.LevelAdmin}

	// Approve enabled: the approve level gates
	w := moderatedWorkflow()
	assert.True(t, policy.CanRollbackPublic(w, manager))
	assert.False(t, policy.CanRollbackPublic(w, contributor))

	// Approve off, review on: the review level gates
	w.ApproveAllowed = models.LevelOff
	assert.True(t, policy.CanRollbackPublic(w, contributor))

	// No gates at all: admin only
	w.ReviewAllowed = models.LevelOff
	assert.False(t, policy.CanRollbackPublic(w, manager))
	assert.True(t, policy.CanRollbackPublic(w, admin))

	assert.True(t, policy.CanRollbackPublic(nil, admin))
	assert.False(t, policy.CanRollbackPublic(nil, manager))
}
