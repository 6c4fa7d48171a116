package workflow

import (
	"github.com/wevoice/wesub-sub003/pkg/models"
)

// Policy evaluates the moderation permission table against a team
// workflow. All checks deny by default; callers outside a team bypass
// the policy entirely (open videos have no moderation).
type Policy struct{}

// NewPolicy creates a policy evaluator
func NewPolicy() *Policy {
	return &Policy{}
}

// CanAuthor reports whether a member may create or edit subtitles or
// translations. Allowed when the member's role meets the team's
// authoring policy, or when the member is assigned to the open authoring
// task.
func (p *Policy) CanAuthor(w *models.Workflow, member models.Member, taskType string, task *models.Task) bool {
	if task != nil && task.IsOpen() && task.Assignee == member.UserID {
		return true
	}
	if w == nil {
		return true
	}

	min := w.SubtitlePolicy
	if taskType == models.TaskTypeTranslate {
		min = w.TranslatePolicy
	}
	return member.Role >= min
}

// CanReview reports whether a member may review a draft. Peer review
// permits the same team but never the draft's own author.
func (p *Policy) CanReview(w *models.Workflow, member models.Member, draftAuthor string) bool {
	if !w.ReviewEnabled() {
		return false
	}
	if member.UserID == draftAuthor {
		return false
	}
	return member.Role >= w.ReviewAllowed
}

// CanApprove reports whether a member may run the approve gate. The
// reviewer of the draft may not also approve it.
func (p *Policy) CanApprove(w *models.Workflow, member models.Member, reviewer string) bool {
	if !w.ApproveEnabled() {
		return false
	}
	if member.UserID == reviewer && reviewer != "" {
		return false
	}
	return member.Role >= w.ApproveAllowed
}

// CanAssign reports whether a member may take a task: the task is open
// and unassigned (or already theirs), and the member passes the gate for
// the task type.
func (p *Policy) CanAssign(w *models.Workflow, member models.Member, task *models.Task) bool {
	if !task.IsOpen() {
		return false
	}
	if task.Assignee != "" && task.Assignee != member.UserID {
		return false
	}

	switch task.Type {
	case models.TaskTypeSubtitle, models.TaskTypeTranslate:
		return p.CanAuthor(w, member, task.Type, task)
	case models.TaskTypeReview:
		return w.ReviewEnabled() && member.Role >= w.ReviewAllowed
	case models.TaskTypeApprove:
		return w.ApproveEnabled() && member.Role >= w.ApproveAllowed
	}
	return false
}

// CanRollbackDraft reports whether a member may roll a draft back: only
// the assignee of the open authoring task.
func (p *Policy) CanRollbackDraft(member models.Member, authoringTask *models.Task) bool {
	return authoringTask != nil && authoringTask.IsOpen() &&
		authoringTask.IsAuthoring() && authoringTask.Assignee == member.UserID
}

// CanRollbackRejected reports whether a member may roll back after a
// rejecting review: only the reviewer who sent the draft back.
func (p *Policy) CanRollbackRejected(member models.Member, reviewTask *models.Task) bool {
	return reviewTask != nil && reviewTask.IsModeration() &&
		reviewTask.Decision == models.DecisionSentBack &&
		reviewTask.Assignee == member.UserID
}

// CanRollbackPublic reports whether a member may roll back a public
// version. The gate is the approve level, else the review level, else
// admin. The conservative reading of the permission table.
func (p *Policy) CanRollbackPublic(w *models.Workflow, member models.Member) bool {
	switch {
	case w == nil:
		return member.Role >= models.LevelAdmin
	case w.ApproveEnabled():
		return member.Role >= w.ApproveAllowed
	case w.ReviewEnabled():
		return member.Role >= w.ReviewAllowed
	default:
		return member.Role >= models.LevelAdmin
	}
}
