package models

import "time"

// TaskType constants
const (
	TaskTypeSubtitle  = "subtitle"
	TaskTypeTranslate = "translate"
	TaskTypeReview    = "review"
	TaskTypeApprove   = "approve"
)

// TaskState constants
const (
	TaskStateOpen      = "open"
	TaskStateCompleted = "completed"
	TaskStateRejected  = "rejected"
	TaskStateDeleted   = "deleted"
)

// Review/Approve decision constants
const (
	DecisionApproved = "approved"
	DecisionSentBack = "sent_back"
)

// TaskPriority constants
const (
	TaskPriorityLow    = 0
	TaskPriorityNormal = 5
	TaskPriorityHigh   = 10
)

// Task is one unit of work in the moderation flow of a team video.
// At most one Open task exists per (team_video, language, type).
type Task struct {
	ID           string `json:"id" db:"id"`
	TeamVideoID  string `json:"team_video_id" db:"team_video_id"`
	VideoID      string `json:"video_id" db:"video_id"`
	LanguageCode string `json:"language_code,omitempty" db:"language_code"`
	Type         string `json:"type" db:"type"`
	Assignee     string `json:"assignee,omitempty" db:"assignee"`
	Priority     int    `json:"priority" db:"priority"`
	State        string `json:"state" db:"state"`

	// Decision is set when a Review/Approve task completes: DecisionApproved
	// or DecisionSentBack.
	Decision string `json:"decision,omitempty" db:"decision"`

	// Body carries the reviewer note, if any.
	Body string `json:"body,omitempty" db:"body"`

	// VersionNumber is the version a Review/Approve task is judging, or the
	// version an authoring task produced on completion.
	VersionNumber *int `json:"version_number,omitempty" db:"version_number"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// IsAuthoring reports whether the task produces draft versions.
func (t *Task) IsAuthoring() bool {
	return t.Type == TaskTypeSubtitle || t.Type == TaskTypeTranslate
}

// IsModeration reports whether the task judges a draft version.
func (t *Task) IsModeration() bool {
	return t.Type == TaskTypeReview || t.Type == TaskTypeApprove
}

// IsOpen reports whether the task can still be assigned or completed.
func (t *Task) IsOpen() bool {
	return t.State == TaskStateOpen
}
