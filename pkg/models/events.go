package models

import "time"

// Event type constants consumed by notification, activity-feed and
// billing consumers.
const (
	EventVersionAdded      = "version_added"
	EventLanguagePublished = "language_published"
	EventTaskCreated       = "task_created"
	EventTaskCompleted     = "task_completed"
	EventTaskRejected      = "task_rejected"
)

// Event is the envelope published to the event sink.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// VersionAddedData is the payload of a version_added event.
type VersionAddedData struct {
	VersionID     string `json:"version_id"`
	VideoID       string `json:"video_id"`
	LanguageCode  string `json:"language_code"`
	VersionNumber int    `json:"version_number"`
	Author        string `json:"author"`
	Origin        string `json:"origin"`
}

// LanguagePublishedData is the payload of a language_published event.
type LanguagePublishedData struct {
	VideoID       string `json:"video_id"`
	LanguageCode  string `json:"language_code"`
	VersionNumber int    `json:"version_number"`
}

// TaskEventData is the payload of task_created, task_completed and
// task_rejected events.
type TaskEventData struct {
	TaskID       string `json:"task_id"`
	TeamVideoID  string `json:"team_video_id"`
	VideoID      string `json:"video_id"`
	LanguageCode string `json:"language_code,omitempty"`
	Type         string `json:"type"`
	Assignee     string `json:"assignee,omitempty"`
	Decision     string `json:"decision,omitempty"`
}
