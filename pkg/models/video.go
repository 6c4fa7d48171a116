package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Video holds the core's view of an externally identified video: the
// primary audio language and duration, plus free-form metadata. Identity,
// playback and provider URLs live outside the core.
type Video struct {
	ID                       string     `json:"id" db:"id"`
	PrimaryAudioLanguageCode string     `json:"primary_audio_language_code,omitempty" db:"primary_audio_language_code"`
	DurationMS               *int64     `json:"duration_ms,omitempty" db:"duration_ms"`
	Metadata                 Metadata   `json:"metadata" db:"metadata"`
	CreatedAt                time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at" db:"updated_at"`
}

// TeamVideo binds a video to the team that moderates it. Tasks and
// workflow policy hang off this binding, not off the raw video.
type TeamVideo struct {
	ID        string    `json:"id" db:"id"`
	TeamID    string    `json:"team_id" db:"team_id"`
	VideoID   string    `json:"video_id" db:"video_id"`
	ProjectID string    `json:"project_id,omitempty" db:"project_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ProviderLink records that a video's subtitles back-sync to an external
// provider account.
type ProviderLink struct {
	VideoID         string `json:"video_id" db:"video_id"`
	Provider        string `json:"provider" db:"provider"`
	ExternalAccount string `json:"external_account" db:"external_account"`
	Active          bool   `json:"active" db:"active"`
}

// Metadata holds additional free-form metadata
type Metadata map[string]interface{}

// Value implements driver.Valuer for database storage
func (m Metadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for database retrieval
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(Metadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, m)
}
