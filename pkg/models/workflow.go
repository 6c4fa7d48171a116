package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// RoleLevel orders team roles for workflow gates. LevelOff disables a
// gate entirely.
type RoleLevel int

// Role levels
const (
	LevelOff         RoleLevel = 0
	LevelContributor RoleLevel = 10
	LevelManager     RoleLevel = 20
	LevelAdmin       RoleLevel = 30
)

// Member is a team member as seen by the permission checks. Identity and
// membership management live outside the core.
type Member struct {
	UserID string    `json:"user_id"`
	Role   RoleLevel `json:"role"`
}

// Workflow is the per-team (optionally per-project) moderation policy:
// which tasks auto-spawn and which roles may review or approve.
type Workflow struct {
	ID        string `json:"id" db:"id"`
	TeamID    string `json:"team_id" db:"team_id"`
	ProjectID string `json:"project_id,omitempty" db:"project_id"`

	AutocreateSubtitle  bool `json:"autocreate_subtitle" db:"autocreate_subtitle"`
	AutocreateTranslate bool `json:"autocreate_translate" db:"autocreate_translate"`

	ReviewAllowed  RoleLevel `json:"review_allowed" db:"review_allowed"`
	ApproveAllowed RoleLevel `json:"approve_allowed" db:"approve_allowed"`

	// Minimum roles for authoring. LevelOff means any member may author.
	SubtitlePolicy  RoleLevel `json:"subtitle_policy" db:"subtitle_policy"`
	TranslatePolicy RoleLevel `json:"translate_policy" db:"translate_policy"`

	// PreferredLanguages drives Translate task auto-creation after a
	// version publishes.
	PreferredLanguages LanguageList `json:"preferred_languages" db:"preferred_languages"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ReviewEnabled reports whether the review gate is on.
func (w *Workflow) ReviewEnabled() bool {
	return w != nil && w.ReviewAllowed > LevelOff
}

// ApproveEnabled reports whether the approve gate is on.
func (w *Workflow) ApproveEnabled() bool {
	return w != nil && w.ApproveAllowed > LevelOff
}

// Moderated reports whether any gate is enabled; unmoderated teams
// publish drafts immediately.
func (w *Workflow) Moderated() bool {
	return w.ReviewEnabled() || w.ApproveEnabled()
}

// LanguageList is a list of language codes stored as a JSON column.
type LanguageList []string

// Value implements driver.Valuer for database storage
func (l LanguageList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// Scan implements sql.Scanner for database retrieval
func (l *LanguageList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, l)
}
