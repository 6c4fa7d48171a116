package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Visibility constants. A version's effective visibility is the override
// when set, else the base visibility.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// VisibilityPolicy selects which versions count as tips.
const (
	PolicyPublic = "public"
	PolicyAny    = "any"
)

// Origin tags describing how an edit was produced. Free-form,
// informational.
const (
	OriginUpload   = "upload"
	OriginWeb      = "web"
	OriginAPI      = "api"
	OriginRollback = "rollback"
)

// SubtitleVersion is an immutable, append-only record of one edit of one
// language's subtitles. Once written, only VisibilityOverride may change.
type SubtitleVersion struct {
	ID            string          `json:"id" db:"id"`
	VideoID       string          `json:"video_id" db:"video_id"`
	LanguageCode  string          `json:"language_code" db:"language_code"`
	VersionNumber int             `json:"version_number" db:"version_number"`
	Author        string          `json:"author" db:"author"`
	Title         string          `json:"title,omitempty" db:"title"`
	Description   string          `json:"description,omitempty" db:"description"`
	Metadata      VersionMetadata `json:"metadata" db:"metadata"`
	Payload       SubtitleSet     `json:"payload" db:"payload"`

	// ParentIDs always includes the previous version in the same language
	// if any, and may include one version from another language (the
	// translation source).
	ParentIDs []string `json:"parent_ids,omitempty" db:"-"`

	Visibility         string `json:"visibility" db:"visibility"`
	VisibilityOverride string `json:"visibility_override,omitempty" db:"visibility_override"`

	RollbackOfVersionNumber *int   `json:"rollback_of_version_number,omitempty" db:"rollback_of_version_number"`
	Origin                  string `json:"origin" db:"origin"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// EffectiveVisibility returns the override when set, else the base
// visibility.
func (v *SubtitleVersion) EffectiveVisibility() string {
	if v.VisibilityOverride != "" {
		return v.VisibilityOverride
	}
	return v.Visibility
}

// IsPublic reports whether the version is publicly visible.
func (v *SubtitleVersion) IsPublic() bool {
	return v.EffectiveVisibility() == VisibilityPublic
}

// MatchesPolicy reports whether the version counts as a tip candidate
// under the given policy.
func (v *SubtitleVersion) MatchesPolicy(policy string) bool {
	return policy == PolicyAny || v.EffectiveVisibility() == policy
}

// IsRollback reports whether the version was produced by a rollback.
func (v *SubtitleVersion) IsRollback() bool {
	return v.RollbackOfVersionNumber != nil
}

// VersionMetadata holds the small key/value map attached to a version
// (speaker name, location, ...).
type VersionMetadata map[string]string

// Value implements driver.Valuer for database storage
func (m VersionMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for database retrieval
func (m *VersionMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(VersionMetadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, m)
}
