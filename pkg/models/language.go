package models

import "time"

// SubtitleLanguage is the container for all versions of one subtitle
// track of a video in one language code. Created lazily on first draft,
// never deleted.
type SubtitleLanguage struct {
	ID                string    `json:"id" db:"id"`
	VideoID           string    `json:"video_id" db:"video_id"`
	LanguageCode      string    `json:"language_code" db:"language_code"`
	SubtitlesComplete bool      `json:"subtitles_complete" db:"subtitles_complete"`
	IsForked          bool      `json:"is_forked" db:"is_forked"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}
