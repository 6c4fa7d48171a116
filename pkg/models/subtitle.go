package models

import (
	"database/sql/driver"
	"encoding/json"
)

// Time constants for subtitle line timing, in integer milliseconds.
const (
	// UnsyncedTime marks an absent start or end time.
	UnsyncedTime int64 = -1

	// MaxSubTime is the maximum representable subtitle time (24 hours).
	MaxSubTime int64 = 24 * 60 * 60 * 1000
)

// SubtitleLine is one timed line of a subtitle track. Text may contain
// hard newlines ("\n") and the restricted inline markup (<b>, <i>).
type SubtitleLine struct {
	Text             string `json:"text"`
	StartMS          int64  `json:"start_ms"`
	EndMS            int64  `json:"end_ms"`
	StartOfParagraph bool   `json:"start_of_paragraph,omitempty"`
}

// Synced reports whether both times are present and within range.
func (l SubtitleLine) Synced() bool {
	return l.StartMS >= 0 && l.StartMS < MaxSubTime &&
		l.EndMS >= l.StartMS && l.EndMS < MaxSubTime
}

// SubtitleSet is the canonical in-memory representation of one version's
// timed text.
type SubtitleSet struct {
	LanguageCode string            `json:"language_code,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Lines        []SubtitleLine    `json:"lines"`
}

// Count returns the number of lines in the set.
func (s *SubtitleSet) Count() int {
	if s == nil {
		return 0
	}
	return len(s.Lines)
}

// IsComplete reports whether the set has lines and every line is synced.
func (s *SubtitleSet) IsComplete() bool {
	if s == nil || len(s.Lines) == 0 {
		return false
	}
	for _, line := range s.Lines {
		if !line.Synced() {
			return false
		}
	}
	return true
}

// SetLanguage stamps the language on the in-memory payload. Used by
// XML-based codecs on export.
func (s *SubtitleSet) SetLanguage(code string) {
	s.LanguageCode = code
}

// Clone returns a deep copy of the set.
func (s *SubtitleSet) Clone() *SubtitleSet {
	if s == nil {
		return nil
	}
	out := &SubtitleSet{LanguageCode: s.LanguageCode}
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	out.Lines = make([]SubtitleLine, len(s.Lines))
	copy(out.Lines, s.Lines)
	return out
}

// Value implements driver.Valuer for database storage
func (s SubtitleSet) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for database retrieval
func (s *SubtitleSet) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, s)
}
