package models

import "time"

// WriteLock is a short-lived exclusive edit reservation on a
// (video, language) pair. At most one active lock exists per pair.
type WriteLock struct {
	VideoID      string    `json:"video_id"`
	LanguageCode string    `json:"language_code"`
	OwnerUser    string    `json:"owner_user"`
	SessionKey   string    `json:"session_key"`
	AcquiredAt   time.Time `json:"acquired_at"`
}

// IsStale reports whether the lock has outlived the TTL and may be
// evicted by the next acquirer.
func (l *WriteLock) IsStale(ttl time.Duration, now time.Time) bool {
	return now.Sub(l.AcquiredAt) > ttl
}
