package models

import "errors"

// Error kinds surfaced by the versioning core. The pipeline is the only
// layer that maps store-level constraint violations to these kinds;
// callers match with errors.Is.
var (
	// ErrWritelockHeld: another session holds the edit lock. Recoverable
	// by retry after the lock TTL.
	ErrWritelockHeld = errors.New("write lock held by another session")

	// ErrTranslationConflict: a declared translation source contradicts
	// the language's current source.
	ErrTranslationConflict = errors.New("translation source conflict")

	// ErrTranslationLineOverflow: a translation has more lines than its
	// source.
	ErrTranslationLineOverflow = errors.New("translation has more lines than source")

	// ErrPermissionDenied: the caller may not perform the action.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrBlockedByModeration: an open Review/Approve task blocks the edit.
	ErrBlockedByModeration = errors.New("blocked by open moderation task")

	// ErrInvalidLanguage: the language code is not a valid tag.
	ErrInvalidLanguage = errors.New("invalid language code")

	// ErrTaskState: invalid task transition; the task is unmodified.
	ErrTaskState = errors.New("invalid task state transition")

	// ErrConflict: version-number race lost; retried internally before
	// surfacing.
	ErrConflict = errors.New("version number conflict")

	// ErrNotFound: the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable: the store cannot be reached; fatal for the
	// request.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
