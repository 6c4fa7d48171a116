package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/wevoice/wesub-sub003/pkg/models"
)

// LanguageRepository provides access to the per-video language
// inventory.
type LanguageRepository struct {
	db *DB
}

// NewLanguageRepository creates a new language repository
func NewLanguageRepository(db *DB) *LanguageRepository {
	return &LanguageRepository{db: db}
}

// Get retrieves a language record
func (r *LanguageRepository) Get(ctx context.Context, videoID, languageCode string) (*models.SubtitleLanguage, error) {
	q := r.db.querierFrom(ctx)

	query := `
		SELECT id, video_id, language_code, subtitles_complete, is_forked, created_at, updated_at
		FROM languages
		WHERE video_id = $1 AND language_code = $2
	`

	var lang models.SubtitleLanguage
	err := q.QueryRow(ctx, query, videoID, languageCode).Scan(
		&lang.ID, &lang.VideoID, &lang.LanguageCode, &lang.SubtitlesComplete,
		&lang.IsForked, &lang.CreatedAt, &lang.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get language: %w", err)
	}

	return &lang, nil
}

// GetOrCreate returns the language record, creating it on first use.
// Idempotent: a concurrent insert loses to the unique constraint and
// falls back to the existing row.
func (r *LanguageRepository) GetOrCreate(ctx context.Context, videoID, languageCode string) (*models.SubtitleLanguage, error) {
	q := r.db.querierFrom(ctx)

	query := `
		INSERT INTO languages (id, video_id, language_code)
		VALUES ($1, $2, $3)
		ON CONFLICT (video_id, language_code) DO NOTHING
	`

	if _, err := q.Exec(ctx, query, uuid.New().String(), videoID, languageCode); err != nil {
		return nil, fmt.Errorf("failed to create language: %w", err)
	}

	return r.Get(ctx, videoID, languageCode)
}

// SetForked updates the fork flag of a language
func (r *LanguageRepository) SetForked(ctx context.Context, languageID string, forked bool) error {
	q := r.db.querierFrom(ctx)

	_, err := q.Exec(ctx,
		`UPDATE languages SET is_forked = $2, updated_at = now() WHERE id = $1`,
		languageID, forked,
	)
	if err != nil {
		return fmt.Errorf("failed to update fork flag: %w", err)
	}
	return nil
}

// SetSubtitlesComplete records the user intent that a language is
// finished
func (r *LanguageRepository) SetSubtitlesComplete(ctx context.Context, languageID string, complete bool) error {
	q := r.db.querierFrom(ctx)

	_, err := q.Exec(ctx,
		`UPDATE languages SET subtitles_complete = $2, updated_at = now() WHERE id = $1`,
		languageID, complete,
	)
	if err != nil {
		return fmt.Errorf("failed to update completeness flag: %w", err)
	}
	return nil
}

// List retrieves all language records of a video
func (r *LanguageRepository) List(ctx context.Context, videoID string) ([]*models.SubtitleLanguage, error) {
	q := r.db.querierFrom(ctx)

	query := `
		SELECT id, video_id, language_code, subtitles_complete, is_forked, created_at, updated_at
		FROM languages
		WHERE video_id = $1
		ORDER BY language_code ASC
	`

	rows, err := q.Query(ctx, query, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list languages: %w", err)
	}
	defer rows.Close()

	var langs []*models.SubtitleLanguage
	for rows.Next() {
		var lang models.SubtitleLanguage
		err := rows.Scan(
			&lang.ID, &lang.VideoID, &lang.LanguageCode, &lang.SubtitlesComplete,
			&lang.IsForked, &lang.CreatedAt, &lang.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan language: %w", err)
		}
		langs = append(langs, &lang)
	}

	return langs, nil
}

// LanguagesWithVersions lists language codes of a video that have at
// least one version
func (r *LanguageRepository) LanguagesWithVersions(ctx context.Context, videoID string) ([]string, error) {
	q := r.db.querierFrom(ctx)

	query := `
		SELECT DISTINCT language_code
		FROM versions
		WHERE video_id = $1
		ORDER BY language_code ASC
	`

	rows, err := q.Query(ctx, query, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list languages with versions: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan language code: %w", err)
		}
		codes = append(codes, code)
	}

	return codes, nil
}
