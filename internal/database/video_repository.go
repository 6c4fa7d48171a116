package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/wevoice/wesub-sub003/pkg/models"
)

// VideoRepository stores the core's view of videos, their team bindings
// and provider links.
type VideoRepository struct {
	db *DB
}

// NewVideoRepository creates a new video repository
func NewVideoRepository(db *DB) *VideoRepository {
	return &VideoRepository{db: db}
}

// Upsert writes a video settings record
func (r *VideoRepository) Upsert(ctx context.Context, video *models.Video) error {
	q := r.db.querierFrom(ctx)

	query := `
		INSERT INTO videos (id, primary_audio_language_code, duration_ms, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			primary_audio_language_code = EXCLUDED.primary_audio_language_code,
			duration_ms = EXCLUDED.duration_ms,
			metadata = EXCLUDED.metadata,
			updated_at = now()
		RETURNING created_at, updated_at
	`

	err := q.QueryRow(ctx, query,
		video.ID, video.PrimaryAudioLanguageCode, video.DurationMS, video.Metadata,
	).Scan(&video.CreatedAt, &video.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert video: %w", err)
	}
	return nil
}

// Get retrieves a video settings record
func (r *VideoRepository) Get(ctx context.Context, id string) (*models.Video, error) {
	q := r.db.querierFrom(ctx)

	query := `
		SELECT id, primary_audio_language_code, duration_ms, metadata, created_at, updated_at
		FROM videos
		WHERE id = $1
	`

	var video models.Video
	err := q.QueryRow(ctx, query, id).Scan(
		&video.ID, &video.PrimaryAudioLanguageCode, &video.DurationMS,
		&video.Metadata, &video.CreatedAt, &video.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	return &video, nil
}

// CreateTeamVideo binds a video to a team
func (r *VideoRepository) CreateTeamVideo(ctx context.Context, tv *models.TeamVideo) error {
	q := r.db.querierFrom(ctx)

	if tv.ID == "" {
		tv.ID = uuid.New().String()
	}

	query := `
		INSERT INTO team_videos (id, team_id, video_id, project_id)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`

	err := q.QueryRow(ctx, query, tv.ID, tv.TeamID, tv.VideoID, tv.ProjectID).Scan(&tv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create team video: %w", err)
	}
	return nil
}

// GetTeamVideoByVideo returns the team binding of a video, or
// models.ErrNotFound for videos that no team moderates
func (r *VideoRepository) GetTeamVideoByVideo(ctx context.Context, videoID string) (*models.TeamVideo, error) {
	q := r.db.querierFrom(ctx)

	query := `
		SELECT id, team_id, video_id, project_id, created_at
		FROM team_videos
		WHERE video_id = $1
	`

	var tv models.TeamVideo
	err := q.QueryRow(ctx, query, videoID).Scan(
		&tv.ID, &tv.TeamID, &tv.VideoID, &tv.ProjectID, &tv.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team video: %w", err)
	}

	return &tv, nil
}

// UpsertProviderLink records a provider account link for a video
func (r *VideoRepository) UpsertProviderLink(ctx context.Context, link *models.ProviderLink) error {
	q := r.db.querierFrom(ctx)

	query := `
		INSERT INTO provider_links (video_id, provider, external_account, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (video_id, provider) DO UPDATE SET
			external_account = EXCLUDED.external_account,
			active = EXCLUDED.active
	`

	if _, err := q.Exec(ctx, query, link.VideoID, link.Provider, link.ExternalAccount, link.Active); err != nil {
		return fmt.Errorf("failed to upsert provider link: %w", err)
	}
	return nil
}

// ActiveProviderLinks lists active provider links of a video
func (r *VideoRepository) ActiveProviderLinks(ctx context.Context, videoID string) ([]*models.ProviderLink, error) {
	q := r.db.querierFrom(ctx)

	query := `
		SELECT video_id, provider, external_account, active
		FROM provider_links
		WHERE video_id = $1 AND active
	`

	rows, err := q.Query(ctx, query, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider links: %w", err)
	}
	defer rows.Close()

	var links []*models.ProviderLink
	for rows.Next() {
		var link models.ProviderLink
		if err := rows.Scan(&link.VideoID, &link.Provider, &link.ExternalAccount, &link.Active); err != nil {
			return nil, fmt.Errorf("failed to scan provider link: %w", err)
		}
		links = append(links, &link)
	}

	return links, nil
}
