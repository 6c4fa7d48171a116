package database

import (
	"context"
	"fmt"
)

// schema is the persisted state layout of the versioning core. Versions
// are append-only; the unique constraints back the dense version
// numbering, the single-open-task rule and the parent edge graph.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		primary_audio_language_code TEXT NOT NULL DEFAULT '',
		duration_ms BIGINT,
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS team_videos (
		id TEXT PRIMARY KEY,
		team_id TEXT NOT NULL,
		video_id TEXT NOT NULL,
		project_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (team_id, video_id)
	)`,

	`CREATE TABLE IF NOT EXISTS provider_links (
		video_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		external_account TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (video_id, provider)
	)`,

	`CREATE TABLE IF NOT EXISTS languages (
		id TEXT PRIMARY KEY,
		video_id TEXT NOT NULL,
		language_code TEXT NOT NULL,
		subtitles_complete BOOLEAN NOT NULL DEFAULT FALSE,
		is_forked BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (video_id, language_code)
	)`,

	`CREATE TABLE IF NOT EXISTS versions (
		id TEXT PRIMARY KEY,
		video_id TEXT NOT NULL,
		language_code TEXT NOT NULL,
		version_number INTEGER NOT NULL,
		author TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		metadata JSONB NOT NULL DEFAULT '{}',
		payload JSONB NOT NULL,
		visibility TEXT NOT NULL,
		visibility_override TEXT NOT NULL DEFAULT '',
		rollback_of_version_number INTEGER,
		origin TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (video_id, language_code, version_number)
	)`,

	`CREATE TABLE IF NOT EXISTS version_parents (
		child_version_id TEXT NOT NULL,
		parent_version_id TEXT NOT NULL REFERENCES versions (id),
		PRIMARY KEY (child_version_id, parent_version_id)
	)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		team_video_id TEXT NOT NULL,
		video_id TEXT NOT NULL,
		language_code TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		assignee TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL DEFAULT 'open',
		decision TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		version_number INTEGER,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS tasks_one_open
		ON tasks (team_video_id, language_code, type)
		WHERE state = 'open'`,

	`CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		team_id TEXT NOT NULL,
		project_id TEXT NOT NULL DEFAULT '',
		autocreate_subtitle BOOLEAN NOT NULL DEFAULT FALSE,
		autocreate_translate BOOLEAN NOT NULL DEFAULT FALSE,
		review_allowed INTEGER NOT NULL DEFAULT 0,
		approve_allowed INTEGER NOT NULL DEFAULT 0,
		subtitle_policy INTEGER NOT NULL DEFAULT 0,
		translate_policy INTEGER NOT NULL DEFAULT 0,
		preferred_languages JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (team_id, project_id)
	)`,

	`CREATE INDEX IF NOT EXISTS versions_by_language
		ON versions (video_id, language_code, version_number DESC)`,

	`CREATE INDEX IF NOT EXISTS tasks_by_team_video
		ON tasks (team_video_id, state)`,
}

// Migrate creates the schema if it does not exist yet.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
