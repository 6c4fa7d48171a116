package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wevoice/wesub-sub003/pkg/models"
)

const uniqueViolation = "23505"

const versionColumns = `id, video_id, language_code, version_number, author, title,
	       description, metadata, payload, visibility, visibility_override,
	       rollback_of_version_number, origin, created_at`

// VersionRepository provides access to the append-only version history
// and its parent edges.
type VersionRepository struct {
	db *DB
}

// NewVersionRepository creates a new version repository
func NewVersionRepository(db *DB) *VersionRepository {
	return &VersionRepository{db: db}
}

// Append writes a new version with the next dense version number for its
// language, together with its parent edges. A lost race on the version
// number surfaces as models.ErrConflict; callers retry under the write
// lock.
func (r *VersionRepository) Append(ctx context.Context, version *models.SubtitleVersion) error {
	q := r.db.querierFrom(ctx)

	if version.ID == "" {
		version.ID = uuid.New().String()
	}

	var maxNumber int
	err := q.QueryRow(ctx,
		`SELECT COALESCE(MAX(version_number), 0) FROM versions WHERE video_id = $1 AND language_code = $2`,
		version.VideoID, version.LanguageCode,
	).Scan(&maxNumber)
	if err != nil {
		return fmt.Errorf("failed to resolve version number: %w", err)
	}
	version.VersionNumber = maxNumber + 1

	query := `
		INSERT INTO versions (id, video_id, language_code, version_number, author, title,
		                      description, metadata, payload, visibility, visibility_override,
		                      rollback_of_version_number, origin)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at
	`

	err = q.QueryRow(ctx, query,
		version.ID, version.VideoID, version.LanguageCode, version.VersionNumber,
		version.Author, version.Title, version.Description, version.Metadata,
		version.Payload, version.Visibility, version.VisibilityOverride,
		version.RollbackOfVersionNumber, version.Origin,
	).Scan(&version.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return models.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to append version: %w", err)
	}

	for _, parentID := range version.ParentIDs {
		_, err := q.Exec(ctx,
			`INSERT INTO version_parents (child_version_id, parent_version_id) VALUES ($1, $2)`,
			version.ID, parentID,
		)
		if err != nil {
			return fmt.Errorf("failed to record parent edge: %w", err)
		}
	}

	return nil
}

// Get retrieves one version by number, with its parent edges loaded
func (r *VersionRepository) Get(ctx context.Context, videoID, languageCode string, versionNumber int) (*models.SubtitleVersion, error) {
	q := r.db.querierFrom(ctx)

	query := `
		SELECT ` + versionColumns + `
		FROM versions
		WHERE video_id = $1 AND language_code = $2 AND version_number = $3
	`

	version, err := scanVersion(q.QueryRow(ctx, query, videoID, languageCode, versionNumber))
	if err != nil {
		return nil, err
	}

	if err := r.loadParents(ctx, version); err != nil {
		return nil, err
	}
	return version, nil
}

// Tip returns the highest-numbered version whose effective visibility
// matches the policy ("public" or "any"), or models.ErrNotFound.
func (r *VersionRepository) Tip(ctx context.Context, videoID, languageCode, policy string) (*models.SubtitleVersion, error) {
	q := r.db.querierFrom(ctx)

	query := `
		SELECT ` + versionColumns + `
		FROM versions
		WHERE video_id = $1 AND language_code = $2
	`
	args := []any{videoID, languageCode}

	if policy != models.PolicyAny {
		query += ` AND COALESCE(NULLIF(visibility_override, ''), visibility) = $3`
		args = append(args, policy)
	}
	query += ` ORDER BY version_number DESC LIMIT 1`

	version, err := scanVersion(q.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, err
	}

	if err := r.loadParents(ctx, version); err != nil {
		return nil, err
	}
	return version, nil
}

// List retrieves all versions of a language, oldest first, without
// parent edges
func (r *VersionRepository) List(ctx context.Context, videoID, languageCode string) ([]*models.SubtitleVersion, error) {
	q := r.db.querierFrom(ctx)

	query := `
		SELECT ` + versionColumns + `
		FROM versions
		WHERE video_id = $1 AND language_code = $2
		ORDER BY version_number ASC
	`

	rows, err := q.Query(ctx, query, videoID, languageCode)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	return scanVersions(rows)
}

// Parents retrieves the parent versions of a version
func (r *VersionRepository) Parents(ctx context.Context, versionID string) ([]*models.SubtitleVersion, error) {
	q := r.db.querierFrom(ctx)

	query := `
		SELECT ` + versionColumns + `
		FROM versions
		JOIN version_parents ON versions.id = version_parents.parent_version_id
		WHERE version_parents.child_version_id = $1
		ORDER BY versions.created_at DESC
	`

	rows, err := q.Query(ctx, query, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load parents: %w", err)
	}
	defer rows.Close()

	return scanVersions(rows)
}

// Ancestors walks the parent edges transitively from a version
func (r *VersionRepository) Ancestors(ctx context.Context, versionID string) ([]*models.SubtitleVersion, error) {
	return r.walkEdges(ctx, versionID, "parent_version_id", "child_version_id")
}

// Descendants walks the parent edges transitively towards newer versions
func (r *VersionRepository) Descendants(ctx context.Context, versionID string) ([]*models.SubtitleVersion, error) {
	return r.walkEdges(ctx, versionID, "child_version_id", "parent_version_id")
}

func (r *VersionRepository) walkEdges(ctx context.Context, versionID, follow, from string) ([]*models.SubtitleVersion, error) {
	q := r.db.querierFrom(ctx)

	query := fmt.Sprintf(`
		WITH RECURSIVE related (id) AS (
			SELECT %[1]s FROM version_parents WHERE %[2]s = $1
			UNION
			SELECT version_parents.%[1]s
			FROM version_parents
			JOIN related ON version_parents.%[2]s = related.id
		)
		SELECT `+versionColumns+`
		FROM versions
		WHERE id IN (SELECT id FROM related)
		ORDER BY created_at ASC
	`, follow, from)

	rows, err := q.Query(ctx, query, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to walk version graph: %w", err)
	}
	defer rows.Close()

	return scanVersions(rows)
}

// SetVisibilityOverride updates the only mutable field of a version with
// a compare-and-set on the prior value. A lost race surfaces as
// models.ErrConflict.
func (r *VersionRepository) SetVisibilityOverride(ctx context.Context, versionID, previous, override string) error {
	q := r.db.querierFrom(ctx)

	tag, err := q.Exec(ctx,
		`UPDATE versions SET visibility_override = $3 WHERE id = $1 AND visibility_override = $2`,
		versionID, previous, override,
	)
	if err != nil {
		return fmt.Errorf("failed to set visibility override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrConflict
	}
	return nil
}

func (r *VersionRepository) loadParents(ctx context.Context, version *models.SubtitleVersion) error {
	q := r.db.querierFrom(ctx)

	rows, err := q.Query(ctx,
		`SELECT parent_version_id FROM version_parents WHERE child_version_id = $1`,
		version.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to load parent edges: %w", err)
	}
	defer rows.Close()

	version.ParentIDs = nil
	for rows.Next() {
		var parentID string
		if err := rows.Scan(&parentID); err != nil {
			return fmt.Errorf("failed to scan parent edge: %w", err)
		}
		version.ParentIDs = append(version.ParentIDs, parentID)
	}
	return nil
}

func scanVersion(row pgx.Row) (*models.SubtitleVersion, error) {
	var version models.SubtitleVersion
	err := row.Scan(
		&version.ID, &version.VideoID, &version.LanguageCode, &version.VersionNumber,
		&version.Author, &version.Title, &version.Description, &version.Metadata,
		&version.Payload, &version.Visibility, &version.VisibilityOverride,
		&version.RollbackOfVersionNumber, &version.Origin, &version.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan version: %w", err)
	}
	return &version, nil
}

func scanVersions(rows pgx.Rows) ([]*models.SubtitleVersion, error) {
	var versions []*models.SubtitleVersion
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	return versions, nil
}
