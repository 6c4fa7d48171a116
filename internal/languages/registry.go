package languages

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/text/language"

	"github.com/wevoice/wesub-sub003/internal/logging"
	"github.com/wevoice/wesub-sub003/pkg/models"
)

// LanguageStore is the persistence the registry needs for language rows.
type LanguageStore interface {
	Get(ctx context.Context, videoID, languageCode string) (*models.SubtitleLanguage, error)
	GetOrCreate(ctx context.Context, videoID, languageCode string) (*models.SubtitleLanguage, error)
	SetForked(ctx context.Context, languageID string, forked bool) error
	SetSubtitlesComplete(ctx context.Context, languageID string, complete bool) error
	List(ctx context.Context, videoID string) ([]*models.SubtitleLanguage, error)
	LanguagesWithVersions(ctx context.Context, videoID string) ([]string, error)
}

// VersionReader is the read access the registry needs to resolve
// translation sources from the version graph.
type VersionReader interface {
	Tip(ctx context.Context, videoID, languageCode, policy string) (*models.SubtitleVersion, error)
	Parents(ctx context.Context, versionID string) ([]*models.SubtitleVersion, error)
}

// Registry manages the per-video language inventory and the
// translation-source relation derived from version parent edges.
type Registry struct {
	store    LanguageStore
	versions VersionReader
	logger   *logging.Logger
}

// NewRegistry creates a new language registry
func NewRegistry(store LanguageStore, versions VersionReader, logger *logging.Logger) *Registry {
	return &Registry{store: store, versions: versions, logger: logger}
}

// GetOrCreate validates the language code and returns the language
// record, creating it lazily on first use.
func (r *Registry) GetOrCreate(ctx context.Context, videoID, languageCode string) (*models.SubtitleLanguage, error) {
	if err := ValidateCode(languageCode); err != nil {
		return nil, err
	}
	return r.store.GetOrCreate(ctx, videoID, languageCode)
}

// Get returns the language record without creating it.
func (r *Registry) Get(ctx context.Context, videoID, languageCode string) (*models.SubtitleLanguage, error) {
	return r.store.Get(ctx, videoID, languageCode)
}

// TranslationSource resolves the effective translation source of a
// language: the most recent distinct-language parent of its tip. Forked
// and independent languages have no source.
func (r *Registry) TranslationSource(ctx context.Context, videoID, languageCode string) (*models.SubtitleLanguage, error) {
	lang, err := r.store.Get(ctx, videoID, languageCode)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lang.IsForked {
		return nil, nil
	}

	tip, err := r.versions.Tip(ctx, videoID, languageCode, models.PolicyAny)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	parents, err := r.versions.Parents(ctx, tip.ID)
	if err != nil {
		return nil, err
	}

	// Parents arrive newest first; the language's own prior version is
	// implicit lineage and never a translation-source edge.
	for _, parent := range parents {
		if parent.LanguageCode != languageCode {
			return r.store.Get(ctx, videoID, parent.LanguageCode)
		}
	}
	return nil, nil
}

// Fork breaks the translation relation so the language owns its timings.
// New versions of a forked language carry no cross-language parent.
func (r *Registry) Fork(ctx context.Context, lang *models.SubtitleLanguage) error {
	if lang.IsForked {
		return nil
	}
	if err := r.store.SetForked(ctx, lang.ID, true); err != nil {
		return fmt.Errorf("failed to fork language: %w", err)
	}
	lang.IsForked = true
	if r.logger != nil {
		r.logger.WithVideoID(lang.VideoID).WithLanguage(lang.LanguageCode).Info("Language forked")
	}
	return nil
}

// SetComplete records the user intent that the language is finished.
func (r *Registry) SetComplete(ctx context.Context, lang *models.SubtitleLanguage, complete bool) error {
	if err := r.store.SetSubtitlesComplete(ctx, lang.ID, complete); err != nil {
		return err
	}
	lang.SubtitlesComplete = complete
	return nil
}

// LanguagesWithVersions lists language codes of a video that have at
// least one version, for UI prompts listing available sources.
func (r *Registry) LanguagesWithVersions(ctx context.Context, videoID string) ([]string, error) {
	return r.store.LanguagesWithVersions(ctx, videoID)
}

// ValidateCode rejects language codes that are not parseable BCP-47
// tags.
func ValidateCode(code string) error {
	if code == "" {
		return models.ErrInvalidLanguage
	}
	if _, err := language.Parse(code); err != nil {
		return fmt.Errorf("%w: %q", models.ErrInvalidLanguage, code)
	}
	return nil
}
