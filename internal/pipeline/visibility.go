package pipeline

import (
	"context"
	"fmt"

	"github.com/wevoice/wesub-sub003/pkg/models"
)

// Tip returns the newest version of a language visible under the given
// policy, through the cache when one is wired.
func (p *Pipeline) Tip(ctx context.Context, videoID, languageCode, policy string) (*models.SubtitleVersion, error) {
	if p.cache != nil {
		cached, err := p.cache.GetTip(ctx, videoID, languageCode, policy)
		if err == nil && cached != nil {
			return cached, nil
		}
		if err != nil && p.logger != nil {
			p.logger.WithError(err).WithVideoID(videoID).Debug("Tip cache read failed")
		}
	}

	tip, err := p.versions.Tip(ctx, videoID, languageCode, policy)
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		if err := p.cache.SetTip(ctx, policy, tip, tipCacheTTL); err != nil && p.logger != nil {
			p.logger.WithError(err).WithVideoID(videoID).Debug("Tip cache write failed")
		}
	}
	return tip, nil
}

// SetVisibility changes the visibility override of a version, the one
// mutable field of the graph. Team videos gate this on post-publication
// rollback rights.
func (p *Pipeline) SetVisibility(ctx context.Context, member models.Member, videoID, languageCode string, versionNumber int, override string) (*models.SubtitleVersion, error) {
	switch override {
	case "", models.VisibilityPublic, models.VisibilityPrivate:
	default:
		return nil, fmt.Errorf("invalid visibility override %q", override)
	}

	tv, wf, err := p.teamContext(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if tv != nil && !p.policy.CanRollbackPublic(wf, member) {
		return nil, models.ErrPermissionDenied
	}

	version, err := p.versions.Get(ctx, videoID, languageCode, versionNumber)
	if err != nil {
		return nil, err
	}
	if version.VisibilityOverride == override {
		return version, nil
	}

	if err := p.versions.SetVisibilityOverride(ctx, version.ID, version.VisibilityOverride, override); err != nil {
		return nil, err
	}
	version.VisibilityOverride = override

	p.invalidateTips(ctx, videoID, languageCode)
	p.enqueueVisibilityEffects(ctx, videoID, languageCode)
	if p.logger != nil {
		p.logger.WithVideoID(videoID).WithLanguage(languageCode).WithVersion(versionNumber).
			WithField("override", override).Info("Visibility override changed")
	}
	return version, nil
}
