package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wevoice/wesub-sub003/internal/logging"
	"github.com/wevoice/wesub-sub003/internal/metrics"
	"github.com/wevoice/wesub-sub003/internal/subtitles"
	"github.com/wevoice/wesub-sub003/pkg/models"
)

// providerFormat is the rendition pushed to linked provider accounts.
const providerFormat = "srt"

// VersionReader loads the version a job refers to and resolves the
// current tip of a language.
type VersionReader interface {
	Get(ctx context.Context, videoID, languageCode string, versionNumber int) (*models.SubtitleVersion, error)
	Tip(ctx context.Context, videoID, languageCode, policy string) (*models.SubtitleVersion, error)
}

// LinkReader lists the provider accounts linked to a video.
type LinkReader interface {
	ActiveProviderLinks(ctx context.Context, videoID string) ([]*models.ProviderLink, error)
}

// ProviderSink pushes rendered subtitles back to an external provider
// and withdraws languages that went dark.
type ProviderSink interface {
	PushLanguage(ctx context.Context, link *models.ProviderLink, version *models.SubtitleVersion, rendered []byte) error
	DeleteLanguage(ctx context.Context, link *models.ProviderLink, languageCode string) error
}

// Exporter stores rendered subtitle files.
type Exporter interface {
	Put(ctx context.Context, videoID, languageCode string, versionNumber int, format string, rendered []byte) error
}

// Processor executes side-effect jobs on the worker. Jobs are
// idempotent; a retried job overwrites its previous output.
type Processor struct {
	versions VersionReader
	links    LinkReader
	provider ProviderSink
	exports  Exporter
	codecs   *subtitles.Registry
	logger   *logging.Logger

	// exportFormats are the renditions written on an export job.
	exportFormats []string
}

// NewProcessor creates a job processor
func NewProcessor(versions VersionReader, links LinkReader, provider ProviderSink, exports Exporter, codecs *subtitles.Registry, logger *logging.Logger) *Processor {
	if codecs == nil {
		codecs = subtitles.DefaultRegistry()
	}
	return &Processor{
		versions:      versions,
		links:         links,
		provider:      provider,
		exports:       exports,
		codecs:        codecs,
		logger:        logger,
		exportFormats: []string{"srt", "vtt"},
	}
}

// Process runs one job and records its outcome.
func (p *Processor) Process(ctx context.Context, job *Job) error {
	timer := prometheus.NewTimer(metrics.JobDuration.WithLabelValues(job.Kind))
	defer timer.ObserveDuration()

	err := p.process(ctx, job)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.JobsProcessedTotal.WithLabelValues(job.Kind, status).Inc()

	if p.logger != nil {
		l := p.logger.WithField("job_id", job.ID).WithField("job_kind", job.Kind)
		if err != nil {
			l.WithError(err).Error("Job failed")
		} else {
			l.Debug("Job processed")
		}
	}
	return err
}

func (p *Processor) process(ctx context.Context, job *Job) error {
	switch job.Kind {
	case KindIndexRefresh:
		return p.processIndexRefresh(job)
	case KindProviderSync:
		return p.processProviderSync(ctx, job)
	case KindProviderDelete:
		return p.processProviderDelete(ctx, job)
	case KindExport:
		return p.processExport(ctx, job)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// processIndexRefresh signals the search indexer, which consumes the
// event stream; the job itself only records that the language changed.
func (p *Processor) processIndexRefresh(job *Job) error {
	var payload IndexRefreshPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode index refresh payload: %w", err)
	}
	if p.logger != nil {
		p.logger.WithVideoID(payload.VideoID).WithLanguage(payload.LanguageCode).
			Info("Search index refresh requested")
	}
	return nil
}

func (p *Processor) processProviderSync(ctx context.Context, job *Job) error {
	if p.provider == nil {
		return nil
	}

	var payload SyncPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode sync payload: %w", err)
	}

	version, err := p.versions.Get(ctx, payload.VideoID, payload.LanguageCode, payload.VersionNumber)
	if err != nil {
		return fmt.Errorf("failed to load version: %w", err)
	}
	if !version.IsPublic() {
		// Visibility changed since the job was queued; never push
		// private drafts outward.
		return nil
	}

	rendered, err := p.render(version, providerFormat)
	if err != nil {
		return err
	}

	links, err := p.links.ActiveProviderLinks(ctx, payload.VideoID)
	if err != nil {
		return fmt.Errorf("failed to list provider links: %w", err)
	}
	for _, link := range links {
		if err := p.provider.PushLanguage(ctx, link, version, rendered); err != nil {
			return fmt.Errorf("failed to push to %s: %w", link.Provider, err)
		}
	}
	return nil
}

// processProviderDelete withdraws a language from linked providers. The
// job is queued when the last public version goes private; the public
// tip is re-checked here because visibility may have flipped again.
func (p *Processor) processProviderDelete(ctx context.Context, job *Job) error {
	if p.provider == nil {
		return nil
	}

	var payload ProviderDeletePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode provider delete payload: %w", err)
	}

	_, err := p.versions.Tip(ctx, payload.VideoID, payload.LanguageCode, models.PolicyPublic)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to resolve public tip: %w", err)
	}

	links, err := p.links.ActiveProviderLinks(ctx, payload.VideoID)
	if err != nil {
		return fmt.Errorf("failed to list provider links: %w", err)
	}
	for _, link := range links {
		if err := p.provider.DeleteLanguage(ctx, link, payload.LanguageCode); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", link.Provider, err)
		}
	}
	return nil
}

func (p *Processor) processExport(ctx context.Context, job *Job) error {
	if p.exports == nil {
		return nil
	}

	var payload SyncPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode sync payload: %w", err)
	}

	version, err := p.versions.Get(ctx, payload.VideoID, payload.LanguageCode, payload.VersionNumber)
	if err != nil {
		return fmt.Errorf("failed to load version: %w", err)
	}

	for _, format := range p.exportFormats {
		rendered, err := p.render(version, format)
		if err != nil {
			return err
		}
		if err := p.exports.Put(ctx, version.VideoID, version.LanguageCode, version.VersionNumber, format, rendered); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) render(version *models.SubtitleVersion, format string) ([]byte, error) {
	codec, err := p.codecs.Get(format)
	if err != nil {
		return nil, err
	}
	rendered, err := codec.Serialize(&version.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", format, err)
	}
	return rendered, nil
}
