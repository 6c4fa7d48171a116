package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wevoice/wesub-sub003/internal/config"
	"github.com/wevoice/wesub-sub003/internal/logging"
	"github.com/wevoice/wesub-sub003/pkg/models"
)

// Sink pushes subtitle versions back to external video providers.
// Failures retry with back-off and never block the core write path; the
// worker calls this from side-effect jobs only.
type Sink interface {
	PushLanguage(ctx context.Context, link *models.ProviderLink, version *models.SubtitleVersion, rendered []byte) error
	DeleteLanguage(ctx context.Context, link *models.ProviderLink, languageCode string) error
}

// HTTPSink delivers provider updates to a gateway endpoint with an HMAC
// signature.
type HTTPSink struct {
	client     *http.Client
	endpoint   string
	secret     string
	maxRetries int
	retryDelay time.Duration
	logger     *logging.Logger
}

// NewHTTPSink creates a provider sink
func NewHTTPSink(cfg config.ProviderConfig, logger *logging.Logger) *HTTPSink {
	return &HTTPSink{
		client:     &http.Client{Timeout: cfg.Timeout},
		endpoint:   cfg.Endpoint,
		secret:     cfg.Secret,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
}

type pushRequest struct {
	Action          string `json:"action"`
	Provider        string `json:"provider"`
	ExternalAccount string `json:"external_account"`
	VideoID         string `json:"video_id"`
	LanguageCode    string `json:"language_code"`
	VersionNumber   int    `json:"version_number,omitempty"`
	Subtitles       []byte `json:"subtitles,omitempty"`
}

// PushLanguage uploads a rendered subtitle file to the provider account
func (s *HTTPSink) PushLanguage(ctx context.Context, link *models.ProviderLink, version *models.SubtitleVersion, rendered []byte) error {
	return s.deliver(ctx, &pushRequest{
		Action:          "push_language",
		Provider:        link.Provider,
		ExternalAccount: link.ExternalAccount,
		VideoID:         version.VideoID,
		LanguageCode:    version.LanguageCode,
		VersionNumber:   version.VersionNumber,
		Subtitles:       rendered,
	})
}

// DeleteLanguage removes a language from the provider account
func (s *HTTPSink) DeleteLanguage(ctx context.Context, link *models.ProviderLink, languageCode string) error {
	return s.deliver(ctx, &pushRequest{
		Action:          "delete_language",
		Provider:        link.Provider,
		ExternalAccount: link.ExternalAccount,
		VideoID:         link.VideoID,
		LanguageCode:    languageCode,
	})
}

func (s *HTTPSink) deliver(ctx context.Context, req *pushRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal provider request: %w", err)
	}

	var lastErr error
	delay := s.retryDelay
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		lastErr = s.send(ctx, req.Action, payload)
		if lastErr == nil {
			return nil
		}
		if s.logger != nil {
			s.logger.WithError(lastErr).WithVideoID(req.VideoID).WithLanguage(req.LanguageCode).
				Warnf("Provider delivery attempt %d failed", attempt+1)
		}
	}

	return fmt.Errorf("provider delivery failed after %d attempts: %w", s.maxRetries+1, lastErr)
}

func (s *HTTPSink) send(ctx context.Context, action string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Provider-Action", action)
	if s.secret != "" {
		req.Header.Set("X-Provider-Signature", s.signature(payload))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *HTTPSink) signature(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
