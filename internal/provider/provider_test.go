package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wevoice/wesub-sub003/internal/config"
	"github.com/wevoice/wesub-sub003/pkg/models"
)

func testSink(endpoint, secret string, maxRetries int) *HTTPSink {
	return NewHTTPSink(config.ProviderConfig{
		Endpoint:   endpoint,
		Secret:     secret,
		Timeout:    time.Second,
		MaxRetries: maxRetries,
		RetryDelay: time.Millisecond,
	}, nil)
}

func TestPushLanguageSignsRequest(t *testing.T) {
	var gotBody []byte
	var gotSignature, gotAction string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotBody = body
		gotSignature = r.Header.Get("X-Provider-Signature")
		gotAction = r.Header.Get("X-Provider-Action")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := testSink(server.URL, "shh", 0)
	link := &models.ProviderLink{VideoID: "v1", Provider: "youtube", ExternalAccount: "acct-1", Active: true}
	version := &models.SubtitleVersion{VideoID: "v1", LanguageCode: "en", VersionNumber: 3}

	err := sink.PushLanguage(context.Background(), link, version, []byte("1\n00:00:00,000 --> 00:00:01,000\nHello\n"))
	require.NoError(t, err)

	assert.Equal(t, "push_language", gotAction)

	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write(gotBody)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), gotSignature)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, "push_language", decoded["action"])
	assert.Equal(t, "youtube", decoded["provider"])
	assert.Equal(t, "acct-1", decoded["external_account"])
	assert.Equal(t, float64(3), decoded["version_number"])
}

func TestDeleteLanguageRequest(t *testing.T) {
	var gotBody []byte
	var gotAction string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotBody = body
		gotAction = r.Header.Get("X-Provider-Action")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := testSink(server.URL, "shh", 0)
	link := &models.ProviderLink{VideoID: "v1", Provider: "vimeo", ExternalAccount: "acct-2", Active: true}

	err := sink.DeleteLanguage(context.Background(), link, "fr")
	require.NoError(t, err)

	assert.Equal(t, "delete_language", gotAction)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, "delete_language", decoded["action"])
	assert.Equal(t, "vimeo", decoded["provider"])
	assert.Equal(t, "fr", decoded["language_code"])
	assert.NotContains(t, decoded, "version_number")
	assert.NotContains(t, decoded, "subtitles")
}

func TestDeliveryRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := testSink(server.URL, "", 3)
	link := &models.ProviderLink{VideoID: "v1", Provider: "youtube"}

	err := sink.DeleteLanguage(context.Background(), link, "en")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDeliveryGivesUpAfterMaxRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sink := testSink(server.URL, "", 1)
	link := &models.ProviderLink{VideoID: "v1", Provider: "youtube"}

	err := sink.DeleteLanguage(context.Background(), link, "en")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Contains(t, err.Error(), "status 500")
}

func TestUnsignedWhenNoSecret(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("X-Provider-Signature"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := testSink(server.URL, "", 0)
	link := &models.ProviderLink{VideoID: "v1", Provider: "youtube"}
	require.NoError(t, sink.DeleteLanguage(context.Background(), link, "en"))
}
