package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/wevoice/wesub-sub003/internal/config"
)

// ExportStore keeps rendered subtitle files in object storage, one
// object per (video, language, version, format). Provider back-sync and
// downloads read from here instead of re-rendering.
type ExportStore struct {
	client     *minio.Client
	bucketName string
}

// New creates a new export store
func New(cfg config.StorageConfig) (*ExportStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	// Ensure bucket exists
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &ExportStore{
		client:     client,
		bucketName: cfg.BucketName,
	}, nil
}

// ObjectName returns the storage key of one rendered export.
func ObjectName(videoID, languageCode string, versionNumber int, format string) string {
	return fmt.Sprintf("%s/%s/v%d.%s", videoID, languageCode, versionNumber, format)
}

// Put uploads one rendered subtitle file
func (s *ExportStore) Put(ctx context.Context, videoID, languageCode string, versionNumber int, format string, rendered []byte) error {
	objectName := ObjectName(videoID, languageCode, versionNumber, format)

	_, err := s.client.PutObject(ctx, s.bucketName, objectName,
		bytes.NewReader(rendered), int64(len(rendered)),
		minio.PutObjectOptions{ContentType: contentType(format)},
	)
	if err != nil {
		return fmt.Errorf("failed to upload export: %w", err)
	}
	return nil
}

// Get downloads one rendered subtitle file
func (s *ExportStore) Get(ctx context.Context, videoID, languageCode string, versionNumber int, format string) ([]byte, error) {
	objectName := ObjectName(videoID, languageCode, versionNumber, format)

	object, err := s.client.GetObject(ctx, s.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download export: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}
	return data, nil
}

// Delete removes all rendered files of one version
func (s *ExportStore) Delete(ctx context.Context, videoID, languageCode string, versionNumber int, formats []string) error {
	for _, format := range formats {
		objectName := ObjectName(videoID, languageCode, versionNumber, format)
		if err := s.client.RemoveObject(ctx, s.bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("failed to remove export: %w", err)
		}
	}
	return nil
}

func contentType(format string) string {
	switch format {
	case "vtt":
		return "text/vtt"
	case "txt":
		return "text/plain"
	default:
		return "application/x-subrip"
	}
}
