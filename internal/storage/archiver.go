// Package storage keeps import source files and card images in S3-compatible
// object storage. When no bucket is configured, the NoopArchiver is used: source
// files are not archived and image URLs report ErrNotConfigured.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperengineering/oracle/internal/config"
)

// ErrNotConfigured is returned when object storage is not configured.
var ErrNotConfigured = errors.New("object storage not configured")

// Archiver stores objects and generates pre-signed download URLs.
type Archiver interface {
	// Archive writes size bytes from r under key and returns the key written.
	// A size of -1 streams until EOF.
	Archive(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)

	// PresignedURL returns a pre-signed GET URL for key.
	// Returns ErrNotConfigured when storage is not configured.
	PresignedURL(ctx context.Context, key string) (url string, expiry time.Time, err error)
}

// s3Client defines the minimal minio.Client operations used by S3Archiver.
type s3Client interface {
	PutObject(ctx context.Context, bucket, objectName string, r io.Reader, size int64, contentType string) error
	PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error)
}

// minioClientWrapper adapts *minio.Client to s3Client.
type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) PutObject(ctx context.Context, bucket, objectName string, r io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := w.client.PutObject(ctx, bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (w *minioClientWrapper) PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error) {
	return w.client.PresignedGetObject(ctx, bucket, objectName, expiry, nil)
}

// S3Archiver stores objects in S3-compatible storage.
type S3Archiver struct {
	client    s3Client
	bucket    string
	urlExpiry time.Duration
}

// Archive uploads r under key.
func (a *S3Archiver) Archive(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if err := a.client.PutObject(ctx, a.bucket, key, r, size, contentType); err != nil {
		return "", fmt.Errorf("archive %s: %w", key, err)
	}
	return key, nil
}

// PresignedURL returns a pre-signed GET URL for key.
func (a *S3Archiver) PresignedURL(ctx context.Context, key string) (string, time.Time, error) {
	presigned, err := a.client.PresignedGetObject(ctx, a.bucket, key, a.urlExpiry)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate pre-signed URL: %w", err)
	}
	return presigned.String(), time.Now().Add(a.urlExpiry), nil
}

// NoopArchiver is used when storage is not configured.
type NoopArchiver struct{}

// Archive drains nothing and reports no key.
func (NoopArchiver) Archive(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	return "", nil
}

// PresignedURL returns ErrNotConfigured.
func (NoopArchiver) PresignedURL(ctx context.Context, key string) (string, time.Time, error) {
	return "", time.Time{}, ErrNotConfigured
}

// NewArchiver creates the appropriate Archiver based on configuration.
// Returns NoopArchiver when bucket is empty, S3Archiver otherwise.
func NewArchiver(cfg config.StorageConfig) (Archiver, error) {
	if cfg.Bucket == "" {
		return NoopArchiver{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}
	endpoint := stripScheme(cfg.Endpoint, &useSSL)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Archiver{
		client:    &minioClientWrapper{client: client},
		bucket:    cfg.Bucket,
		urlExpiry: time.Duration(cfg.URLExpiry),
	}, nil
}

// stripScheme removes an http:// or https:// prefix from endpoint, which
// minio.New rejects, and sets useSSL to match the scheme.
func stripScheme(endpoint string, useSSL *bool) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		*useSSL = true
		return strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		*useSSL = false
		return strings.TrimPrefix(endpoint, "http://")
	}
	return endpoint
}

// ImportKey returns the object key for an archived import source file.
// Convention: imports/{deck}/{timestamp}-{file}
func ImportKey(deckName, fileName string, at time.Time) string {
	return "imports/" + slug(deckName) + "/" + at.UTC().Format("20060102T150405Z") + "-" + path.Base(fileName)
}

// ImageKey returns the object key for a card image.
// Convention: {prefix}/{image_file_name}
func ImageKey(prefix, fileName string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fileName
	}
	return prefix + "/" + fileName
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
