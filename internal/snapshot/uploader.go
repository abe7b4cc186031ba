package snapshot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperengineering/labsync/internal/config"
)

// ErrNotConfigured is returned when no backup bucket is configured.
var ErrNotConfigured = errors.New("backup storage not configured")

// Uploader ships snapshot files off the machine and hands out download links.
type Uploader interface {
	// Upload stores the file at filePath as the latest snapshot of name.
	Upload(ctx context.Context, name, filePath string) error

	// PresignedURL returns a time-limited download URL for the latest
	// snapshot of name. Returns ErrNotConfigured without a bucket.
	PresignedURL(ctx context.Context, name string) (url string, expiry time.Time, err error)
}

// s3Client is the subset of *minio.Client the uploader needs.
type s3Client interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath string) error
	PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error)
}

type minioClient struct {
	client *minio.Client
}

func (m *minioClient) FPutObject(ctx context.Context, bucket, objectName, filePath string) error {
	_, err := m.client.FPutObject(ctx, bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType: "application/vnd.sqlite3",
	})
	return err
}

func (m *minioClient) PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error) {
	return m.client.PresignedGetObject(ctx, bucket, objectName, expiry, nil)
}

// S3Uploader uploads snapshots to S3-compatible storage.
type S3Uploader struct {
	client    s3Client
	bucket    string
	prefix    string
	urlExpiry time.Duration
}

// Upload implements Uploader.
func (u *S3Uploader) Upload(ctx context.Context, name, filePath string) error {
	if err := u.client.FPutObject(ctx, u.bucket, u.objectKey(name), filePath); err != nil {
		return fmt.Errorf("upload snapshot to S3: %w", err)
	}
	return nil
}

// PresignedURL implements Uploader.
func (u *S3Uploader) PresignedURL(ctx context.Context, name string) (string, time.Time, error) {
	presigned, err := u.client.PresignedGetObject(ctx, u.bucket, u.objectKey(name), u.urlExpiry)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate pre-signed URL: %w", err)
	}
	return presigned.String(), time.Now().Add(u.urlExpiry), nil
}

// objectKey is {prefix}/{name}/latest.db.
func (u *S3Uploader) objectKey(name string) string {
	return path.Join(u.prefix, name, "latest.db")
}

// NoopUploader is used when no bucket is configured.
type NoopUploader struct{}

// Upload does nothing.
func (NoopUploader) Upload(context.Context, string, string) error { return nil }

// PresignedURL always returns ErrNotConfigured.
func (NoopUploader) PresignedURL(context.Context, string) (string, time.Time, error) {
	return "", time.Time{}, ErrNotConfigured
}

// NewUploader returns a NoopUploader when no bucket is configured and an
// S3Uploader otherwise. The endpoint may carry an http:// or https://
// scheme, which then decides TLS unless UseSSL is set explicitly.
func NewUploader(cfg config.BackupConfig) (Uploader, error) {
	sc := cfg.Storage
	if sc.Bucket == "" {
		return NoopUploader{}, nil
	}

	host, secure := stripScheme(sc.Endpoint)
	if sc.UseSSL != nil {
		secure = *sc.UseSSL
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(sc.AccessKey, sc.SecretKey, ""),
		Secure: secure,
		Region: sc.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Uploader{
		client:    &minioClient{client: client},
		bucket:    sc.Bucket,
		prefix:    strings.Trim(sc.Prefix, "/"),
		urlExpiry: cfg.URLExpiry.Std(),
	}, nil
}

// stripScheme splits an endpoint into host[:port] and whether it asked
// for TLS. Bare hosts default to TLS.
func stripScheme(endpoint string) (host string, secure bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "https://"), "/"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "http://"), "/"), false
	}
	return endpoint, true
}
