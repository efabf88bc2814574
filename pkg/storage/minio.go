package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Storage defines the object operations the exports need
type Storage interface {
	Put(ctx context.Context, reader io.Reader, size int64, objectName, contentType string) (*UploadResult, error)
	PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, objectName string) error
}

// UploadResult contains the result of an upload
type UploadResult struct {
	Key      string // object key in storage
	FileSize int64
	MimeType string
}

// MinIOStorage implements Storage using MinIO. The bucket stays private;
// objects are handed out through presigned URLs.
type MinIOStorage struct {
	client    *minio.Client
	bucket    string
	publicURL string // External URL the presigned links are rewritten to
}

// Config holds MinIO connection configuration
type Config struct {
	Endpoint  string
	PublicURL string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinIO creates a new MinIO storage client
func NewMinIO(cfg Config) (*MinIOStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MinIO: %w", err)
	}

	// Ensure bucket exists
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		log.Printf("📦 Created MinIO bucket: %s", cfg.Bucket)
	}

	return &MinIOStorage{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: cfg.PublicURL,
	}, nil
}

// Put uploads from an io.Reader
func (s *MinIOStorage) Put(ctx context.Context, reader io.Reader, size int64, objectName, contentType string) (*UploadResult, error) {
	info, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}

	return &UploadResult{
		Key:      objectName,
		FileSize: info.Size,
		MimeType: contentType,
	}, nil
}

// PresignedURL returns a time-limited download link for objectName
func (s *MinIOStorage) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", baseName(objectName)))

	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, expiry, params)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", objectName, err)
	}
	return rewriteHost(u, s.publicURL).String(), nil
}

// Delete removes an object from MinIO
func (s *MinIOStorage) Delete(ctx context.Context, objectName string) error {
	return s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
}

// rewriteHost points a presigned link at the public endpoint, keeping path and signature
func rewriteHost(u *url.URL, publicURL string) *url.URL {
	if publicURL == "" {
		return u
	}
	pub, err := url.Parse(strings.TrimRight(publicURL, "/"))
	if err != nil || pub.Host == "" {
		return u
	}
	out := *u
	out.Scheme = pub.Scheme
	out.Host = pub.Host
	out.Path = pub.Path + u.Path
	return &out
}

func baseName(objectName string) string {
	if i := strings.LastIndex(objectName, "/"); i >= 0 {
		return objectName[i+1:]
	}
	return objectName
}
