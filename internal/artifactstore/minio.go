package artifactstore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/smallbiznis/feedlink/internal/config"
)

const contentTypePDF = "application/pdf"

// MinioStore stores artifacts in an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	cfg    config.StorageConfig
}

func NewMinioStore(cfg config.StorageConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = time.Hour
	}
	return &MinioStore{client: client, cfg: cfg}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("%w: check bucket: %v", ErrUnavailable, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
			return fmt.Errorf("%w: create bucket: %v", ErrUnavailable, err)
		}
	}
	return nil
}

func (s *MinioStore) Put(ctx context.Context, blob []byte, folder, artifactKey string) (Ref, error) {
	if err := validate(folder, artifactKey); err != nil {
		return Ref{}, err
	}
	key := ObjectName(folder, artifactKey)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(blob), int64(len(blob)), minio.PutObjectOptions{
		ContentType: contentTypePDF,
	})
	if err != nil {
		return Ref{}, fmt.Errorf("%w: upload %s: %v", ErrUnavailable, key, err)
	}

	url, err := s.url(ctx, key)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Key: key, URL: url}, nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) (DeleteOutcome, error) {
	if key == "" {
		return 0, ErrInvalidKey
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if _, err := s.client.StatObject(ctx, s.cfg.Bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return NotFound, nil
		}
		return 0, fmt.Errorf("%w: stat %s: %v", ErrUnavailable, key, err)
	}

	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if isNotFound(err) {
			return NotFound, nil
		}
		return 0, fmt.Errorf("%w: remove %s: %v", ErrUnavailable, key, err)
	}
	return Deleted, nil
}

func (s *MinioStore) url(ctx context.Context, key string) (string, error) {
	if s.cfg.PublicURLs {
		return s.PublicURL(key), nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.cfg.Bucket, key, s.cfg.URLExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("%w: presign %s: %v", ErrUnavailable, key, err)
	}
	return u.String(), nil
}

// PublicURL returns a public URL for the object (if bucket policy allows).
func (s *MinioStore) PublicURL(key string) string {
	protocol := "http"
	if s.cfg.UseSSL {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", protocol, s.cfg.Endpoint, s.cfg.Bucket, key)
}

func isNotFound(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
