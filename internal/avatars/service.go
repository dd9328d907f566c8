// Package avatars stores profile images in S3-compatible object storage.
package avatars

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const maxAvatarBytes = 2 << 20 // 2 MiB

var allowedContentTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

// Service uploads avatars and hands back public URLs.
type Service struct {
	client *minio.Client
	bucket string
}

// Config carries the object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Service{client: client, bucket: cfg.Bucket}, nil
}

// Upload stores an avatar for a user and returns its object key. The key
// embeds an upload timestamp so stale browser caches never pin an old image.
func (s *Service) Upload(ctx context.Context, userID, contentType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty avatar payload")
	}
	if len(data) > maxAvatarBytes {
		return "", fmt.Errorf("avatar exceeds %d bytes", maxAvatarBytes)
	}
	ext, ok := allowedContentTypes[contentType]
	if !ok {
		return "", fmt.Errorf("unsupported avatar content type %q", contentType)
	}

	key := fmt.Sprintf("avatars/%s/%d%s", userID, time.Now().UnixMilli(), ext)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000, immutable",
	})
	if err != nil {
		return "", fmt.Errorf("put avatar: %w", err)
	}
	return key, nil
}

// PresignedURL returns a time-limited download URL for an avatar key.
func (s *Service) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if !strings.HasPrefix(key, "avatars/") {
		return "", fmt.Errorf("invalid avatar key %q", key)
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign avatar: %w", err)
	}
	return u.String(), nil
}

// Remove deletes an avatar object.
func (s *Service) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove avatar: %w", err)
	}
	return nil
}
