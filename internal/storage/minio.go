package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/michaelmcclelland/orderflow/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxObjectSize caps invoice uploads.
const MaxObjectSize = 10 * 1024 * 1024 // 10MB

var ErrObjectTooLarge = errors.New("object exceeds size limit")

type MinIOClient struct {
	client *minio.Client
}

func NewMinIOClient(ctx context.Context, cfg config.MinIOConfig) (*MinIOClient, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	mc := &MinIOClient{client: client}
	if err := mc.ensureBuckets(ctx); err != nil {
		return nil, err
	}

	return mc, nil
}

func (m *MinIOClient) ensureBuckets(ctx context.Context) error {
	for _, bucket := range []string{InvoiceBucket, InvoiceTextBucket} {
		exists, err := m.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("checking bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				return fmt.Errorf("creating bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// PutObject uploads data under key. Metadata is stored as user metadata.
func (m *MinIOClient) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string, metadata map[string]string) error {
	if len(data) > MaxObjectSize {
		return fmt.Errorf("putting object %s/%s: %w", bucket, key, ErrObjectTooLarge)
	}
	_, err := m.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("putting object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Exists reports whether key is present in bucket.
func (m *MinIOClient) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s/%s: %w", bucket, key, err)
}
