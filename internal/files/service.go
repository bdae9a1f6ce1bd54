// Package files stores action item attachments (visit info sheets,
// facesheets, fax confirmations) in S3-compatible object storage.
package files

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Attachment describes one stored object.
type Attachment struct {
	Key          string    `json:"key"`
	Filename     string    `json:"filename"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"contentType"`
	LastModified time.Time `json:"lastModified"`
}

// Service provides attachment storage for action items.
type Service struct {
	client *minio.Client
	bucket string
}

// NewService connects to the object store and makes sure the bucket exists.
func NewService(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &Service{client: client, bucket: bucket}, nil
}

// objectKey namespaces attachments under their item ID.
func objectKey(itemID, filename string) string {
	return itemID + "/" + path.Base(filename)
}

// Upload stores an attachment and returns its metadata.
func (s *Service) Upload(ctx context.Context, itemID, filename, contentType string, r io.Reader, size int64) (Attachment, error) {
	key := objectKey(itemID, filename)
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Attachment{}, fmt.Errorf("upload %s: %w", key, err)
	}
	return Attachment{
		Key:         key,
		Filename:    path.Base(filename),
		Size:        info.Size,
		ContentType: contentType,
	}, nil
}

// List returns the attachments stored for an item.
func (s *Service) List(ctx context.Context, itemID string) ([]Attachment, error) {
	var out []Attachment
	prefix := itemID + "/"
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list attachments for %s: %w", itemID, obj.Err)
		}
		out = append(out, Attachment{
			Key:          obj.Key,
			Filename:     strings.TrimPrefix(obj.Key, prefix),
			Size:         obj.Size,
			ContentType:  obj.ContentType,
			LastModified: obj.LastModified,
		})
	}
	return out, nil
}

// PresignedGet returns a time-limited download URL for an attachment.
func (s *Service) PresignedGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

// Delete removes an attachment.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
