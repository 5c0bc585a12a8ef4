package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"aiscene/pkg/domain"
)

// ObjectStore provides access to object storage for uploaded clips and
// rendered outputs.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignPut(ctx context.Context, key string, contentType string) (domain.PresignedUpload, error)
	PublicURL(key string) string
	Bucket() string
	Delete(ctx context.Context, key string) error
}

const presignExpiry = 20 * time.Minute

// MinioStore implements ObjectStore for MinIO/S3 compatible storage.
type MinioStore struct {
	client        *minio.Client
	bucket        string
	publicURLBase string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
// publicURLBase is the externally reachable base the stored objects are
// served from (CDN, reverse proxy, or the storage endpoint itself).
func NewMinioStore(endpoint, accessKey, secretKey, bucket, publicURLBase string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: bucket, publicURLBase: publicURLBase}, nil
}

// Put uploads an object.
func (m *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// PresignPut generates a pre-signed PUT URL for direct browser upload.
func (m *MinioStore) PresignPut(ctx context.Context, key string, contentType string) (domain.PresignedUpload, error) {
	uploadURL, err := m.client.PresignedPutObject(ctx, m.bucket, key, presignExpiry)
	if err != nil {
		return domain.PresignedUpload{}, fmt.Errorf("presign put: %w", err)
	}
	return domain.PresignedUpload{
		UploadURL:     uploadURL.String(),
		PublicURL:     m.PublicURL(key),
		ObjectKey:     key,
		SignedHeaders: map[string]string{"Content-Type": contentType},
	}, nil
}

// PublicURL derives the externally reachable URL for an object key.
// Path-style bases already carrying the bucket, and virtual-host-style
// bases (bucket as subdomain), keep the key appended directly; raw storage
// endpoints get the bucket inserted into the path.
func (m *MinioStore) PublicURL(key string) string {
	base := strings.TrimRight(m.publicURLBase, "/")
	if base == "" {
		return key
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return base + "/" + key
	}
	if u.Path == "/"+m.bucket || strings.HasPrefix(u.Path, "/"+m.bucket+"/") {
		return base + "/" + key
	}
	if strings.HasPrefix(u.Hostname(), m.bucket+".") {
		return base + "/" + key
	}
	host := u.Hostname()
	if strings.Contains(host, ".r2.cloudflarestorage.com") || strings.Contains(host, ".amazonaws.com") || strings.Contains(host, "localhost") {
		return base + "/" + m.bucket + "/" + key
	}
	return base + "/" + key
}

// Bucket returns the configured bucket name.
func (m *MinioStore) Bucket() string {
	return m.bucket
}

// Delete removes an object.
func (m *MinioStore) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
