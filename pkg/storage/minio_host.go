package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig configures a MinIO/S3 compatible image host.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicBaseURL prefixes object keys in returned URLs, e.g. a CDN origin.
	// Empty means "<scheme>://<endpoint>/<bucket>".
	PublicBaseURL string
	// PublicRead installs an anonymous read-only bucket policy.
	PublicRead bool
}

// MinioHost implements ImageHost on MinIO/S3 compatible storage.
type MinioHost struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

// NewMinioHost connects to MinIO and ensures the bucket exists.
func NewMinioHost(ctx context.Context, cfg MinioConfig) (*MinioHost, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
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
	if cfg.PublicRead {
		if err := client.SetBucketPolicy(ctx, cfg.Bucket, publicReadPolicy(cfg.Bucket)); err != nil {
			return nil, fmt.Errorf("set bucket policy: %w", err)
		}
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if baseURL == "" {
		endpoint := client.EndpointURL()
		baseURL = (&url.URL{Scheme: endpoint.Scheme, Host: endpoint.Host, Path: "/" + cfg.Bucket}).String()
	}
	return &MinioHost{client: client, bucket: cfg.Bucket, baseURL: baseURL}, nil
}

// Upload stores the image under a fresh key and returns its public URL.
func (m *MinioHost) Upload(ctx context.Context, u Upload) (HostedImage, error) {
	key := objectKey(u.Folder, u.Filename, u.ContentType)
	size := u.Size
	if size <= 0 {
		size = -1
	}
	if _, err := m.client.PutObject(ctx, m.bucket, key, u.Body, size, minio.PutObjectOptions{ContentType: u.ContentType}); err != nil {
		return HostedImage{}, fmt.Errorf("put object: %w", err)
	}
	return HostedImage{URL: m.baseURL + "/" + key, StorageID: key}, nil
}

// Delete removes an object. Missing objects are reported as ErrObjectNotFound.
func (m *MinioHost) Delete(ctx context.Context, storageID string) error {
	if _, err := m.client.StatObject(ctx, m.bucket, storageID, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return ErrObjectNotFound
		}
		return fmt.Errorf("stat object: %w", err)
	}
	if err := m.client.RemoveObject(ctx, m.bucket, storageID, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (m *MinioHost) Ping(ctx context.Context) error {
	_, err := m.client.BucketExists(ctx, m.bucket)
	return err
}

func publicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, bucket)
}
