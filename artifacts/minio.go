package artifacts

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"mediaconv/models"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// MinioStore keeps job artifacts in S3-compatible object storage.
type MinioStore struct {
	client *minio.Client
}

func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioStore{client: client}, nil
}

// EnsureBucket creates the bucket when absent.
func (s *MinioStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

func (s *MinioStore) Put(ctx context.Context, ref models.ObjectRef, r io.Reader, size int64, contentType string) (models.ObjectRef, error) {
	info, err := s.client.PutObject(ctx, ref.Bucket, ref.Key, r, size,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return models.ObjectRef{}, fmt.Errorf("put %s/%s: %w", ref.Bucket, ref.Key, err)
	}
	ref.Size = info.Size
	return ref, nil
}

func (s *MinioStore) PutFile(ctx context.Context, ref models.ObjectRef, path, contentType string) (models.ObjectRef, error) {
	info, err := s.client.FPutObject(ctx, ref.Bucket, ref.Key, path,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return models.ObjectRef{}, fmt.Errorf("put file %s/%s: %w", ref.Bucket, ref.Key, err)
	}
	ref.Size = info.Size
	return ref, nil
}

// Fetch opens the object for streaming. GetObject is lazy, so a Stat runs
// first to surface a missing key before any bytes are served.
func (s *MinioStore) Fetch(ctx context.Context, ref models.ObjectRef) (io.ReadCloser, error) {
	if _, err := s.client.StatObject(ctx, ref.Bucket, ref.Key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat %s/%s: %w", ref.Bucket, ref.Key, err)
	}
	obj, err := s.client.GetObject(ctx, ref.Bucket, ref.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", ref.Bucket, ref.Key, err)
	}
	return obj, nil
}

func (s *MinioStore) FetchFile(ctx context.Context, ref models.ObjectRef, path string) error {
	if err := s.client.FGetObject(ctx, ref.Bucket, ref.Key, path, minio.GetObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return ErrNotFound
		}
		return fmt.Errorf("fetch %s/%s: %w", ref.Bucket, ref.Key, err)
	}
	return nil
}

func (s *MinioStore) Remove(ctx context.Context, ref models.ObjectRef) (int64, error) {
	info, err := s.client.StatObject(ctx, ref.Bucket, ref.Key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("stat %s/%s: %w", ref.Bucket, ref.Key, err)
	}
	if err := s.client.RemoveObject(ctx, ref.Bucket, ref.Key, minio.RemoveObjectOptions{}); err != nil {
		return 0, fmt.Errorf("remove %s/%s: %w", ref.Bucket, ref.Key, err)
	}
	return info.Size, nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
