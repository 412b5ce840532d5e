// Package miniostorage provides structure to work with any S3-compatible storage through minio-client
package miniostorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/UnendingLoop/ImageAugmentor/internal/model"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Options struct {
	Endpoint  string // with scheme: http://minio:9000
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

type MinioArtifactStorage struct {
	bucket  string
	baseURL string
	client  *minio.Client
}

func NewMinioClient(ctx context.Context, opts Options) (*MinioArtifactStorage, error) {
	if opts.Bucket == "" {
		return nil, errors.New("bucket name is empty")
	}

	host, secure, err := parseEndpoint(opts.Endpoint)
	if err != nil {
		return nil, err
	}

	// подключаемся к хранилищу - создаем клиента
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, err
	}

	// создаем бакет если его нет
	if err := ensureBucket(ctx, client, opts.Bucket, opts.Region); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket %q: %w", opts.Bucket, err)
	}

	return &MinioArtifactStorage{
		bucket:  opts.Bucket,
		baseURL: strings.TrimRight(opts.Endpoint, "/"),
		client:  client,
	}, nil
}

func (s *MinioArtifactStorage) Put(ctx context.Context, key string, size int64, contentType string, r io.Reader) error {
	if r == nil {
		return errors.New("nil reader passed to storage.Put")
	}

	if _, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return err
	}

	return nil
}

func (s *MinioArtifactStorage) List(ctx context.Context) ([]model.ObjectInfo, error) {
	objects := make([]model.ObjectInfo, 0)
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		objects = append(objects, model.ObjectInfo{Key: obj.Key, LastModified: obj.LastModified})
	}
	return objects, nil
}

func (s *MinioArtifactStorage) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

// ObjectURL - public download link: endpoint + bucket + key
func (s *MinioArtifactStorage) ObjectURL(key string) string {
	return BuildObjectURL(s.baseURL, s.bucket, key)
}

func BuildObjectURL(endpoint, bucket, key string) string {
	return strings.TrimRight(endpoint, "/") + "/" + bucket + "/" + key
}

func parseEndpoint(endpoint string) (host string, secure bool, err error) {
	if endpoint == "" {
		return "", false, errors.New("storage endpoint is empty")
	}
	if !strings.Contains(endpoint, "://") {
		return endpoint, false, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("incorrect storage endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("incorrect storage endpoint %q: no host", endpoint)
	}
	return u.Host, u.Scheme == "https", nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}

	if exists {
		return nil
	}

	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}
