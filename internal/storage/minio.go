package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"regapi/internal/config"
)

const (
	collectionMeta = "Collection"
	bucketTimeout  = 10 * time.Second
)

type bucketStore struct {
	client *minio.Client
	bucket string
}

var _ ObjectStore = (*bucketStore)(nil)

func validateMinIO(cfg config.MinIOConfig) error {
	switch {
	case cfg.Endpoint == "":
		return errors.New("minio endpoint is required")
	case cfg.AccessKey == "" || cfg.SecretKey == "":
		return errors.New("minio credentials are required")
	case cfg.Bucket == "":
		return errors.New("minio bucket is required")
	}
	return nil
}

// NewMinIO returns an ObjectStore on the configured bucket, creating the bucket on
// first use. Requests go through an otelhttp transport.
func NewMinIO(ctx context.Context, cfg config.MinIOConfig) (ObjectStore, error) {
	if err := validateMinIO(cfg); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	if err := ensureBucket(ctx, client, cfg.Bucket); err != nil {
		return nil, err
	}
	return &bucketStore{client: client, bucket: cfg.Bucket}, nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	ctx, cancel := context.WithTimeout(ctx, bucketTimeout)
	defer cancel()

	ok, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if ok {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

func (s *bucketStore) Put(ctx context.Context, key string, r io.Reader, opt PutOptions) (Object, error) {
	po := minio.PutObjectOptions{ContentType: opt.ContentType}
	if opt.Collection != "" {
		po.UserMetadata = map[string]string{collectionMeta: opt.Collection}
	}
	up, err := s.client.PutObject(ctx, s.bucket, key, r, opt.Size, po)
	if err != nil {
		return Object{}, fmt.Errorf("put %s: %w", key, err)
	}
	return Object{
		Key:         key,
		Size:        up.Size,
		ETag:        up.ETag,
		ContentType: opt.ContentType,
		Modified:    time.Now().UTC(),
		Collection:  opt.Collection,
	}, nil
}

func (s *bucketStore) Open(ctx context.Context, key string) (io.ReadCloser, Object, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, Object{}, fmt.Errorf("get %s: %w", key, err)
	}
	// GetObject is lazy; Stat surfaces a missing key.
	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, Object{}, fmt.Errorf("stat %s: %w", key, err)
	}
	return obj, Object{
		Key:         key,
		Size:        st.Size,
		ETag:        st.ETag,
		ContentType: st.ContentType,
		Modified:    st.LastModified,
		Collection:  st.UserMetadata[collectionMeta],
	}, nil
}

func (s *bucketStore) Remove(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

func (s *bucketStore) DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}
