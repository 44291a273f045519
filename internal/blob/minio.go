package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioOptions configures an S3-compatible backend.
type MinioOptions struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Secure    bool
}

// MinioBackend stores objects in one bucket of an S3-compatible store.
type MinioBackend struct {
	client *minio.Client
	bucket string
}

// NewMinioBackend creates a backend. No request is made until first use.
func NewMinioBackend(opts MinioOptions) (*MinioBackend, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket cannot be empty")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client for %s: %w", opts.Endpoint, err)
	}
	return &MinioBackend{client: client, bucket: opts.Bucket}, nil
}

// EnsureBucket creates the bucket unless it already exists.
func (m *MinioBackend) EnsureBucket(ctx context.Context) error {
	err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{})
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		return nil
	}
	return classify(fmt.Sprintf("make bucket %s", m.bucket), err)
}

// Get downloads the whole object.
func (m *MinioBackend) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify("get "+key, err)
	}
	defer obj.Close()

	// GetObject is lazy; errors such as NoSuchKey surface on first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classify("get "+key, err)
	}
	return data, nil
}

// Put uploads data as the whole object.
func (m *MinioBackend) Put(ctx context.Context, key string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/x-ndjson"})
	if err != nil {
		return classify("put "+key, err)
	}
	return nil
}

// classify maps S3 and network errors onto the package error taxonomy.
func classify(op string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case "XMinioServerNotInitialized", "ServiceUnavailable", "SlowDown":
		return fmt.Errorf("%s: %w: %v", op, ErrNotReady, err)
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w: %v", op, ErrNotReady, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
