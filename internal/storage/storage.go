// Package storage moves flat-file collections to and from S3-compatible object storage.
package storage

import (
	"context"
	"io"
	"time"
)

// PutOptions describe an upload. A Size of -1 lets the client chunk the stream.
type PutOptions struct {
	Size        int64
	ContentType string
	// Collection is recorded as object metadata when set.
	Collection string
}

// Object is what the store reports about a stored object.
type Object struct {
	Key         string
	Size        int64
	ETag        string
	ContentType string
	Modified    time.Time
	Collection  string
}

// ObjectStore is the subset of an S3 API that exports and imports use.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, opt PutOptions) (Object, error)
	// Open streams an object. The caller closes the reader.
	Open(ctx context.Context, key string) (io.ReadCloser, Object, error)
	Remove(ctx context.Context, key string) error
	// DownloadURL returns a presigned GET link valid for ttl.
	DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
