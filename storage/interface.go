// Package storage contains the object storage collaborators of a transfer:
// bucket and key lookups, multipart uploads, range reads and listing.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrBucketNotFound is returned by Store.Bucket when the bucket does not exist or is not accessible.
var ErrBucketNotFound = errors.New("bucket not found")

// ErrKeyNotFound is returned by Bucket.Key when the object does not exist.
var ErrKeyNotFound = errors.New("key not found")

// Store ...
type Store interface {
	Bucket(ctx context.Context, name string) (Bucket, error)
}

// Bucket ...
type Bucket interface {
	Name() string
	Key(ctx context.Context, name string) (Key, error)
	Initiate(ctx context.Context, key string) (Upload, error)
	// PutEmpty writes a zero byte object.
	PutEmpty(ctx context.Context, key string) error
	// List returns the object keys starting with prefix, in the order the store lists them.
	List(ctx context.Context, prefix string) ([]string, error)
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)
}

// Key is an existing object with a known size.
type Key interface {
	Name() string
	Size() int64
	// ReadRange returns the bytes between start and end, both inclusive.
	ReadRange(ctx context.Context, start, end int64) ([]byte, error)
}

// Upload is an open multipart upload. Its methods are safe for concurrent use.
type Upload interface {
	ID() string
	UploadPart(ctx context.Context, number int, data []byte) (Part, error)
	// Complete assembles the object from parts; the order of parts does not matter.
	Complete(ctx context.Context, parts []Part) error
	// Abort discards the upload and its parts. Aborting an already aborted upload succeeds.
	Abort(ctx context.Context) error
}

// Part identifies an uploaded part.
type Part struct {
	Number int
	ETag   string
	Size   int64
}
