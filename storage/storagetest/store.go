// Package storagetest provides an in-memory storage.Store for tests.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bitrise-io/s3dokan/storage"
)

// Store keeps objects and multipart uploads in memory. Hooks may be set before the store is used.
type Store struct {
	// PartHook runs before a part is stored; a non nil error fails the part upload.
	PartHook func(ctx context.Context, number int) error
	// RangeDelay returns how long the read of the range starting at start takes.
	RangeDelay func(start int64) time.Duration
	// RangeHook runs before a range is read; a non nil error fails the read.
	RangeHook func(ctx context.Context, start int64) error
	// PresignURL returns the URL handed out by PresignGet; presigning fails when nil.
	PresignURL func(bucket, key string) string
	// AbortHook runs at the start of every Upload.Abort call.
	AbortHook func()
	// AbortErr is returned by every Upload.Abort call when set. The upload is still discarded.
	AbortErr error

	mu        sync.Mutex
	buckets   map[string]map[string][]byte
	uploads   map[string]*upload
	nextID    int
	completes int
	aborts    int
}

// New creates an empty Store containing the given buckets.
func New(buckets ...string) *Store {
	s := &Store{
		buckets: map[string]map[string][]byte{},
		uploads: map[string]*upload{},
	}
	for _, name := range buckets {
		s.buckets[name] = map[string][]byte{}
	}
	return s
}

// Put stores an object, creating its bucket if needed.
func (s *Store) Put(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buckets[bucket] == nil {
		s.buckets[bucket] = map[string][]byte{}
	}
	s.buckets[bucket][key] = append([]byte(nil), data...)
}

// Object returns a stored object.
func (s *Store) Object(bucket, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.buckets[bucket][key]
	return data, ok
}

// Completes returns the number of completed multipart uploads.
func (s *Store) Completes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completes
}

// Aborts returns the number of Abort calls.
func (s *Store) Aborts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborts
}

// OpenUploads returns the number of multipart uploads that were neither completed nor aborted.
func (s *Store) OpenUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

// UploadedParts returns the part numbers stored for the open upload id.
func (s *Store) UploadedParts(id string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.uploads[id]
	if !ok {
		return nil
	}
	var numbers []int
	for n := range u.parts {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers
}

// Bucket ...
func (s *Store) Bucket(_ context.Context, name string) (storage.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[name]; !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrBucketNotFound, name)
	}
	return &bucket{store: s, name: name}, nil
}

type bucket struct {
	store *Store
	name  string
}

func (b *bucket) Name() string {
	return b.name
}

func (b *bucket) Key(_ context.Context, name string) (storage.Key, error) {
	data, ok := b.store.Object(b.name, name)
	if !ok {
		return nil, fmt.Errorf("%w: s3://%s/%s", storage.ErrKeyNotFound, b.name, name)
	}
	return &key{store: b.store, name: name, data: data}, nil
}

func (b *bucket) Initiate(_ context.Context, k string) (storage.Upload, error) {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	u := &upload{
		store:  s,
		bucket: b.name,
		key:    k,
		id:     fmt.Sprintf("upload-%d", s.nextID),
		parts:  map[int][]byte{},
	}
	s.uploads[u.id] = u
	return u, nil
}

func (b *bucket) PutEmpty(_ context.Context, k string) error {
	b.store.Put(b.name, k, nil)
	return nil
}

func (b *bucket) List(_ context.Context, prefix string) ([]string, error) {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for k := range s.buckets[b.name] {
		if strings.HasPrefix(k, prefix) && !strings.HasSuffix(k, "/") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *bucket) PresignGet(_ context.Context, k string, _ time.Duration) (string, error) {
	if b.store.PresignURL == nil {
		return "", fmt.Errorf("presigning is not configured")
	}
	return b.store.PresignURL(b.name, k), nil
}

type key struct {
	store *Store
	name  string
	data  []byte
}

func (k *key) Name() string {
	return k.name
}

func (k *key) Size() int64 {
	return int64(len(k.data))
}

func (k *key) ReadRange(ctx context.Context, start, end int64) ([]byte, error) {
	if k.store.RangeDelay != nil {
		select {
		case <-time.After(k.store.RangeDelay(start)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if k.store.RangeHook != nil {
		if err := k.store.RangeHook(ctx, start); err != nil {
			return nil, err
		}
	}

	if start < 0 || end >= int64(len(k.data)) || start > end {
		return nil, fmt.Errorf("invalid range %d-%d for %d bytes", start, end, len(k.data))
	}
	return append([]byte(nil), k.data[start:end+1]...), nil
}

type upload struct {
	store  *Store
	bucket string
	key    string
	id     string
	parts  map[int][]byte
}

func (u *upload) ID() string {
	return u.id
}

func (u *upload) UploadPart(ctx context.Context, number int, data []byte) (storage.Part, error) {
	if u.store.PartHook != nil {
		if err := u.store.PartHook(ctx, number); err != nil {
			return storage.Part{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return storage.Part{}, err
	}

	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.uploads[u.id]; !ok {
		return storage.Part{}, fmt.Errorf("no such upload: %s", u.id)
	}
	u.parts[number] = append([]byte(nil), data...)
	return storage.Part{Number: number, ETag: fmt.Sprintf("etag-%d", number), Size: int64(len(data))}, nil
}

func (u *upload) Complete(_ context.Context, parts []storage.Part) error {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.uploads[u.id]; !ok {
		return fmt.Errorf("no such upload: %s", u.id)
	}
	if len(parts) == 0 {
		return fmt.Errorf("complete %s: at least one part is required", u.id)
	}

	sorted := append([]storage.Part(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	var object []byte
	for _, p := range sorted {
		data, ok := u.parts[p.Number]
		if !ok {
			return fmt.Errorf("complete %s: part %d was not uploaded", u.id, p.Number)
		}
		object = append(object, data...)
	}

	s.buckets[u.bucket][u.key] = object
	delete(s.uploads, u.id)
	s.completes++
	return nil
}

func (u *upload) Abort(_ context.Context) error {
	s := u.store
	if s.AbortHook != nil {
		s.AbortHook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.aborts++
	delete(s.uploads, u.id)
	return s.AbortErr
}
