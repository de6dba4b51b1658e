// Package pipeline moves a byte stream into or out of a multipart object, one block at a time
// on a bounded number of workers, and cleans up after failures and interrupts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/bitrise-io/s3dokan/chunk"
	"github.com/bitrise-io/s3dokan/errkind"
	"github.com/bitrise-io/s3dokan/storage"
	"github.com/bitrise-io/s3dokan/workerpool"
)

// Remote calls made after the session was interrupted still get this long to finish.
const cleanupTimeout = 30 * time.Second

// State of a Session.
type State int

// States
const (
	Idle State = iota
	Prepared
	Running
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Prepared:
		return "prepared"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// Session is a single transfer in one direction. It must not be reused.
type Session struct {
	store  storage.Store
	config Config
	logger log.Logger

	mu      sync.Mutex
	state   State
	history []State
	stats   *workerpool.Stats
}

// NewSession ...
func NewSession(store storage.Store, config Config, logger log.Logger) *Session {
	return &Session{
		store:   store,
		config:  config,
		logger:  logger,
		state:   Idle,
		history: []State{Idle},
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns the part or range timings of the last run, nil before the session started running.
func (s *Session) Stats() *workerpool.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return
	}
	s.logger.Debugf("Session %s -> %s", s.state, to)
	s.state = to
	s.history = append(s.history, to)
}

func (s *Session) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle {
		return fmt.Errorf("session is %s, a session can only be used once", s.state)
	}
	return nil
}

// finish moves the session to its terminal state and returns the error to report.
// A failure stays a failure even if an interrupt arrives while cleaning up after it.
func (s *Session) finish(token *CancelToken, err error) error {
	switch {
	case err == nil:
		s.transition(Completed)
		return nil
	case errors.Is(err, errkind.ErrInterrupted), token.Requested() && errors.Is(err, context.Canceled):
		s.transition(Cancelled)
		return interrupted(token.Context(), err)
	default:
		s.transition(Failed)
		return err
	}
}

func interrupted(ctx context.Context, err error) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = err
	}
	if errors.Is(cause, errkind.ErrInterrupted) {
		return errkind.WithCleanup(errkind.ErrInterrupted, errkind.CleanupError(err))
	}
	return fmt.Errorf("%w: %w", errkind.ErrInterrupted, cause)
}

func (s *Session) prepare(token *CancelToken, rawURL string) (storage.URL, storage.Bucket, error) {
	if err := s.config.Validate(); err != nil {
		return storage.URL{}, nil, err
	}

	target, err := storage.ParseURL(rawURL)
	if err != nil {
		return storage.URL{}, nil, err
	}
	if target.Key == "" {
		return storage.URL{}, nil, errkind.InvalidArgument("missing key in %s", rawURL)
	}

	bucket, err := lookupBucket(token.Context(), s.store, target.Bucket)
	if err != nil {
		return storage.URL{}, nil, err
	}

	return target, bucket, nil
}

// Sink reads r until it ends and stores it as the object at rawURL using a multipart upload.
// On failure or cancellation the upload is aborted, so no partial object becomes visible.
func (s *Session) Sink(token *CancelToken, rawURL string, r io.Reader) error {
	if err := s.start(); err != nil {
		return err
	}
	return s.finish(token, s.sink(token, rawURL, r))
}

func (s *Session) sink(token *CancelToken, rawURL string, r io.Reader) error {
	ctx := token.Context()

	target, bucket, err := s.prepare(token, rawURL)
	if err != nil {
		return err
	}

	chunks, err := chunk.Read(r, s.config.BlockSize)
	if err != nil {
		return err
	}

	// The upload is opened even if an interrupt arrives meanwhile, so its id is known and it can be aborted.
	initCtx, cancelInit := cleanupContext(ctx)
	upload, err := bucket.Initiate(initCtx, target.Key)
	cancelInit()
	if err != nil {
		return errkind.Remote("initiate multipart upload", err)
	}
	s.transition(Prepared)

	if token.Requested() {
		return s.abort(ctx, upload, context.Cause(ctx))
	}

	s.transition(Running)
	s.logger.Infof("Uploading to %s (%d workers, %s blocks)", target, s.config.Workers, units.BytesSize(float64(s.config.BlockSize)))
	started := time.Now()

	pool := workerpool.New(workerpool.Config{Concurrency: s.config.Workers, Mode: workerpool.Unordered}, UploadPart(upload), s.logger)
	s.setStats(pool.Stats())

	var parts []storage.Part
	var uploaded int64
	err = pool.Run(ctx, guard(chunks, token), func(part storage.Part) error {
		parts = append(parts, part)
		uploaded += part.Size
		s.logger.Debugf("Part %d uploaded (%s)", part.Number, units.HumanSizeWithPrecision(float64(part.Size), 3))
		return nil
	})
	if err == nil && token.Requested() {
		err = context.Cause(ctx)
	}
	if err != nil {
		return s.abort(ctx, upload, err)
	}

	if len(parts) == 0 {
		s.logger.Debugf("Input was empty, writing an empty object instead of the multipart upload")
		if err := s.abort(ctx, upload, nil); err != nil {
			return err
		}
		if err := bucket.PutEmpty(ctx, target.Key); err != nil {
			return errkind.Remote("put empty object", err)
		}
		s.logger.Donef("Uploaded empty object to %s", target)
		return nil
	}

	if err := upload.Complete(ctx, parts); err != nil {
		return s.abort(ctx, upload, errkind.Remote("complete multipart upload", err))
	}

	s.logger.Donef("Uploaded %s in %d parts to %s in %s", units.HumanSizeWithPrecision(float64(uploaded), 3), len(parts), target, time.Since(started).Round(time.Second))
	logTimings(s.logger, "part upload", pool.Stats())
	return nil
}

// abort discards the upload. A failing abort is attached to cause but never replaces it;
// with a nil cause the abort failure itself is returned.
func (s *Session) abort(ctx context.Context, upload storage.Upload, cause error) error {
	abortCtx, cancel := cleanupContext(ctx)
	defer cancel()

	s.logger.Debugf("Aborting multipart upload %s", upload.ID())
	err := upload.Abort(abortCtx)
	if err != nil {
		s.logger.Warnf("Failed to abort multipart upload %s: %s", upload.ID(), err)
		err = errkind.Remote("abort multipart upload", err)
		if cause == nil {
			return err
		}
	}
	return errkind.WithCleanup(cause, err)
}

// Source writes the object at rawURL to w, in order, reading its ranges in parallel.
// On failure or cancellation w may have received a prefix of the object.
func (s *Session) Source(token *CancelToken, rawURL string, w io.Writer) error {
	if err := s.start(); err != nil {
		return err
	}
	return s.finish(token, s.source(token, rawURL, w))
}

func (s *Session) source(token *CancelToken, rawURL string, w io.Writer) error {
	ctx := token.Context()

	target, bucket, err := s.prepare(token, rawURL)
	if err != nil {
		return err
	}

	key, err := lookupKey(ctx, bucket, target.Key)
	if err != nil {
		return err
	}

	ranges, err := chunk.Ranges(key.Size(), s.config.BlockSize)
	if err != nil {
		return err
	}
	s.transition(Prepared)

	if token.Requested() {
		return context.Cause(ctx)
	}

	s.transition(Running)
	s.logger.Infof("Downloading %s (%s, %d ranges)", target, units.HumanSizeWithPrecision(float64(key.Size()), 3), chunk.Count(key.Size(), s.config.BlockSize))
	started := time.Now()

	pool := workerpool.New(workerpool.Config{Concurrency: s.config.Workers, Mode: workerpool.Ordered}, DownloadRange(key), s.logger)
	s.setStats(pool.Stats())

	err = pool.Run(ctx, guard(ranges, token), func(c chunk.Chunk) error {
		if _, err := w.Write(c.Data); err != nil {
			return errkind.IO(fmt.Sprintf("write chunk %d", c.Index), err)
		}
		s.logger.Debugf("Chunk %d written", c.Index)
		return nil
	})
	if err == nil && token.Requested() {
		err = context.Cause(ctx)
	}
	if err != nil {
		return err
	}

	s.logger.Donef("Downloaded %s in %s", units.HumanSizeWithPrecision(float64(key.Size()), 3), time.Since(started).Round(time.Second))
	logTimings(s.logger, "range download", pool.Stats())
	return nil
}

func (s *Session) setStats(stats *workerpool.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = stats
}

func logTimings(logger log.Logger, op string, stats *workerpool.Stats) {
	logger.Debugf("%d x %s: average %s, slowest %s", stats.Finished(), op, stats.Average().Round(time.Millisecond), stats.Slowest().Round(time.Millisecond))
}

func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}

func lookupBucket(ctx context.Context, store storage.Store, name string) (storage.Bucket, error) {
	bucket, err := store.Bucket(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrBucketNotFound) {
			return nil, errkind.Invalid("lookup bucket", err)
		}
		return nil, errkind.Remote("lookup bucket", err)
	}
	return bucket, nil
}

func lookupKey(ctx context.Context, bucket storage.Bucket, name string) (storage.Key, error) {
	key, err := bucket.Key(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, errkind.Invalid("lookup key", err)
		}
		return nil, errkind.Remote("lookup key", err)
	}
	return key, nil
}
