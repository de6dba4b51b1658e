// Package workerpool runs an operation over a lazy input sequence with a fixed number of concurrent workers.
// It bounds the number of inputs in flight, stops dispatching on the first failure and
// can hand results over either in completion order or in input order.
package workerpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bitrise-io/s3dokan/chunk"
)

// Operation transfers a single input. It is called from many goroutines at once
// and must return promptly once ctx is cancelled.
type Operation[T, R any] func(ctx context.Context, in T) (R, error)

// Pool applies an Operation to the values of a chunk.Sequence.
type Pool[T, R any] struct {
	config Config
	op     Operation[T, R]
	logger log.Logger
	stats  *Stats
}

// New creates a new Pool with the given configuration.
func New[T, R any](config Config, op Operation[T, R], logger log.Logger) *Pool[T, R] {
	if config.Concurrency < 1 {
		config.Concurrency = DefaultConcurrency
	}

	return &Pool[T, R]{
		config: config,
		op:     op,
		logger: logger,
		stats:  NewStats(),
	}
}

// Stats returns the operation statistics.
func (p *Pool[T, R]) Stats() *Stats {
	return p.stats
}

type future[R any] struct {
	done   chan struct{}
	result R
	err    error
}

// firstError keeps the error that stopped the pool first; later ones are consequences of the cancellation.
type firstError struct {
	mu     sync.Mutex
	err    error
	cancel context.CancelFunc
}

func (f *firstError) set(err error) {
	f.mu.Lock()
	if f.err == nil {
		f.err = err
	}
	f.mu.Unlock()
	f.cancel()
}

func (f *firstError) get() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Run pulls inputs lazily, runs the operation on at most Concurrency of them at a time and
// calls consume with every result. consume is only ever called from the calling goroutine.
//
// A slot is reserved before the next input is pulled and held until its result is consumed,
// so at most Concurrency inputs exist between being produced and being consumed.
// Run returns the first error of the operation, the input sequence or consume.
// If ctx is cancelled the cancellation cause is returned instead, unless a failure
// unrelated to the cancellation came first.
// Run does not wait for an input sequence that is blocked in a read once it has to give up;
// the workers that were dispatched are always waited for.
func (p *Pool[T, R]) Run(ctx context.Context, inputs chunk.Sequence[T], consume func(R) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	failed := &firstError{cancel: cancel}
	group, groupCtx := errgroup.WithContext(runCtx)
	slots := semaphore.NewWeighted(int64(p.config.Concurrency))

	dispatched := make(chan *future[R], p.config.Concurrency)
	completed := make(chan *future[R], p.config.Concurrency)
	producerDone := make(chan struct{})
	var produceErr error
	var dispatchCount int

	var mu sync.Mutex
	stopped := false

	// The producer only runs while it holds a reserved slot, so an input never exists without one.
	reserved := false
	reserve := func() bool {
		if err := slots.Acquire(groupCtx, 1); err != nil {
			return false
		}
		reserved = true
		return true
	}

	dispatch := func(in T) bool {
		mu.Lock()
		if stopped || groupCtx.Err() != nil {
			mu.Unlock()
			return false
		}

		f := &future[R]{done: make(chan struct{})}
		dispatchCount++
		reserved = false
		if p.config.Mode == Ordered {
			dispatched <- f
		}

		group.Go(func() error {
			defer close(f.done)

			start := time.Now()
			f.result, f.err = p.op(groupCtx, in)
			if f.err != nil {
				failed.set(f.err)
				return f.err
			}
			p.stats.Update(time.Since(start))

			if p.config.Mode == Unordered {
				completed <- f
			}
			return nil
		})
		mu.Unlock()

		return reserve()
	}

	p.logger.Debugf("Worker pool started: %d workers, %s", p.config.Concurrency, p.config.Mode)

	go func() {
		var err error
		if reserve() {
			err = inputs(dispatch)
		}
		if reserved {
			slots.Release(1)
		}

		mu.Lock()
		stopped = true
		mu.Unlock()

		produceErr = err
		close(dispatched)
		close(producerDone)
		if err != nil {
			failed.set(err)
		}
	}()

	var drained bool
	var consumeErr error
	if p.config.Mode == Ordered {
		drained, consumeErr = p.drainOrdered(groupCtx, dispatched, slots, consume)
	} else {
		drained, consumeErr = p.drainUnordered(groupCtx, completed, producerDone, &mu, &dispatchCount, slots, consume)
	}
	if consumeErr != nil {
		failed.set(consumeErr)
	}

	mu.Lock()
	stopped = true
	mu.Unlock()
	if !drained {
		cancel()
	}
	_ = group.Wait()

	if drained {
		<-producerDone
		if produceErr != nil {
			failed.set(produceErr)
		}
	}

	err := failed.get()
	if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return context.Cause(ctx)
	}
	return err
}

func (p *Pool[T, R]) drainOrdered(ctx context.Context, dispatched <-chan *future[R], slots *semaphore.Weighted, consume func(R) error) (bool, error) {
	for {
		var f *future[R]
		var ok bool
		select {
		case f, ok = <-dispatched:
			if !ok {
				return true, nil
			}
		case <-ctx.Done():
			return false, nil
		}

		select {
		case <-f.done:
		case <-ctx.Done():
			return false, nil
		}
		if f.err != nil {
			return false, nil
		}

		if err := consume(f.result); err != nil {
			return false, err
		}
		slots.Release(1)
	}
}

func (p *Pool[T, R]) drainUnordered(
	ctx context.Context,
	completed <-chan *future[R],
	producerDone <-chan struct{},
	mu *sync.Mutex,
	dispatchCount *int,
	slots *semaphore.Weighted,
	consume func(R) error,
) (bool, error) {
	consumed := 0
	total := -1

	for total < 0 || consumed < total {
		select {
		case f := <-completed:
			if err := consume(f.result); err != nil {
				return false, err
			}
			consumed++
			slots.Release(1)
		case <-producerDone:
			producerDone = nil
			mu.Lock()
			total = *dispatchCount
			mu.Unlock()
		case <-ctx.Done():
			return false, nil
		}
	}
	return true, nil
}
