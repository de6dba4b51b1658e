package pipeline

import (
	"context"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrise-io/s3dokan/chunk"
	"github.com/bitrise-io/s3dokan/errkind"
)

func TestCancelToken_FirstCancelWins(t *testing.T) {
	token := NewCancelToken(context.Background())
	defer token.Release()

	assert.False(t, token.Requested())
	require.NoError(t, token.Context().Err())

	assert.True(t, token.Cancel())
	assert.False(t, token.Cancel())

	assert.True(t, token.Requested())
	require.ErrorIs(t, context.Cause(token.Context()), errkind.ErrInterrupted)
}

func TestCancelToken_ParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	token := NewCancelToken(parent)
	defer token.Release()

	cancel()
	assert.True(t, token.Requested())
	assert.True(t, token.Cancel())
}

func TestCancelToken_CancelOnSignal(t *testing.T) {
	token := NewCancelToken(context.Background())
	defer token.Release()

	var notified int32
	stop := token.CancelOnSignal(func(os.Signal) {
		atomic.AddInt32(&notified, 1)
	}, syscall.SIGUSR1)
	defer stop()

	process, err := os.FindProcess(os.Getpid())
	require.NoError(t, err)
	require.NoError(t, process.Signal(syscall.SIGUSR1))

	select {
	case <-token.Context().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("token was not cancelled by the signal")
	}

	require.NoError(t, process.Signal(syscall.SIGUSR1))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&notified))
}

func TestGuard_StopsAfterCancel(t *testing.T) {
	token := NewCancelToken(context.Background())
	defer token.Release()

	ranges, err := chunk.Ranges(100, 10)
	require.NoError(t, err)

	var seen []int
	err = guard(ranges, token)(func(r chunk.Range) bool {
		seen = append(seen, r.Index)
		if r.Index == 3 {
			token.Cancel()
		}
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}
