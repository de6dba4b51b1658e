package chunk

import (
	"errors"
	"fmt"
	"io"

	"github.com/bitrise-io/s3dokan/errkind"
)

// Chunk is a block of bytes cut from a stream.
type Chunk struct {
	Index int
	Data  []byte
}

// Size ...
func (c Chunk) Size() int {
	return len(c.Data)
}

// Range is the inclusive byte range [Start, End] of an object.
type Range struct {
	Index int
	Start int64
	End   int64
}

// Len returns the number of bytes covered by the range.
func (r Range) Len() int64 {
	return r.End - r.Start + 1
}

// Header returns the value of a HTTP Range header selecting r.
func (r Range) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

func (r Range) String() string {
	return fmt.Sprintf("%d %d %d", r.Index, r.Start, r.End)
}

// Sequence is a lazy, finite stream of values.
// It calls yield for every value in order until the values are exhausted or yield returns false.
// A nil error means the sequence was exhausted or the consumer stopped it.
type Sequence[T any] func(yield func(T) bool) error

// Ranges returns the ranges covering [0, size) in blockSize steps.
// The sequence has no side effects and can be iterated any number of times.
// A zero size yields an empty sequence.
func Ranges(size, blockSize int64) (Sequence[Range], error) {
	if blockSize <= 0 {
		return nil, errkind.InvalidArgument("block size must be positive, got %d", blockSize)
	}
	if size < 0 {
		return nil, errkind.InvalidArgument("size must not be negative, got %d", size)
	}

	return func(yield func(Range) bool) error {
		index := 1
		for start := int64(0); start < size; start += blockSize {
			end := min(size, start+blockSize) - 1
			if !yield(Range{Index: index, Start: start, End: end}) {
				return nil
			}
			index++
		}
		return nil
	}, nil
}

// Count returns the number of ranges Ranges(size, blockSize) yields.
func Count(size, blockSize int64) int {
	if size <= 0 || blockSize <= 0 {
		return 0
	}
	return int((size + blockSize - 1) / blockSize)
}

// Read returns the chunks of r, each holding at most blockSize bytes.
// Only the last chunk may be shorter. A stream that ends before the first byte yields nothing.
// The sequence consumes r, so it is not restartable.
// Read errors end the sequence with an errkind.ErrIO error and are not retried.
func Read(r io.Reader, blockSize int64) (Sequence[Chunk], error) {
	if blockSize <= 0 {
		return nil, errkind.InvalidArgument("block size must be positive, got %d", blockSize)
	}
	if r == nil {
		return nil, errkind.InvalidArgument("input stream must not be nil")
	}

	return func(yield func(Chunk) bool) error {
		for index := 1; ; index++ {
			buf := make([]byte, blockSize)
			n, err := io.ReadFull(r, buf)
			if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				return errkind.IO(fmt.Sprintf("read chunk %d", index), err)
			}
			if n == 0 {
				return nil
			}
			if !yield(Chunk{Index: index, Data: buf[:n]}) {
				return nil
			}
			if err != nil {
				// short read: the stream ended inside this chunk
				return nil
			}
		}
	}, nil
}
