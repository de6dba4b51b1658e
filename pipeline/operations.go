package pipeline

import (
	"context"
	"fmt"

	"github.com/bitrise-io/s3dokan/chunk"
	"github.com/bitrise-io/s3dokan/errkind"
	"github.com/bitrise-io/s3dokan/storage"
	"github.com/bitrise-io/s3dokan/workerpool"
)

// UploadPart returns the operation sending one chunk as the part with the chunk's index.
// It makes exactly one remote call and does not retry.
func UploadPart(upload storage.Upload) workerpool.Operation[chunk.Chunk, storage.Part] {
	return func(ctx context.Context, c chunk.Chunk) (storage.Part, error) {
		part, err := upload.UploadPart(ctx, c.Index, c.Data)
		if err != nil {
			return storage.Part{}, errkind.Remote(fmt.Sprintf("upload part %d", c.Index), err)
		}
		return part, nil
	}
}

// DownloadRange returns the operation reading one range of key into a chunk with the range's index.
// It makes exactly one remote call and does not retry.
func DownloadRange(key storage.Key) workerpool.Operation[chunk.Range, chunk.Chunk] {
	return func(ctx context.Context, r chunk.Range) (chunk.Chunk, error) {
		data, err := key.ReadRange(ctx, r.Start, r.End)
		if err != nil {
			return chunk.Chunk{}, errkind.Remote(fmt.Sprintf("read range %d (%s)", r.Index, r.Header()), err)
		}
		return chunk.Chunk{Index: r.Index, Data: data}, nil
	}
}
