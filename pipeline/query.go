package pipeline

import (
	"context"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/bitrise-io/s3dokan/errkind"
	"github.com/bitrise-io/s3dokan/storage"
)

const presignExpiry = 15 * time.Minute

// List returns the keys under the prefix of rawURL. A non empty pattern keeps only the keys it matches.
func List(ctx context.Context, store storage.Store, rawURL, pattern string) ([]string, error) {
	target, err := storage.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	bucket, err := lookupBucket(ctx, store, target.Bucket)
	if err != nil {
		return nil, err
	}

	keys, err := bucket.List(ctx, target.Key)
	if err != nil {
		return nil, errkind.Remote("list objects", err)
	}

	if pattern == "" {
		return keys, nil
	}

	var matching []string
	for _, key := range keys {
		ok, err := doublestar.Match(pattern, key)
		if err != nil {
			return nil, errkind.Invalid("match pattern "+pattern, err)
		}
		if ok {
			matching = append(matching, key)
		}
	}
	return matching, nil
}

// Size returns the size of the object at rawURL in bytes.
func Size(ctx context.Context, store storage.Store, rawURL string) (int64, error) {
	key, err := resolveKey(ctx, store, rawURL)
	if err != nil {
		return 0, err
	}
	return key.Size(), nil
}

// Fetch downloads the object at rawURL into the local file dest through a presigned URL.
// It returns the absolute path of the written file.
func Fetch(ctx context.Context, store storage.Store, rawURL, dest string, config Config, logger log.Logger) (string, error) {
	if err := config.Validate(); err != nil {
		return "", err
	}
	if dest == "" {
		return "", errkind.InvalidArgument("missing destination path")
	}

	target, err := storage.ParseURL(rawURL)
	if err != nil {
		return "", err
	}
	if target.Key == "" {
		return "", errkind.InvalidArgument("missing key in %s", rawURL)
	}

	bucket, err := lookupBucket(ctx, store, target.Bucket)
	if err != nil {
		return "", err
	}
	if _, err := lookupKey(ctx, bucket, target.Key); err != nil {
		return "", err
	}

	url, err := bucket.PresignGet(ctx, target.Key, presignExpiry)
	if err != nil {
		return "", errkind.Remote("presign download", err)
	}

	path, err := storage.Fetch(ctx, storage.FetchParams{
		URL:         url,
		Destination: dest,
		Concurrency: config.Workers,
		ChunkSize:   config.BlockSize,
	}, logger)
	if err != nil {
		return "", errkind.Remote("fetch "+target.String(), err)
	}

	logger.Donef("Downloaded %s to %s", target, path)
	return path, nil
}

func resolveKey(ctx context.Context, store storage.Store, rawURL string) (storage.Key, error) {
	target, err := storage.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if target.Key == "" {
		return nil, errkind.InvalidArgument("missing key in %s", rawURL)
	}

	bucket, err := lookupBucket(ctx, store, target.Bucket)
	if err != nil {
		return nil, err
	}
	return lookupKey(ctx, bucket, target.Key)
}
