package storage

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/melbahja/got"
)

// FetchParams ...
type FetchParams struct {
	URL         string
	Destination string
	Concurrency int
	ChunkSize   int64
}

// Fetch downloads URL to a local file with parallel range requests. Failed requests are retried.
// The destination may start with ~ or contain environment variables.
func Fetch(ctx context.Context, params FetchParams, logger log.Logger) (string, error) {
	if params.URL == "" {
		return "", fmt.Errorf("download URL is empty")
	}

	dest, err := pathutil.NewPathModifier().AbsPath(params.Destination)
	if err != nil {
		return "", fmt.Errorf("resolve destination %s: %w", params.Destination, err)
	}

	retryableHTTPClient := retryhttp.NewClient(logger)
	retryableHTTPClient.CheckRetry = createCustomRetryFunction(logger)

	downloader := got.New()
	downloader.Client = retryableHTTPClient.StandardClient()

	download := got.NewDownload(ctx, params.URL, dest)
	if params.Concurrency > 0 {
		download.Concurrency = uint(params.Concurrency)
	}
	if params.ChunkSize > 0 {
		download.ChunkSize = uint64(params.ChunkSize)
	}

	logger.Debugf("Downloading to %s", dest)
	if err := downloader.Do(download); err != nil {
		return "", fmt.Errorf("download: %w", err)
	}

	return dest, nil
}

func createCustomRetryFunction(logger log.Logger) func(context.Context, *http.Response, error) (bool, error) {
	return func(ctx context.Context, resp *http.Response, downloadErr error) (bool, error) {
		retry, err := retryablehttp.DefaultRetryPolicy(ctx, resp, downloadErr)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; downloadErr=%+v", retry, err, downloadErr)
		return retry, err
	}
}
