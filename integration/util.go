//go:build integration
// +build integration

package integration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/bitrise-io/s3dokan/storage"
)

var logger = log.NewLogger()

func checksumOf(bytes []byte) string {
	hash := sha256.New()
	hash.Write(bytes)
	return hex.EncodeToString(hash.Sum(nil))
}

func randomData(size int) []byte {
	data := make([]byte, size)
	rand.New(rand.NewSource(time.Now().UnixNano())).Read(data)
	return data
}

// testTarget returns the store and a fresh key prefix in the bucket named by S3DOKAN_IT_BUCKET.
func testTarget(t *testing.T) (*storage.S3Store, string, string) {
	bucket := os.Getenv("S3DOKAN_IT_BUCKET")
	if bucket == "" {
		t.Skip("S3DOKAN_IT_BUCKET is not set")
	}

	store, err := storage.NewS3Store(context.Background(), storage.S3Params{
		Profile:      os.Getenv("AWS_PROFILE"),
		Region:       os.Getenv("AWS_REGION"),
		Endpoint:     os.Getenv("S3DOKAN_ENDPOINT"),
		UsePathStyle: os.Getenv("S3DOKAN_ENDPOINT") != "",
	}, logger)
	if err != nil {
		t.Fatalf("create store: %s", err)
	}

	prefix := fmt.Sprintf("s3dokan-it/%d", time.Now().UnixNano())
	return store, bucket, prefix
}
