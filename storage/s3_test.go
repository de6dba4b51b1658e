package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestStore(client *mockS3API) *S3Store {
	store := NewS3StoreWithClient(client, nil, log.NewLogger())
	store.retryWait = 0
	return store
}

func testBucket(client *mockS3API) *s3Bucket {
	return &s3Bucket{store: newTestStore(client), name: "backups"}
}

func TestS3Store_Bucket(t *testing.T) {
	tests := []struct {
		name    string
		errs    []error
		wantErr error
	}{
		{
			name: "exists",
			errs: []error{nil},
		},
		{
			name:    "not found",
			errs:    []error{&types.NotFound{}},
			wantErr: ErrBucketNotFound,
		},
		{
			name:    "no such bucket",
			errs:    []error{&types.NoSuchBucket{}},
			wantErr: ErrBucketNotFound,
		},
		{
			name: "transient failure is retried",
			errs: []error{errors.New("connection reset"), nil},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockS3API{}
			for _, err := range tt.errs {
				var out *s3.HeadBucketOutput
				if err == nil {
					out = &s3.HeadBucketOutput{}
				}
				client.On("HeadBucket", mock.Anything, mock.MatchedBy(func(in *s3.HeadBucketInput) bool {
					return aws.ToString(in.Bucket) == "backups"
				})).Return(out, err).Once()
			}

			bucket, err := newTestStore(client).Bucket(context.Background(), "backups")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "backups", bucket.Name())
			client.AssertExpectations(t)
		})
	}
}

func TestS3Bucket_Key(t *testing.T) {
	client := &mockS3API{}
	client.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return aws.ToString(in.Key) == "db.tar"
	})).Return(&s3.HeadObjectOutput{ContentLength: aws.Int64(1234)}, nil)
	client.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return aws.ToString(in.Key) == "missing"
	})).Return(nil, &types.NotFound{})

	bucket := testBucket(client)

	key, err := bucket.Key(context.Background(), "db.tar")
	require.NoError(t, err)
	assert.Equal(t, "db.tar", key.Name())
	assert.Equal(t, int64(1234), key.Size())

	_, err = bucket.Key(context.Background(), "missing")
	require.ErrorIs(t, err, ErrKeyNotFound)

	client.AssertNumberOfCalls(t, "HeadObject", 2)
}

func TestS3Key_ReadRange(t *testing.T) {
	client := &mockS3API{}
	client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return aws.ToString(in.Range) == "bytes=4-7"
	})).Return(&s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte("4567")))}, nil)
	client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return aws.ToString(in.Range) == "bytes=8-9"
	})).Return(&s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte("8")))}, nil)

	key := &s3Key{bucket: testBucket(client), name: "db.tar", size: 10}

	data, err := key.ReadRange(context.Background(), 4, 7)
	require.NoError(t, err)
	assert.Equal(t, []byte("4567"), data)

	_, err = key.ReadRange(context.Background(), 8, 9)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 1 bytes, expected 2")
}

func TestS3Upload_Lifecycle(t *testing.T) {
	client := &mockS3API{}
	client.On("CreateMultipartUpload", mock.Anything, mock.Anything).
		Return(&s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil)
	client.On("UploadPart", mock.Anything, mock.MatchedBy(func(in *s3.UploadPartInput) bool {
		return aws.ToInt32(in.PartNumber) == 2 && aws.ToString(in.UploadId) == "upload-1" && aws.ToInt64(in.ContentLength) == 3
	})).Return(&s3.UploadPartOutput{ETag: aws.String("etag-2")}, nil)
	client.On("CompleteMultipartUpload", mock.Anything, mock.MatchedBy(func(in *s3.CompleteMultipartUploadInput) bool {
		parts := in.MultipartUpload.Parts
		return len(parts) == 3 &&
			aws.ToInt32(parts[0].PartNumber) == 1 &&
			aws.ToInt32(parts[1].PartNumber) == 2 &&
			aws.ToInt32(parts[2].PartNumber) == 3 &&
			aws.ToString(parts[1].ETag) == "etag-2"
	})).Return(&s3.CompleteMultipartUploadOutput{}, nil)

	upload, err := testBucket(client).Initiate(context.Background(), "db.tar")
	require.NoError(t, err)
	assert.Equal(t, "upload-1", upload.ID())

	part, err := upload.UploadPart(context.Background(), 2, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, Part{Number: 2, ETag: "etag-2", Size: 3}, part)

	err = upload.Complete(context.Background(), []Part{
		{Number: 3, ETag: "etag-3"},
		part,
		{Number: 1, ETag: "etag-1"},
	})
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestS3Upload_Abort(t *testing.T) {
	tests := []struct {
		name    string
		errs    []error
		wantErr bool
	}{
		{name: "aborted", errs: []error{nil}},
		{name: "already aborted", errs: []error{&types.NoSuchUpload{}}},
		{name: "retried", errs: []error{errors.New("503 slow down"), nil}},
		{name: "keeps failing", errs: []error{errors.New("access denied"), errors.New("access denied"), errors.New("access denied"), errors.New("access denied")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockS3API{}
			for _, err := range tt.errs {
				var out *s3.AbortMultipartUploadOutput
				if err == nil {
					out = &s3.AbortMultipartUploadOutput{}
				}
				client.On("AbortMultipartUpload", mock.Anything, mock.Anything).Return(out, err).Once()
			}

			upload := &s3Upload{bucket: testBucket(client), key: "db.tar", id: "upload-1"}
			err := upload.Abort(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestS3Bucket_List(t *testing.T) {
	client := &mockS3API{}
	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return in.ContinuationToken == nil && aws.ToString(in.Prefix) == "backups/"
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("backups/")},
			{Key: aws.String("backups/a.tar")},
		},
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("page-2"),
	}, nil)
	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.ContinuationToken) == "page-2"
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("backups/old/")},
			{Key: aws.String("backups/old/b.tar")},
		},
		IsTruncated: aws.Bool(false),
	}, nil)

	keys, err := testBucket(client).List(context.Background(), "backups/")
	require.NoError(t, err)
	assert.Equal(t, []string{"backups/a.tar", "backups/old/b.tar"}, keys)
}

func TestS3Bucket_PutEmpty(t *testing.T) {
	client := &mockS3API{}
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Bucket) == "backups" && aws.ToString(in.Key) == "empty.bin"
	})).Return(&s3.PutObjectOutput{}, nil)

	err := testBucket(client).PutEmpty(context.Background(), "empty.bin")
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestS3Bucket_PresignGet(t *testing.T) {
	presigner := &mockPresigner{}
	presigner.On("PresignGetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return aws.ToString(in.Key) == "db.tar"
	})).Return(&v4.PresignedHTTPRequest{URL: "https://backups.s3.amazonaws.com/db.tar?X-Amz-Signature=abc"}, nil)

	store := NewS3StoreWithClient(&mockS3API{}, presigner, log.NewLogger())
	bucket := &s3Bucket{store: store, name: "backups"}

	url, err := bucket.PresignGet(context.Background(), "db.tar", 0)
	require.NoError(t, err)
	assert.Equal(t, "https://backups.s3.amazonaws.com/db.tar?X-Amz-Signature=abc", url)

	_, err = testBucket(&mockS3API{}).PresignGet(context.Background(), "db.tar", 0)
	require.Error(t, err)
}
