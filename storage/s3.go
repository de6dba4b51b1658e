package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const (
	numLookupRetries = 3
	numAbortRetries  = 3
	defaultRegion    = "us-east-1"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Presigner signs object download requests.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Params ...
type S3Params struct {
	Profile         string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	// MaxAttempts is the number of attempts the SDK makes for a single request, 0 keeps the SDK default.
	MaxAttempts int
}

// S3Store is a Store backed by Amazon S3 or an S3 compatible service.
type S3Store struct {
	client    S3API
	presigner Presigner
	logger    log.Logger
	retryWait time.Duration
}

// NewS3Store resolves the credentials and region described by params and creates an S3 client.
func NewS3Store(ctx context.Context, params S3Params, logger log.Logger) (*S3Store, error) {
	cfg, err := loadAWSConfig(ctx, params, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(*cfg, func(o *s3.Options) {
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(params.Endpoint)
		}
		o.UsePathStyle = params.UsePathStyle
	})

	return NewS3StoreWithClient(client, s3.NewPresignClient(client), logger), nil
}

// NewS3StoreWithClient creates a Store using an already configured client. presigner may be nil,
// in which case PresignGet fails.
func NewS3StoreWithClient(client S3API, presigner Presigner, logger log.Logger) *S3Store {
	return &S3Store{
		client:    client,
		presigner: presigner,
		logger:    logger,
		retryWait: 2 * time.Second,
	}
}

func loadAWSConfig(ctx context.Context, params S3Params, logger log.Logger) (*aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	if params.Profile != "" {
		logger.Debugf("Using aws profile %s", params.Profile)
		opts = append(opts, config.WithSharedConfigProfile(params.Profile))
	}

	if params.Region != "" {
		opts = append(opts, config.WithRegion(params.Region))
	}

	if params.AccessKeyID != "" && params.SecretAccessKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(params.AccessKeyID, params.SecretAccessKey, "")))
	}

	if params.MaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(params.MaxAttempts))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	if cfg.Region == "" {
		logger.Debugf("No region configured, falling back to %s", defaultRegion)
		cfg.Region = defaultRegion
	}

	return &cfg, nil
}

func isNotFound(err error) bool {
	var apiError smithy.APIError
	if !errors.As(err, &apiError) {
		return false
	}

	switch apiError.(type) {
	case *types.NotFound, *types.NoSuchKey, *types.NoSuchBucket:
		return true
	}

	switch apiError.ErrorCode() {
	case "NotFound", "NoSuchKey", "NoSuchBucket":
		return true
	default:
		return false
	}
}

// Bucket looks up a bucket. The error is ErrBucketNotFound if it does not exist.
func (s *S3Store) Bucket(ctx context.Context, name string) (Bucket, error) {
	if name == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	err := retry.Times(numLookupRetries).Wait(s.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(name),
		})
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: %s", ErrBucketNotFound, name), true
			}
			if ctx.Err() != nil {
				return err, true
			}

			s.logger.Debugf("head bucket %s (attempt %d): %s", name, attempt, err)
			return fmt.Errorf("head bucket: %w", err), false
		}

		return nil, true
	})
	if err != nil {
		return nil, err
	}

	return &s3Bucket{store: s, name: name}, nil
}

type s3Bucket struct {
	store *S3Store
	name  string
}

func (b *s3Bucket) Name() string {
	return b.name
}

// Key looks up an object. The error is ErrKeyNotFound if it does not exist.
func (b *s3Bucket) Key(ctx context.Context, name string) (Key, error) {
	if name == "" {
		return nil, fmt.Errorf("key must not be empty")
	}

	var size int64
	err := retry.Times(numLookupRetries).Wait(b.store.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		out, err := b.store.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(b.name),
			Key:    aws.String(name),
		})
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: s3://%s/%s", ErrKeyNotFound, b.name, name), true
			}
			if ctx.Err() != nil {
				return err, true
			}

			b.store.logger.Debugf("head object %s (attempt %d): %s", name, attempt, err)
			return fmt.Errorf("head object: %w", err), false
		}

		size = aws.ToInt64(out.ContentLength)
		return nil, true
	})
	if err != nil {
		return nil, err
	}

	return &s3Key{bucket: b, name: name, size: size}, nil
}

func (b *s3Bucket) Initiate(ctx context.Context, key string) (Upload, error) {
	out, err := b.store.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("create multipart upload: %w", err)
	}

	id := aws.ToString(out.UploadId)
	b.store.logger.Debugf("Multipart upload %s opened for s3://%s/%s", id, b.name, key)

	return &s3Upload{bucket: b, key: key, id: id}, nil
}

func (b *s3Bucket) PutEmpty(ctx context.Context, key string) error {
	uploader := manager.NewUploader(b.store.client)

	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("put empty object: %w", err)
	}

	return nil
}

// List skips the zero byte placeholder objects whose key ends with a slash.
func (b *s3Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(b.store.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.name),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}

		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			keys = append(keys, key)
		}
	}

	return keys, nil
}

func (b *s3Bucket) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	if b.store.presigner == nil {
		return "", fmt.Errorf("presigning is not configured")
	}

	req, err := b.store.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("presign get object: %w", err)
	}

	return req.URL, nil
}

type s3Key struct {
	bucket *s3Bucket
	name   string
	size   int64
}

func (k *s3Key) Name() string {
	return k.name
}

func (k *s3Key) Size() int64 {
	return k.size
}

func (k *s3Key) ReadRange(ctx context.Context, start, end int64) ([]byte, error) {
	out, err := k.bucket.store.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(k.bucket.name),
		Key:    aws.String(k.name),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
	})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object content: %w", err)
	}

	if want := end - start + 1; int64(len(data)) != want {
		return nil, fmt.Errorf("range %d-%d: got %d bytes, expected %d", start, end, len(data), want)
	}

	return data, nil
}

type s3Upload struct {
	bucket *s3Bucket
	key    string
	id     string
}

func (u *s3Upload) ID() string {
	return u.id
}

func (u *s3Upload) UploadPart(ctx context.Context, number int, data []byte) (Part, error) {
	out, err := u.bucket.store.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(u.bucket.name),
		Key:           aws.String(u.key),
		UploadId:      aws.String(u.id),
		PartNumber:    aws.Int32(int32(number)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return Part{}, fmt.Errorf("upload part %d: %w", number, err)
	}

	return Part{Number: number, ETag: aws.ToString(out.ETag), Size: int64(len(data))}, nil
}

func (u *s3Upload) Complete(ctx context.Context, parts []Part) error {
	sorted := make([]Part, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Number < sorted[j].Number
	})

	completed := make([]types.CompletedPart, 0, len(sorted))
	for _, part := range sorted {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int32(int32(part.Number)),
		})
	}

	_, err := u.bucket.store.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(u.bucket.name),
		Key:             aws.String(u.key),
		UploadId:        aws.String(u.id),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return fmt.Errorf("complete multipart upload: %w", err)
	}

	return nil
}

func (u *s3Upload) Abort(ctx context.Context) error {
	return retry.Times(numAbortRetries).Wait(u.bucket.store.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		_, err := u.bucket.store.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(u.bucket.name),
			Key:      aws.String(u.key),
			UploadId: aws.String(u.id),
		})
		if err != nil {
			var noSuchUpload *types.NoSuchUpload
			if errors.As(err, &noSuchUpload) {
				u.bucket.store.logger.Debugf("Multipart upload %s is already gone", u.id)
				return nil, true
			}

			u.bucket.store.logger.Debugf("abort multipart upload %s (attempt %d): %s", u.id, attempt, err)
			return fmt.Errorf("abort multipart upload: %w", err), false
		}

		return nil, true
	})
}
