package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/google/uuid"
	"github.com/storefront-io/go-assetkit/media"
)

const s3PartSizeMiB = 10

// S3Params ...
type S3Params struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint points the client at an S3 compatible service (path-style addressing).
	Endpoint string
	// Prefix is prepended to every object key.
	Prefix string
	// PublicBaseURL is used to build asset URLs. Default: the bucket's virtual-hosted URL.
	PublicBaseURL string
}

type s3API interface {
	manager.UploadAPIClient
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store stores images as objects in an S3 bucket. Attempts, backoff and
// the per-attempt timeout follow the same Config as the HTTP Uploader.
type S3Store struct {
	client   s3API
	params   S3Params
	config   Config
	logger   log.Logger
	observer Observer
	newKey   func(media.File) string
	now      func() time.Time
}

// NewS3Store creates a store backed by the given bucket. The Endpoint
// fields of config are not used. observer may be nil.
func NewS3Store(ctx context.Context, params S3Params, config Config, logger log.Logger, observer Observer) (*S3Store, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	cfg, err := awsConfig(ctx, params, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.Retryer = aws.NopRetryer{}
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(params.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, params, config, logger, observer), nil
}

func newS3Store(client s3API, params S3Params, config Config, logger log.Logger, observer Observer) *S3Store {
	if observer == nil {
		observer = nopObserver{}
	}
	store := &S3Store{
		client:   client,
		params:   params,
		config:   config.withDefaults(),
		logger:   logger,
		observer: observer,
		now:      time.Now,
	}
	store.newKey = store.objectKey
	return store
}

// Upload puts the file under a fresh random key. Errors are always *UploadFailedError.
func (s *S3Store) Upload(ctx context.Context, file media.File) (media.Asset, error) {
	start := time.Now()
	asset, attempts, err := s.upload(ctx, file)
	s.observer.RecordUpload(time.Since(start), file.Size, attempts, err)
	if err != nil {
		s.logger.Errorf("%s", err)
		return media.Asset{}, err
	}
	return asset, nil
}

func (s *S3Store) upload(ctx context.Context, file media.File) (media.Asset, int, error) {
	key := s.newKey(file)
	uploader := manager.NewUploader(s.client, func(u *manager.Uploader) {
		u.PartSize = s3PartSizeMiB * 1024 * 1024
	})

	var attempts, statusCode int
	var kind Kind
	err := s.withRetry(ctx, func(attemptCtx context.Context, attempt int) (error, bool) {
		attempts = attempt
		_, err := uploader.Upload(attemptCtx, &s3.PutObjectInput{
			Body:          bytes.NewReader(file.Data),
			Bucket:        aws.String(s.params.Bucket),
			Key:           aws.String(key),
			ContentType:   aws.String(file.ContentType),
			ContentLength: aws.Int64(file.Size),
		})
		if err == nil {
			return nil, true
		}

		kind, statusCode = classifyS3Error(ctx, err)
		s.logger.Debugf("Uploading %s to s3 failed (attempt %d, %s): %s", file.Name, attempt, kind, err)
		return fmt.Errorf("put object: %w", err), !kind.Retryable()
	})
	if err != nil {
		if ctx.Err() != nil {
			kind = classifyError(ctx, err)
		}
		return media.Asset{}, attempts, &UploadFailedError{
			FileName:   file.Name,
			Kind:       kind,
			Attempts:   attempts,
			StatusCode: statusCode,
			Err:        err,
		}
	}

	return media.Asset{
		URL:            s.objectURL(key),
		RemoteID:       key,
		SourceFileName: file.Name,
		Width:          file.Width,
		Height:         file.Height,
		EncodedFormat:  string(file.Format()),
		ByteSize:       file.Size,
		UploadedAt:     s.now(),
	}, attempts, nil
}

// Delete removes the object. A missing object counts as deleted.
func (s *S3Store) Delete(ctx context.Context, remoteID string) error {
	start := time.Now()
	err := s.delete(ctx, remoteID)
	s.observer.RecordDelete(time.Since(start), err)
	return err
}

func (s *S3Store) delete(ctx context.Context, remoteID string) error {
	if remoteID == "" {
		return fmt.Errorf("remote id must not be empty")
	}

	return s.withRetry(ctx, func(attemptCtx context.Context, attempt int) (error, bool) {
		_, err := s.client.DeleteObject(attemptCtx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.params.Bucket),
			Key:    aws.String(remoteID),
		})
		if err == nil {
			return nil, true
		}
		if isS3NotFound(err) {
			s.logger.Debugf("Object %s is already gone from the bucket", remoteID)
			return nil, true
		}

		kind, _ := classifyS3Error(ctx, err)
		s.logger.Debugf("Deleting %s from s3 failed (attempt %d, %s): %s", remoteID, attempt, kind, err)
		return fmt.Errorf("delete object: %w", err), !kind.Retryable()
	})
}

// withRetry runs fn up to MaxAttempts times, waiting BackoffDelay between
// attempts. Each attempt gets its own RequestTimeout. attempt starts at 1.
func (s *S3Store) withRetry(ctx context.Context, fn func(ctx context.Context, attempt int) (error, bool)) error {
	return retry.Times(uint(s.config.MaxAttempts-1)).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			if err := sleepContext(ctx, BackoffDelay(s.config.BackoffUnit, int(attempt))); err != nil {
				return err, true
			}
		}
		if err := ctx.Err(); err != nil {
			return err, true
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
		return fn(attemptCtx, int(attempt)+1)
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var s3ClientErrorCodes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"NoSuchBucket":          true,
	"InvalidBucketName":     true,
	"InvalidRequest":        true,
	"InvalidArgument":       true,
	"EntityTooLarge":        true,
	"MissingContentLength":  true,
}

// classifyS3Error maps an S3 failure to a Kind, ctx being the caller's
// context. The HTTP status is 0 when the request had no response.
func classifyS3Error(ctx context.Context, err error) (Kind, int) {
	var statusCode int
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		statusCode = respErr.HTTPStatusCode()
	}

	if ctx.Err() != nil {
		return classifyError(ctx, err), statusCode
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.ErrorCode() == "RequestTimeout":
			return Timeout, statusCode
		case s3ClientErrorCodes[apiErr.ErrorCode()]:
			return ClientRejected, statusCode
		case apiErr.ErrorFault() == smithy.FaultClient && statusCode == 0:
			return ClientRejected, statusCode
		}
	}

	switch {
	case statusCode == http.StatusRequestTimeout:
		return Timeout, statusCode
	case statusCode == http.StatusTooManyRequests:
		return ServerError, statusCode
	case statusCode != 0:
		return classifyStatus(statusCode), statusCode
	}
	return classifyError(ctx, err), statusCode
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}

func (s *S3Store) objectKey(file media.File) string {
	return path.Join(s.params.Prefix, uuid.NewString()+file.Format().Extension())
}

func (s *S3Store) objectURL(key string) string {
	base := s.params.PublicBaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", s.params.Bucket, s.params.Region)
	}

	escaped := make([]string, 0)
	for _, segment := range strings.Split(key, "/") {
		escaped = append(escaped, url.PathEscape(segment))
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(escaped, "/")
}

// awsConfig resolves the region and credentials of params. Static keys are
// used when both are set, otherwise the default AWS credential chain applies.
func awsConfig(ctx context.Context, params S3Params, logger log.Logger) (aws.Config, error) {
	if params.Region == "" {
		return aws.Config{}, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(params.Region)}
	switch {
	case params.AccessKeyID != "" && params.SecretAccessKey != "":
		logger.Debugf("Using the static aws credentials of bucket %s", params.Bucket)
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(params.AccessKeyID, params.SecretAccessKey, "")))
	case params.AccessKeyID != "" || params.SecretAccessKey != "":
		return aws.Config{}, fmt.Errorf("access key id and secret access key must be set together")
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	return cfg, nil
}
