package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/storefront-io/go-assetkit/media"
)

// Uploader sends one file at a time to a remote image store over HTTP.
// Timeouts, network errors and non-4xx failures are retried with
// exponential backoff; client errors and malformed responses are terminal.
type Uploader struct {
	config     Config
	httpClient *retryablehttp.Client
	logger     log.Logger
	observer   Observer
	stats      *Stats
	now        func() time.Time
}

// NewUploader creates an Uploader. observer may be nil.
func NewUploader(config Config, logger log.Logger, observer Observer) *Uploader {
	config = config.withDefaults()

	client := retryhttp.NewClient(logger)
	client.RetryMax = config.MaxAttempts - 1
	client.CheckRetry = createRetryPolicy(logger)
	client.Backoff = exponentialBackoff(config.BackoffUnit)
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.RequestLogHook = countAttempts
	client.HTTPClient.Timeout = config.RequestTimeout

	if observer == nil {
		observer = nopObserver{}
	}

	return &Uploader{
		config:     config,
		httpClient: client,
		logger:     logger,
		observer:   observer,
		stats:      NewStats(),
		now:        time.Now,
	}
}

// Stats returns the upload statistics.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

// Upload posts the file as a single-file multipart request and returns the
// resulting asset. Errors are always *UploadFailedError.
func (u *Uploader) Upload(ctx context.Context, file media.File) (media.Asset, error) {
	start := time.Now()
	asset, attempts, err := u.upload(ctx, file)
	took := time.Since(start)

	u.observer.RecordUpload(took, file.Size, attempts, err)
	if err != nil {
		u.stats.Fail()
		u.logger.Errorf("%s", err)
		return media.Asset{}, err
	}

	u.stats.Update(took, file.Size)
	u.logger.Debugf("Uploaded %s (%s) in %v after %d attempt(s) [finished=%d] [avg=%v]",
		file.Name, media.HumanSize(file.Size), took.Round(time.Millisecond), attempts,
		u.stats.FinishedCount(), u.stats.Average().Round(time.Millisecond))

	return asset, nil
}

func (u *Uploader) upload(ctx context.Context, file media.File) (media.Asset, int, error) {
	fail := func(kind Kind, attempts, statusCode int, err error) (media.Asset, int, error) {
		return media.Asset{}, attempts, &UploadFailedError{
			FileName:   file.Name,
			Kind:       kind,
			Attempts:   attempts,
			StatusCode: statusCode,
			Err:        err,
		}
	}

	body, contentType, err := multipartBody(u.config.FieldName, file)
	if err != nil {
		return fail(ClientRejected, 0, 0, err)
	}

	ctx, counter := withAttemptCounter(ctx)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, u.config.Endpoint, body)
	if err != nil {
		return fail(ClientRejected, 0, 0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	u.authorize(req)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		if resp != nil {
			u.closeBody(resp.Body)
		}
		return fail(classifyError(ctx, err), counter.attempts, 0, err)
	}
	defer u.closeBody(resp.Body)

	if !isSuccess(resp.StatusCode) {
		return fail(classifyStatus(resp.StatusCode), counter.attempts, resp.StatusCode, unwrapError(resp))
	}

	response, err := decodeUploadResponse(resp.Body)
	if err != nil {
		return fail(InvalidResponse, counter.attempts, resp.StatusCode, err)
	}

	return response.toAsset(file, u.now()), counter.attempts, nil
}

// Delete removes a previously uploaded image. A 404 counts as already deleted.
func (u *Uploader) Delete(ctx context.Context, remoteID string) error {
	start := time.Now()
	err := u.delete(ctx, remoteID)
	u.observer.RecordDelete(time.Since(start), err)
	return err
}

func (u *Uploader) delete(ctx context.Context, remoteID string) error {
	if remoteID == "" {
		return fmt.Errorf("remote id must not be empty")
	}

	endpoint := strings.TrimRight(u.config.DeleteEndpoint, "/") + "/" + url.PathEscape(remoteID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	u.authorize(req)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		if resp != nil {
			u.closeBody(resp.Body)
		}
		return fmt.Errorf("delete %s: %w", remoteID, err)
	}
	defer u.closeBody(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		u.logger.Debugf("Image %s is already gone from the remote store", remoteID)
		return nil
	}
	if !isSuccess(resp.StatusCode) {
		return fmt.Errorf("delete %s: %w", remoteID, unwrapError(resp))
	}
	return nil
}

func (u *Uploader) authorize(req *retryablehttp.Request) {
	if u.config.Token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", u.config.Token))
	}
}

func (u *Uploader) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		u.logger.Printf("%s", err)
	}
}
