package network

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

type attemptCounterKey struct{}

type attemptCounter struct {
	attempts int
}

func withAttemptCounter(ctx context.Context) (context.Context, *attemptCounter) {
	counter := &attemptCounter{}
	return context.WithValue(ctx, attemptCounterKey{}, counter), counter
}

// countAttempts is installed as the client's RequestLogHook.
func countAttempts(_ retryablehttp.Logger, req *http.Request, attempt int) {
	if counter, ok := req.Context().Value(attemptCounterKey{}).(*attemptCounter); ok {
		counter.attempts = attempt + 1
	}
}

// createRetryPolicy retries on network errors, timeouts and every status
// that is neither a success nor a client error.
func createRetryPolicy(logger log.Logger) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		retry := true
		if err == nil {
			retry = !(isSuccess(resp.StatusCode) || classifyStatus(resp.StatusCode) == ClientRejected)
		}
		if retry {
			if err != nil {
				logger.Debugf("Retrying after error: %s", err)
			} else {
				logger.Debugf("Retrying after HTTP %d", resp.StatusCode)
			}
		}
		return retry, nil
	}
}

// exponentialBackoff waits unit * 2^attempt, where attempt starts at 1 for
// the wait that follows the first failed request.
func exponentialBackoff(unit time.Duration) retryablehttp.Backoff {
	return func(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
		return BackoffDelay(unit, attemptNum+1)
	}
}

// BackoffDelay returns unit * 2^attempt.
func BackoffDelay(unit time.Duration, attempt int) time.Duration {
	return time.Duration(float64(unit) * math.Pow(2, float64(attempt)))
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
