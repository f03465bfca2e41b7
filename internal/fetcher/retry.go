package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"magnetcatalog/pkg/types"
)

// Retrying re-issues failed fetches with exponential backoff. 4xx responses
// other than 429 are final.
type Retrying struct {
	next     Fetcher
	attempts uint
	backoff  time.Duration
	logger   *slog.Logger
}

// WithRetry wraps next. maxRetries counts extra attempts beyond the first.
func WithRetry(next Fetcher, maxRetries int, backoff time.Duration, logger *slog.Logger) Fetcher {
	if maxRetries <= 0 {
		return next
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{next: next, attempts: uint(maxRetries) + 1, backoff: backoff, logger: logger}
}

// Fetch returns the first 2xx page or the last error.
func (r *Retrying) Fetch(ctx context.Context, req types.FetchRequest) (*types.Page, error) {
	return retry.DoWithData(
		func() (*types.Page, error) {
			return FetchOK(ctx, r.next, req)
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.backoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Debug("retrying fetch", "url", req.URL.String(), "attempt", n+1, "error", err)
		}),
	)
}

func isRetryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}
