package sale

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ProcessSaleRetrying calls ProcessSale and retries transient contention
// failures with exponential backoff, up to maxTries attempts in total. A
// maxTries of zero means a single attempt, never an unbounded loop.
// Business and data errors are returned immediately. The request is reused
// untouched on every attempt.
func (e *Engine) ProcessSaleRetrying(ctx context.Context, req Request, maxTries uint) (Result, error) {
	maxTries = max(maxTries, 1)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second

	res, err := backoff.Retry(ctx, func() (Result, error) {
		res, err := e.ProcessSale(ctx, req)
		if err != nil && !IsRetryable(err) {
			return Result{}, backoff.Permanent(err)
		}
		return res, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxTries))
	// Retry returns the wrapper as is when the last allowed try was permanent.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return res, err
}
