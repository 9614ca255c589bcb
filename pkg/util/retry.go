package util

import (
	"Netlab/pkg/errdefs"
	"context"
	"github.com/cenkalti/backoff/v4"
	"time"
)

// Retry runs fn until it succeeds, fails with a non-transient error, or
// has been retried retries times. Waits grow exponentially from interval.
// notify, if set, sees every transient failure before its wait.
func Retry(ctx context.Context, retries int, interval time.Duration, fn func() error, notify func(error, time.Duration)) error {
	if retries <= 0 {
		return fn()
	}

	eb := backoff.NewExponentialBackOff()
	if interval > 0 {
		eb.InitialInterval = interval
	}
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)

	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && errdefs.KindOf(err) != errdefs.KindTransient {
			return backoff.Permanent(err)
		}
		return err
	}, b, notify)
}
