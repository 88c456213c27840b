package core

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// runTx executes fn in a store transaction, re-running it when the store
// reports a transient conflict. Business outcomes are never retried.
//
// Error mapping once retries are exhausted or the failure is permanent:
//   - retryable (lock conflict, duplicate key race) -> *ConflictError
//   - business errors and context errors           -> returned as-is
//   - anything else                                -> *InfrastructureError
func runTx(ctx context.Context, store Store, o *options, op string, fn func(tx Tx) error) error {
	attempt := func() error {
		err := store.WithTx(ctx, fn)
		if err == nil || IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, o.maxRetries), ctx)

	err := backoff.RetryNotify(attempt, policy, func(err error, wait time.Duration) {
		o.recorder.TxRetried(op)
		o.logger.Debug("retrying transaction",
			zap.String("op", op), zap.Duration("wait", wait), zap.Error(err))
	})

	switch {
	case err == nil:
		return nil
	case IsRetryable(err):
		o.recorder.TxConflict(op)
		return &ConflictError{Op: op, Cause: err}
	case isBusiness(err), errors.Is(err, ErrInfrastructure),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return &InfrastructureError{Op: op, Cause: err}
	}
}
