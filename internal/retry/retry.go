package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/faceverify/internal/logging"
)

// Policy retries transient failures with exponential backoff.
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Expected lists errors that are normal outcomes, such as a cache miss.
	// They are returned without retrying or logging at error level.
	Expected []error
}

// WithExpected returns a copy of p that also treats errs as expected outcomes.
func (p Policy) WithExpected(errs ...error) Policy {
	expected := make([]error, 0, len(p.Expected)+len(errs))
	expected = append(expected, p.Expected...)
	p.Expected = append(expected, errs...)
	return p
}

func (p Policy) isExpected(err error) bool {
	for _, target := range p.Expected {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// DefaultPolicy is used for redis and database calls.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second}
}

// Do runs fn until it succeeds, fails with a non-transient error or the
// attempts are exhausted. Failures are returned as *logging.OperationError.
func (p Policy) Do(ctx context.Context, logger *zap.Logger, operation, requestID string, fn func() error) error {
	if p.Attempts <= 1 {
		err := fn()
		if err != nil && !p.isExpected(err) {
			logging.WithOperation(logger, operation, requestID).Error("operation failed", zap.Error(err))
		}
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := p.InitialBackoff
	opLogger := logging.WithOperation(logger, operation, requestID)
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &logging.OperationError{Operation: operation, RequestID: requestID, Attempts: attempt, Err: ctx.Err()}
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= p.MaxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if p.isExpected(err) {
			opLogger.Debug("operation returned expected error", zap.Error(err))
			return &logging.OperationError{Operation: operation, RequestID: requestID, Attempts: attempt + 1, Err: err}
		}

		if !IsTransient(err) || attempt == p.Attempts-1 {
			opLogger.Error("operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return &logging.OperationError{Operation: operation, RequestID: requestID, Attempts: attempt + 1, Err: err}
		}

		opLogger.Warn("transient error, retrying", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return &logging.OperationError{Operation: operation, RequestID: requestID, Attempts: p.Attempts, Err: err}
}

// IsTransient reports whether err is a timeout or a temporary failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
