package dbwriter

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/jeffutter/kafka-postgres-transform/internal/script"
)

// RetryingWriter wraps a Writer with a small bounded retry window on
// Insert failures, per spec.md §7 ("on persistent failures the
// orchestrator surfaces an error and terminates" — a single transient
// connection blip should not immediately count as persistent). Backoff
// between attempts is paced by a token-bucket limiter rather than a
// fixed sleep, so a burst of failures across partitions does not
// hammer the database in lockstep.
type RetryingWriter struct {
	*Writer
	limiter     *rate.Limiter
	maxAttempts int
}

// NewRetrying wraps w with up to maxAttempts total tries. Every retry
// first waits on one limiter shared by all callers (rateLimit tokens per
// second, burst 1), so retries proceed at no more than rateLimit per
// second overall; a retry may start at once when a token is available.
func NewRetrying(w *Writer, rateLimit rate.Limit, maxAttempts int) *RetryingWriter {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryingWriter{
		Writer:      w,
		limiter:     rate.NewLimiter(rateLimit, 1),
		maxAttempts: maxAttempts,
	}
}

// Insert retries the wrapped Writer's Insert on failure up to
// maxAttempts times, waiting on the limiter between attempts. Upstream
// script failures and malformed results are not retried since a retry
// cannot change their outcome; only the final attempt's error is
// returned.
func (rw *RetryingWriter) Insert(ctx context.Context, result script.TransformResult) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < rw.maxAttempts; attempt++ {
		rows, err := rw.Writer.Insert(ctx, result)
		if err == nil {
			return rows, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return 0, err
		}
		if attempt == rw.maxAttempts-1 {
			break
		}
		if werr := rw.limiter.Wait(ctx); werr != nil {
			return 0, werr
		}
	}
	return 0, lastErr
}

// isRetryable reports whether err represents a transient condition
// worth a bounded retry rather than the final word.
func isRetryable(err error) bool {
	permanent := []error{
		ErrUpstreamScriptError, ErrMalformedTransformResult,
		ErrMissingColumn, ErrTypeMismatch, ErrUnknownColumnType,
	}
	for _, p := range permanent {
		if errors.Is(err, p) {
			return false
		}
	}
	return true
}
