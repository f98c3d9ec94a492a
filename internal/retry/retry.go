// Package retry runs operations that may fail on transient network errors.
package retry

import (
	"context"
	"net"
	"regexp"
	"time"

	"github.com/R3E-Network/bridge_client/internal/errors"
	"github.com/R3E-Network/bridge_client/pkg/logger"
)

// DefaultAttempts is used when a caller passes a non-positive attempt count.
const DefaultAttempts = 1

// Classifier decides whether an error is worth another attempt.
type Classifier func(error) bool

var timeoutMessage = regexp.MustCompile(`timeout of .* exceeded`)

// IsTransient is the default classifier. It accepts errors of kind
// TransientNetwork, net.Error timeouts, and transport messages of the form
// "timeout of N ms exceeded".
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.IsTransient(err) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return timeoutMessage.MatchString(err.Error())
}

type options struct {
	delay    time.Duration
	classify Classifier
	log      *logger.Logger
	op       string
}

// Option configures Do.
type Option func(*options)

// WithDelay spaces attempts by d.
func WithDelay(d time.Duration) Option {
	return func(o *options) { o.delay = d }
}

// WithClassifier replaces the transient-error classifier.
func WithClassifier(c Classifier) Option {
	return func(o *options) { o.classify = c }
}

// WithLogger logs each retried failure under name.
func WithLogger(log *logger.Logger, name string) Option {
	return func(o *options) {
		o.log = log
		o.op = name
	}
}

// Do runs fn up to maxAttempts times, sequentially.
//
// Only transient errors are retried. A non-transient error is returned as is,
// without wrapping. When every attempt fails transiently the last error is
// returned. A done ctx stops the loop before the next attempt with a
// Timeout error when its deadline expired and a Cancelled error otherwise.
func Do[T any](ctx context.Context, maxAttempts int, fn func(context.Context) (T, error), opts ...Option) (T, error) {
	o := options{classify: IsTransient}
	for _, opt := range opts {
		opt(&o)
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultAttempts
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, stopped(err)
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !o.classify(err) {
			return zero, err
		}
		lastErr = err

		if o.log != nil {
			o.log.WithError(err).
				WithField("op", o.op).
				WithField("attempt", attempt).
				WithField("max_attempts", maxAttempts).
				Debug("transient failure")
		}

		if attempt < maxAttempts && o.delay > 0 {
			select {
			case <-ctx.Done():
				return zero, stopped(ctx.Err())
			case <-time.After(o.delay):
			}
		}
	}
	return zero, lastErr
}

func stopped(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.TimedOut(err)
	}
	return errors.Cancelled(err)
}

// Run is Do for operations without a result.
func Run(ctx context.Context, maxAttempts int, fn func(context.Context) error, opts ...Option) error {
	_, err := Do(ctx, maxAttempts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	return err
}
