// Package retry runs store operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
)

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts        int
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaxInterval        time.Duration
}

// DefaultPolicy retries a flush up to five times, starting at 200ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:        5,
		InitialInterval:    200 * time.Millisecond,
		BackoffCoefficient: 2.0,
		MaxInterval:        10 * time.Second,
	}
}

// NoRetry runs the operation exactly once.
func NoRetry() Policy {
	return Policy{MaxAttempts: 1}
}

// Interval returns the delay before attempt n (1-based retry number).
func (p Policy) Interval(n int) time.Duration {
	d := p.InitialInterval
	coef := p.BackoffCoefficient
	if coef < 1 {
		coef = 1
	}
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * coef)
		if p.MaxInterval > 0 && d >= p.MaxInterval {
			return p.MaxInterval
		}
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		return p.MaxInterval
	}
	return d
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Classifier decides whether an error may be retried. Errors marked
// Permanent are never retried regardless of the classifier.
type Classifier func(error) bool

// ErrExhausted wraps the last cause once MaxAttempts is used up.
var ErrExhausted = errors.New("retry attempts exhausted")

// Executor handles the execution of operations with retries
type Executor struct {
	policy    Policy
	retryable Classifier
	logger    logging.Logger
	onRetry   func(attempt int, err error)
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithClassifier restricts retries to errors for which fn returns true.
func WithClassifier(fn Classifier) Option {
	return func(e *Executor) { e.retryable = fn }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l logging.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// OnRetry registers a callback invoked before each backoff sleep.
func OnRetry(fn func(attempt int, err error)) Option {
	return func(e *Executor) { e.onRetry = fn }
}

// NewExecutor creates a new retry executor with the given policy
func NewExecutor(policy Policy, opts ...Option) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	e := &Executor{
		policy:    policy,
		retryable: func(error) bool { return true },
		logger:    logging.NewNopLogger(),
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy { return e.policy }

// Execute runs op until it succeeds, fails permanently, or the attempts
// run out. It returns the number of retries performed.
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	retries := 0
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return retries, err
		}

		err := op(ctx)
		if err == nil {
			return retries, nil
		}
		if IsPermanent(err) || !e.retryable(err) {
			return retries, err
		}
		if ctx.Err() != nil {
			return retries, fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		if attempt >= e.policy.MaxAttempts {
			e.logger.Debug("maximum attempts reached",
				logging.Int("attempt", attempt), logging.Error(err))
			return retries, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}

		wait := e.policy.Interval(attempt)
		e.logger.Debug("operation failed, scheduling retry",
			logging.Int("attempt", attempt),
			logging.Duration("backoff", wait),
			logging.Error(err))
		if e.onRetry != nil {
			e.onRetry(attempt, err)
		}
		retries++

		if serr := e.sleep(ctx, wait); serr != nil {
			return retries, serr
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
