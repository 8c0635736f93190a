package chronicle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// OperationStage is the lifecycle stage of a long-running operation.
type OperationStage string

const (
	StageQueued    OperationStage = "QUEUED"
	StageRunning   OperationStage = "RUNNING"
	StageDone      OperationStage = "DONE"
	StageError     OperationStage = "ERROR"
	StageCancelled OperationStage = "CANCELLED"
)

// Terminal reports whether no further transition can occur from s.
func (s OperationStage) Terminal() bool {
	switch s {
	case StageDone, StageError, StageCancelled:
		return true
	default:
		return false
	}
}

// Default polling budget.
const (
	defaultPollMaxAttempts    = 30
	defaultPollInterval       = time.Second
	defaultPollMaxInterval    = 30 * time.Second
	defaultPollMultiplier     = 2.0
	defaultPollRequestTimeout = 2 * time.Minute
)

// NoAttemptLimit as PollConfig.MaxAttempts lifts the attempt cap so that
// Timeout alone bounds polling.
const NoAttemptLimit = -1

// PollConfig bounds how long a long-running call is driven before the
// partial result is handed back.
//
// MaxAttempts and Timeout are independent limits; whichever is reached
// first ends polling. Zero fields fall back to the defaults, so a
// timeout-only budget sets MaxAttempts to NoAttemptLimit.
type PollConfig struct {
	// MaxAttempts caps the number of status checks after the initial call.
	MaxAttempts int
	// Timeout caps the cumulative wall-clock time. Zero means no limit.
	Timeout time.Duration
	// RequestTimeout bounds each individual call.
	RequestTimeout time.Duration
	// Interval is the wait between status checks.
	Interval time.Duration
	// MaxInterval is the ceiling for backoff after transient failures.
	MaxInterval time.Duration
	// Multiplier grows the wait after each consecutive transient failure.
	Multiplier float64
}

// DefaultPollConfig returns the polling budget used when none is given.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		MaxAttempts:    defaultPollMaxAttempts,
		RequestTimeout: defaultPollRequestTimeout,
		Interval:       defaultPollInterval,
		MaxInterval:    defaultPollMaxInterval,
		Multiplier:     defaultPollMultiplier,
	}
}

// merge returns c with every non-zero field of o applied on top.
func (c PollConfig) merge(o PollConfig) PollConfig {
	if o.MaxAttempts != 0 {
		c.MaxAttempts = o.MaxAttempts
	}
	if o.Timeout != 0 {
		c.Timeout = o.Timeout
	}
	if o.RequestTimeout != 0 {
		c.RequestTimeout = o.RequestTimeout
	}
	if o.Interval != 0 {
		c.Interval = o.Interval
	}
	if o.MaxInterval != 0 {
		c.MaxInterval = o.MaxInterval
	}
	if o.Multiplier != 0 {
		c.Multiplier = o.Multiplier
	}
	return c
}

func (c PollConfig) validate() error {
	if c.MaxAttempts < NoAttemptLimit {
		return invalidInput("max_attempts", "must be positive, got %d", c.MaxAttempts)
	}
	if c.MaxAttempts <= 0 && c.Timeout <= 0 {
		return invalidInput("poll", "either max_attempts or timeout must bound polling")
	}
	if c.Interval < 0 || c.MaxInterval < 0 || c.Timeout < 0 || c.RequestTimeout < 0 {
		return invalidInput("poll", "durations must not be negative")
	}
	if c.Multiplier != 0 && c.Multiplier < 1 {
		return invalidInput("poll", "multiplier must be >= 1, got %g", c.Multiplier)
	}
	return nil
}

// PollResult is the outcome of driving an operation.
type PollResult[T any] struct {
	// Value is the last payload received.
	Value T
	// Stage is the stage reported with Value.
	Stage OperationStage
	// Complete is true when Stage is terminal. A false value means the
	// budget ran out first and Value holds partial progress.
	Complete bool
	// Attempts counts status checks made after the initial call.
	Attempts int
}

// pollStep issues one call and reports the payload and its stage.
type pollStep[T any] func(ctx context.Context) (T, OperationStage, error)

type poller struct {
	cfg    PollConfig
	logger *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func newPoller(cfg PollConfig, logger *zap.Logger) (*poller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &poller{
		cfg:    cfg,
		logger: logger,
		sleep:  sleepCtx,
		now:    time.Now,
	}, nil
}

// pollUntilDone issues start once and then check until the operation
// reaches a terminal stage or the budget is spent.
//
// Non-transient errors are returned immediately with a nil result. When
// the budget runs out the last payload is returned with Complete unset.
// If ctx is cancelled the partial result is returned along with ctx.Err().
func pollUntilDone[T any](ctx context.Context, p *poller, op string, start pollStep[T], check func(ctx context.Context, last T) (T, OperationStage, error)) (*PollResult[T], error) {
	cfg := p.cfg

	var deadline time.Time
	if cfg.Timeout > 0 {
		deadline = p.now().Add(cfg.Timeout)
	}

	res := &PollResult[T]{}
	started := false
	wait := cfg.Interval
	var lastErr error

	for {
		var (
			value T
			stage OperationStage
			err   error
		)
		if started {
			res.Attempts++
			last := res.Value
			value, stage, err = callStep[T](ctx, cfg.RequestTimeout, func(ctx context.Context) (T, OperationStage, error) {
				return check(ctx, last)
			})
		} else {
			value, stage, err = callStep[T](ctx, cfg.RequestTimeout, start)
		}

		switch {
		case err == nil:
			res.Value, res.Stage = value, stage
			started = true
			wait = cfg.Interval
			lastErr = nil
			p.logger.Debug("poll",
				zap.String("operation", op),
				zap.String("stage", string(stage)),
				zap.Int("attempt", res.Attempts))
			if stage.Terminal() {
				res.Complete = true
				return res, nil
			}
		case ctx.Err() != nil:
			return partial(res, started), ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			// The per-request timeout fired while the caller's context is
			// still alive: the budget is spent.
			if !started {
				return nil, fmt.Errorf("chronicle: %s: %w", op, err)
			}
			p.logger.Warn("poll request timed out",
				zap.String("operation", op),
				zap.Int("attempt", res.Attempts))
			return res, nil
		case isTransient(err):
			lastErr = err
			if !started {
				res.Attempts++
			}
			wait = p.backoff(wait, err)
			p.logger.Warn("transient failure while polling",
				zap.String("operation", op),
				zap.Int("attempt", res.Attempts),
				zap.Duration("backoff", wait),
				zap.Error(err))
		default:
			return nil, err
		}

		if cfg.MaxAttempts > 0 && res.Attempts >= cfg.MaxAttempts {
			break
		}
		if !deadline.IsZero() {
			remaining := deadline.Sub(p.now())
			if remaining <= 0 {
				break
			}
			wait = min(wait, remaining)
		}

		if err := p.sleep(ctx, wait); err != nil {
			return partial(res, started), err
		}
	}

	if !started {
		return nil, lastErr
	}
	p.logger.Info("polling budget exhausted",
		zap.String("operation", op),
		zap.String("stage", string(res.Stage)),
		zap.Int("attempts", res.Attempts))
	return res, nil
}

func partial[T any](res *PollResult[T], started bool) *PollResult[T] {
	if !started {
		return nil
	}
	return res
}

// callStep runs one step under the per-request timeout.
func callStep[T any](ctx context.Context, timeout time.Duration, step pollStep[T]) (T, OperationStage, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return step(ctx)
}

// backoff grows wait after a transient failure, honouring Retry-After.
func (p *poller) backoff(wait time.Duration, err error) time.Duration {
	mult := p.cfg.Multiplier
	if mult < 1 {
		mult = 1
	}
	next := time.Duration(float64(wait) * mult)
	if next <= 0 {
		next = p.cfg.Interval
	}
	if p.cfg.MaxInterval > 0 && next > p.cfg.MaxInterval {
		next = p.cfg.MaxInterval
	}
	if ra := retryAfter(err); ra > next {
		next = ra
	}
	return next
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
