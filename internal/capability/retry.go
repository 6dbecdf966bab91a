package capability

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/starford/vaultkeeper/internal/apperr"
	"github.com/starford/vaultkeeper/internal/models"
)

// RetryConfig tunes Retrying.
type RetryConfig struct {
	MaxRetries    int
	Backoff       time.Duration
	RatePerSecond float64
	Timeout       time.Duration
}

// Retrying decorates a Capability with a client-side rate limit, a
// per-call timeout and exponential backoff on transient failures.
type Retrying struct {
	inner   Capability
	cfg     RetryConfig
	limiter *rate.Limiter
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error
}

// NewRetrying wraps inner.
func NewRetrying(inner Capability, cfg RetryConfig, logger *slog.Logger) *Retrying {
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{
		inner:   inner,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Classify implements Capability.
func (r *Retrying) Classify(ctx context.Context, text string) (models.Intent, error) {
	var out models.Intent
	err := r.do(ctx, "classify", func(ctx context.Context) error {
		var err error
		out, err = r.inner.Classify(ctx, text)
		return err
	})
	if err != nil {
		return models.IntentUnknown, err
	}
	return out, nil
}

// ExtractFacts implements Capability.
func (r *Retrying) ExtractFacts(ctx context.Context, text string) ([]models.Candidate, error) {
	var out []models.Candidate
	err := r.do(ctx, "extract", func(ctx context.Context) error {
		var err error
		out, err = r.inner.ExtractFacts(ctx, text)
		return err
	})
	return out, err
}

// ExtractQueryTarget implements Capability.
func (r *Retrying) ExtractQueryTarget(ctx context.Context, text string) (string, bool, error) {
	var (
		name string
		ok   bool
	)
	err := r.do(ctx, "query_target", func(ctx context.Context) error {
		var err error
		name, ok, err = r.inner.ExtractQueryTarget(ctx, text)
		return err
	})
	return name, ok, err
}

func (r *Retrying) do(ctx context.Context, op string, call func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := r.cfg.Backoff << (attempt - 1)
			r.logger.Debug("capability: retrying",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()))
			if serr := r.sleep(ctx, wait); serr != nil {
				return serr
			}
		}
		if werr := r.limiter.Wait(ctx); werr != nil {
			return werr
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.cfg.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		}
		err = call(callCtx)
		timedOut := callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
		cancel()
		if err != nil && timedOut {
			err = apperr.Transient(err)
		}

		if err == nil || !apperr.Is(err, apperr.ErrTransient) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	r.logger.Warn("capability: retries exhausted", slog.String("op", op), slog.String("error", err.Error()))
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
