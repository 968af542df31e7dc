package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/eikenprep/internal/apperr"
)

// RetryConfig bounds the backoff applied to every generator call.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig returns the production backoff policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     20 * time.Second,
	}
}

// retrier applies exponential backoff to transient failures and returns
// the last tagged error when attempts run out.
type retrier struct {
	r      retry.Retry[string]
	logger *slog.Logger
}

func newRetrier(cfg RetryConfig, logger *slog.Logger) *retrier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Millisecond
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	return &retrier{
		r: retry.New[string](retry.Config{
			MaxAttempts:   cfg.MaxAttempts,
			InitialDelay:  cfg.InitialDelay,
			MaxDelay:      cfg.MaxDelay,
			Multiplier:    2.0,
			BackoffPolicy: retry.BackoffExponential,
			Jitter:        true,
			IsRetryable: func(err error) bool {
				return apperr.Is(err, apperr.KindTransient)
			},
		}),
		logger: logger,
	}
}

func (r *retrier) do(ctx context.Context, op string, fn func(context.Context) (string, error)) (string, error) {
	var lastErr error
	attempt := 0
	out, err := r.r.Do(ctx, func(ctx context.Context) (string, error) {
		attempt++
		s, err := fn(ctx)
		if err != nil {
			lastErr = err
			if apperr.Is(err, apperr.KindTransient) {
				r.logger.Warn("generator call failed, backing off", "op", op, "attempt", attempt, "error", err)
			}
		}
		return s, err
	})
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", err
}

// classify tags a go-openai error by HTTP status. Bad or missing
// credentials are configuration errors and are never retried.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	}

	switch code {
	case 0:
		return apperr.Network(op, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.Config(op, apperr.MsgGeneratorCredential, err)
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return apperr.Transient(op, err)
	}
	return apperr.New(apperr.KindInternal, op, apperr.MsgGeneration, err)
}
