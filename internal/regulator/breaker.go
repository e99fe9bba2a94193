package regulator

import (
	"context"
	"time"

	"go.uber.org/zap"

	r4 "github.com/agedcare/go-nqip/internal/fhir/r4"
	"github.com/agedcare/go-nqip/pkg/circuitbreaker"
)

// RetryConfig controls the retry policy around regulator calls.
type RetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryConfig returns the policy used for the government endpoint.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Backoff:     500 * time.Millisecond,
	}
}

// ResilientClient decorates a Client with a circuit breaker and
// retry-with-backoff. Validation and submission share one breaker since
// they hit the same endpoint.
type ResilientClient struct {
	inner   Client
	breaker *circuitbreaker.CircuitBreaker
	retry   RetryConfig
	logger  *zap.Logger
}

// NewResilientClient wraps a client with the regulator resilience policy.
func NewResilientClient(inner Client, retry RetryConfig, logger *zap.Logger) (*ResilientClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("regulator"), logger)
	if err != nil {
		return nil, err
	}
	return &ResilientClient{
		inner:   inner,
		breaker: breaker,
		retry:   retry,
		logger:  logger,
	}, nil
}

// Validate calls the inner client through the breaker, retrying
// transient failures.
func (c *ResilientClient) Validate(ctx context.Context, payload *r4.QuestionnaireResponse) (*ValidationResult, error) {
	result, err := c.call(ctx, "validate", func() (interface{}, error) {
		return c.inner.Validate(ctx, payload)
	})
	if err != nil {
		return nil, err
	}
	return result.(*ValidationResult), nil
}

// Submit calls the inner client through the breaker, retrying
// transient failures.
func (c *ResilientClient) Submit(ctx context.Context, payload *r4.QuestionnaireResponse) (*SubmitResult, error) {
	result, err := c.call(ctx, "submit", func() (interface{}, error) {
		return c.inner.Submit(ctx, payload)
	})
	if err != nil {
		return nil, err
	}
	return result.(*SubmitResult), nil
}

func (c *ResilientClient) call(ctx context.Context, op string, fn func() (interface{}, error)) (interface{}, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		result, err := c.breaker.Execute(ctx, fn)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if c.breaker.IsOpen() {
			break
		}
		if attempt == c.retry.MaxAttempts {
			break
		}

		backoff := c.retry.Backoff * time.Duration(attempt)
		c.logger.Warn("regulator call failed, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}
