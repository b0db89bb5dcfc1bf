package llm

import (
	"context"
	"time"

	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"

	"github.com/aideepspeak/internal/aiconnectors"
	"github.com/aideepspeak/internal/logging"
	"github.com/aideepspeak/internal/retry"
	"github.com/aideepspeak/pkg/models"
)

// Generator is the raw model capability wrapped by ResilientCaller
type Generator interface {
	Call(ctx context.Context, input string, options ...llms.CallOption) (string, models.Usage, error)
	GetProvider() aiconnectors.Provider
	GetModel() string
}

// CallerConfig bundles the resiliency knobs applied around every model call
type CallerConfig struct {
	Retry             retry.RetryConfig
	CallTimeout       time.Duration // per-attempt budget; exceeding it counts as transient
	RequestsPerSecond float64       // 0 disables rate limiting
	Burst             int
}

// DefaultCallerConfig returns the caller configuration used when the
// surrounding config layer does not override anything.
func DefaultCallerConfig() CallerConfig {
	return CallerConfig{
		Retry:       retry.ModelCallRetryConfig(),
		CallTimeout: 60 * time.Second,
		Burst:       1,
	}
}

// ResilientCaller wraps a Generator with retry logic, a per-attempt timeout
// and an optional provider rate limit. One caller serves one character.
type ResilientCaller struct {
	gen     Generator
	config  CallerConfig
	limiter *rate.Limiter
	logger  *logging.MeetingLogger
}

// NewResilientCaller creates a resilient wrapper around gen. The logger may
// be nil; retry progress then goes unrecorded.
func NewResilientCaller(gen Generator, config CallerConfig, logger *logging.MeetingLogger) *ResilientCaller {
	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	return &ResilientCaller{
		gen:     gen,
		config:  config,
		limiter: limiter,
		logger:  logger,
	}
}

// Call sends the prompt through the retry and timeout machinery. Transient
// and invalid-response failures are retried with backoff; auth and
// unavailable failures surface immediately.
func (rc *ResilientCaller) Call(ctx context.Context, prompt string) (string, models.Usage, error) {
	if rc.limiter != nil {
		if err := rc.limiter.Wait(ctx); err != nil {
			return "", models.Usage{}, err
		}
	}

	var text string
	var usage models.Usage

	result := retry.RetryWithBackoffAndReason(ctx, rc.config.Retry, func() (error, string) {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if rc.config.CallTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, rc.config.CallTimeout)
		}
		defer cancel()

		t, u, err := rc.gen.Call(attemptCtx, prompt)
		if err != nil {
			if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				// The per-attempt budget ran out, not the whole run
				err = &aiconnectors.ConnectorError{
					Kind:     aiconnectors.ErrTransient,
					Provider: rc.gen.GetProvider(),
					Err:      err,
				}
			}
			connErr := aiconnectors.Classify(rc.gen.GetProvider(), err)
			if !connErr.Retryable() {
				// Empty reason tells the retry loop to stop immediately
				return connErr, ""
			}
			return connErr, connErr.Kind.String()
		}

		text, usage = t, u
		return nil, "success"
	}, rc.logger)

	if !result.Success {
		return "", models.Usage{}, result.LastError
	}

	return text, usage, nil
}

// GetModel returns the wrapped generator's model name
func (rc *ResilientCaller) GetModel() string {
	return rc.gen.GetModel()
}

// GetProvider returns the wrapped generator's provider
func (rc *ResilientCaller) GetProvider() aiconnectors.Provider {
	return rc.gen.GetProvider()
}
