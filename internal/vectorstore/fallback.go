package vectorstore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/iapropria/iapropria/internal/logging"
)

// DefaultFallbackTimeout bounds the single fallback attempt.
const DefaultFallbackTimeout = 15 * time.Second

// FallbackTransport tries the primary transport and, when it fails with a
// transport error, tries the secondary exactly once under its own timeout.
// Not-found results, configuration errors and caller cancellation are
// returned without falling back.
type FallbackTransport struct {
	primary   Transport
	secondary Transport
	timeout   time.Duration
	logger    *logging.Logger
}

// NewFallbackTransport wraps primary and secondary. secondary may be nil,
// in which case primary errors are returned directly.
func NewFallbackTransport(primary, secondary Transport, timeout time.Duration, logger *logging.Logger) *FallbackTransport {
	if timeout <= 0 {
		timeout = DefaultFallbackTimeout
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &FallbackTransport{
		primary:   primary,
		secondary: secondary,
		timeout:   timeout,
		logger:    logger.Named("fallback"),
	}
}

// Name returns "primary+secondary", or the primary's name alone.
func (f *FallbackTransport) Name() string {
	if f.secondary == nil {
		return f.primary.Name()
	}
	return f.primary.Name() + "+" + f.secondary.Name()
}

// Query implements Transport.
func (f *FallbackTransport) Query(ctx context.Context, params QueryParams) ([]Match, error) {
	var matches []Match
	err := f.run(ctx, "query", func(ctx context.Context, t Transport) error {
		m, err := t.Query(ctx, params)
		matches = m
		return err
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// Upsert implements Transport.
func (f *FallbackTransport) Upsert(ctx context.Context, namespace string, records []Record) (int, error) {
	var n int
	err := f.run(ctx, "upsert", func(ctx context.Context, t Transport) error {
		c, err := t.Upsert(ctx, namespace, records)
		n = c
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Delete implements Transport.
func (f *FallbackTransport) Delete(ctx context.Context, namespace string, ids []string) error {
	return f.run(ctx, "delete", func(ctx context.Context, t Transport) error {
		return t.Delete(ctx, namespace, ids)
	})
}

// Health succeeds when either transport is healthy.
func (f *FallbackTransport) Health(ctx context.Context) error {
	var errs []error
	for _, h := range f.HealthReport(ctx) {
		if h.Healthy {
			return nil
		}
		errs = append(errs, errors.New(h.Transport+": "+h.Error))
	}
	return &TransportError{Transport: f.Name(), Op: "health", Err: errors.Join(errs...)}
}

// TransportHealth is the health of one wrapped transport.
type TransportHealth struct {
	Transport string `json:"transport"`
	Role      string `json:"role"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
}

// HealthReport checks every wrapped transport.
func (f *FallbackTransport) HealthReport(ctx context.Context) []TransportHealth {
	check := func(t Transport, role string) TransportHealth {
		h := TransportHealth{Transport: t.Name(), Role: role, Healthy: true}
		if err := t.Health(ctx); err != nil {
			h.Healthy = false
			h.Error = err.Error()
			HealthStatus.WithLabelValues(t.Name()).Set(0)
		} else {
			HealthStatus.WithLabelValues(t.Name()).Set(1)
		}
		return h
	}
	report := []TransportHealth{check(f.primary, "primary")}
	if f.secondary != nil {
		report = append(report, check(f.secondary, "fallback"))
	}
	return report
}

// Close closes both transports.
func (f *FallbackTransport) Close() error {
	var errs []error
	if err := f.primary.Close(); err != nil {
		errs = append(errs, err)
	}
	if f.secondary != nil {
		if err := f.secondary.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *FallbackTransport) run(ctx context.Context, op string, call func(context.Context, Transport) error) error {
	perr := call(ctx, f.primary)
	recordOperation(op, f.primary.Name(), perr)
	if perr == nil {
		return nil
	}
	if f.secondary == nil || !shouldFallback(ctx, perr) {
		return asTransportError(f.primary.Name(), op, perr)
	}

	f.logger.Warn(ctx, "primary transport failed, falling back",
		zap.String("operation", op),
		zap.String("primary", f.primary.Name()),
		zap.String("fallback", f.secondary.Name()),
		zap.Error(perr),
	)

	fctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	serr := call(fctx, f.secondary)
	recordOperation(op, f.secondary.Name(), serr)
	if serr == nil {
		FallbackTotal.WithLabelValues(op, "success").Inc()
		return nil
	}
	FallbackTotal.WithLabelValues(op, "error").Inc()

	if IsNotFound(serr) || IsConfigurationError(serr) {
		return serr
	}

	f.logger.Error(ctx, "fallback transport failed",
		zap.String("operation", op),
		zap.String("fallback", f.secondary.Name()),
		zap.Error(serr),
	)

	final := &TransportError{Transport: f.secondary.Name(), Op: op, Err: errors.Join(perr, serr)}
	var te *TransportError
	if errors.As(serr, &te) {
		final.StatusCode = te.StatusCode
	}
	return final
}

// shouldFallback is false for outcomes a second transport cannot change.
func shouldFallback(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !IsNotFound(err) && !IsConfigurationError(err) && !IsValidationError(err)
}

// asTransportError leaves typed errors alone and wraps anything else.
func asTransportError(transport, op string, err error) error {
	if IsNotFound(err) || IsConfigurationError(err) || IsValidationError(err) || IsTransportError(err) {
		return err
	}
	return &TransportError{Transport: transport, Op: op, Err: err}
}
