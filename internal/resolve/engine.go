// Package resolve orchestrates answering one need: validate, derive the
// registry filter, fetch the income ledger, attach the solution and
// publish. Every failure stops at this boundary; the consumer loop only
// ever sees an Outcome.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"inntekt/internal/need"
	"inntekt/internal/period"
	"inntekt/internal/platform/metrics"
	"inntekt/internal/registry"
	"inntekt/internal/resolve/dedupe"
	"inntekt/internal/sts"
	"inntekt/pkg/requestcontext"
)

// IncomeLookup fetches the income ledger for one subject and window.
type IncomeLookup interface {
	Lookup(ctx context.Context, subjectID string, start, end period.YearMonth, filter period.FilterCode, correlationID string) ([]registry.MonthlyIncome, error)
}

// Publisher sends a solved envelope back to the topic it came from.
type Publisher interface {
	Publish(ctx context.Context, key string, env need.Envelope) error
}

// Engine resolves needs for a single capability. Register one engine per
// capability; instances share no state and Handle is safe to call
// concurrently for independent messages.
type Engine struct {
	validator need.Validator
	strategy  period.FilterStrategy
	lookup    IncomeLookup
	publisher Publisher
	logger    *slog.Logger

	dedupe        dedupe.Store
	metrics       *metrics.Metrics
	lookupTimeout time.Duration
}

type Option func(*Engine)

// WithDedupeStore enables the answered-need store.
func WithDedupeStore(store dedupe.Store) Option {
	return func(e *Engine) {
		e.dedupe = store
	}
}

// WithMetrics wires the resolver metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLookupTimeout bounds a single registry lookup so a stuck upstream
// cannot pin a worker indefinitely.
func WithLookupTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.lookupTimeout = d
	}
}

func New(capability string, strategy period.FilterStrategy, lookup IncomeLookup, publisher Publisher, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if strategy == nil {
		return nil, fmt.Errorf("filter strategy is required")
	}
	if lookup == nil {
		return nil, fmt.Errorf("income lookup is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}

	e := &Engine{
		validator:     need.NewValidator(capability),
		strategy:      strategy,
		lookup:        lookup,
		publisher:     publisher,
		logger:        logger,
		lookupTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Capability returns the capability name this engine answers.
func (e *Engine) Capability() string {
	return e.validator.Capability()
}

// Handle processes one raw message. The returned Outcome is the only
// signal to the caller; errors never propagate out of this method.
func (e *Engine) Handle(ctx context.Context, raw []byte) Outcome {
	env, ok := e.validator.Validate(raw)
	if !ok {
		e.observeIgnored()
		return ignored()
	}

	// Correlation values live on this message's context and fall away
	// with it on every exit path.
	ctx = requestcontext.WithNeedID(ctx, env.ID)
	ctx = requestcontext.WithCorrelationID(ctx, env.CorrelationID)
	ctx = requestcontext.WithCapability(ctx, e.Capability())
	log := e.logger.With(
		slog.String("need_id", env.ID),
		slog.String("correlation_id", env.CorrelationID),
		slog.String("capability", e.Capability()),
	)

	if e.alreadyAnswered(ctx, log, env.ID) {
		e.observeIgnored()
		return ignored()
	}

	filter, err := e.strategy.FilterFor(env.PeriodStart, env.PeriodEnd)
	if err != nil {
		log.Warn("unsupported period configuration",
			slog.String("period_start", env.PeriodStart.String()),
			slog.String("period_end", env.PeriodEnd.String()),
			slog.Any("error", err),
		)
		e.observeFailed("period")
		return failed(err)
	}

	months, err := e.fetch(ctx, env, filter)
	if err != nil {
		e.logLookupFailure(log, err)
		e.observeFailed(lookupFailureReason(err))
		return failed(err)
	}

	solved, err := env.WithSolution(e.Capability(), months)
	if err != nil {
		log.Error("assembling solution failed", slog.Any("error", err))
		e.observeFailed("assemble")
		return failed(err)
	}

	if err := e.publisher.Publish(ctx, env.ID, solved); err != nil {
		log.Error("publishing solution failed", slog.Any("error", err))
		e.observeFailed("publish")
		return failed(err)
	}

	e.markAnswered(ctx, log, env.ID)
	log.Info("resolved need", slog.Int("months", len(months)))
	if e.metrics != nil {
		e.metrics.NeedsResolved.WithLabelValues(e.Capability()).Inc()
	}
	return resolved(solved)
}

func (e *Engine) fetch(ctx context.Context, env need.Envelope, filter period.FilterCode) ([]registry.MonthlyIncome, error) {
	ctx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()

	start := time.Now()
	months, err := e.lookup.Lookup(ctx, env.SubjectID, env.PeriodStart, env.PeriodEnd, filter, env.CorrelationID)
	if e.metrics != nil {
		e.metrics.LookupDuration.Observe(time.Since(start).Seconds())
	}
	return months, err
}

// alreadyAnswered consults the dedupe store. Store errors are logged and
// treated as not seen; dedupe is advisory.
func (e *Engine) alreadyAnswered(ctx context.Context, log *slog.Logger, needID string) bool {
	if e.dedupe == nil {
		return false
	}
	seen, err := e.dedupe.Seen(ctx, needID)
	if err != nil {
		log.Warn("dedupe lookup failed", slog.Any("error", err))
		return false
	}
	if seen {
		log.Info("need already answered, skipping redelivery")
	}
	return seen
}

func (e *Engine) markAnswered(ctx context.Context, log *slog.Logger, needID string) {
	if e.dedupe == nil {
		return
	}
	if err := e.dedupe.Mark(ctx, needID); err != nil {
		log.Warn("dedupe mark failed", slog.Any("error", err))
	}
}

// logLookupFailure maps the lookup error taxonomy to log levels. A token
// failure starves every lookup, so it logs at Error; the rest are
// per-message conditions.
func (e *Engine) logLookupFailure(log *slog.Logger, err error) {
	var authErr *sts.AuthError
	var upstreamErr *registry.UpstreamError

	switch {
	case errors.As(err, &authErr):
		log.Error("token acquisition failed", slog.Any("error", err))
	case errors.As(err, &upstreamErr):
		log.Warn("income registry rejected lookup",
			slog.Int("status", upstreamErr.Status),
			slog.String("body", upstreamErr.Body),
		)
	default:
		log.Warn("income lookup failed", slog.Any("error", err))
	}
}

func lookupFailureReason(err error) string {
	var authErr *sts.AuthError
	var upstreamErr *registry.UpstreamError
	var parseErr *registry.ParseError

	switch {
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &upstreamErr):
		return "upstream"
	case errors.As(err, &parseErr):
		return "parse"
	default:
		return "lookup"
	}
}

func (e *Engine) observeIgnored() {
	if e.metrics != nil {
		e.metrics.NeedsIgnored.Inc()
	}
}

func (e *Engine) observeFailed(reason string) {
	if e.metrics != nil {
		e.metrics.NeedsFailed.WithLabelValues(reason).Inc()
	}
}
