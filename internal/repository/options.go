package repository

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/tenantcore/internal/clock"
	"github.com/roach88/tenantcore/internal/ids"
)

const instrumentationName = "github.com/roach88/tenantcore/internal/repository"

type options struct {
	clock  clock.Clock
	ids    ids.Generator
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures a Repository.
type Option func(*options)

// WithClock sets the clock used for created_at/updated_at.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithIDGenerator sets the generator used for new record ids.
func WithIDGenerator(g ids.Generator) Option {
	return func(o *options) { o.ids = g }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp.Tracer(instrumentationName) }
}

func buildOptions(opts []Option) options {
	o := options{
		clock: clock.System{},
		ids:   ids.UUIDv7{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(instrumentationName)
	}
	return o
}

// CreateOption configures a single Create call.
type CreateOption func(*createOptions)

type createOptions struct {
	id string
}

// WithID creates the record with a caller-chosen id instead of a generated one.
func WithID(id string) CreateOption {
	return func(o *createOptions) { o.id = id }
}
