package nestedtx

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Registry tracks the stack of active scopes of every connection it coordinates.
//
// A connection has an entry only while at least one scope is active on it. The registry is safe
// for use by scopes on distinct connections at the same time, but a single connection must
// not be driven by more than one goroutine at once.
type Registry struct {
	mu     sync.Mutex
	stacks map[Conn][]*Scope

	logger    zerolog.Logger
	telemetry *telemetry
}

type RegistryOption func(*registryOptions)

type registryOptions struct {
	logger         zerolog.Logger
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// WithLogger sets the logger used when no logger is attached to the context.
func WithLogger(logger zerolog.Logger) RegistryOption {
	return func(o *registryOptions) {
		o.logger = logger
	}
}

func WithTracerProvider(tp trace.TracerProvider) RegistryOption {
	return func(o *registryOptions) {
		o.tracerProvider = tp
	}
}

func WithMeterProvider(mp metric.MeterProvider) RegistryOption {
	return func(o *registryOptions) {
		o.meterProvider = mp
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	o := registryOptions{
		logger:         zerolog.Nop(),
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Registry{
		stacks:    make(map[Conn][]*Scope),
		logger:    o.logger,
		telemetry: newTelemetry(o.tracerProvider, o.meterProvider, o.logger),
	}
}

// Depth returns the number of active scopes on conn.
func (r *Registry) Depth(conn Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.stacks[underlying(conn)])
}

// Top returns the innermost active scope on conn, or nil if there is none.
func (r *Registry) Top(conn Conn) *Scope {
	r.mu.Lock()
	defer r.mu.Unlock()

	stack := r.stacks[underlying(conn)]
	if len(stack) == 0 {
		return nil
	}

	return stack[len(stack)-1]
}

// Len returns the number of connections with at least one active scope.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.stacks)
}

func (r *Registry) contains(conn Conn, scope *Scope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.stacks[conn] {
		if s == scope {
			return true
		}
	}

	return false
}

// push appends scope to the stack of conn and returns the depth it was pushed at.
func (r *Registry) push(conn Conn, scope *Scope) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	depth := len(r.stacks[conn])
	r.stacks[conn] = append(r.stacks[conn], scope)

	return depth
}

// pop removes scope from the top of the stack of conn and returns the remaining depth.
func (r *Registry) pop(conn Conn, scope *Scope) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stack := r.stacks[conn]
	if len(stack) == 0 || stack[len(stack)-1] != scope {
		return len(stack), ErrOutOfOrderExit
	}

	stack[len(stack)-1] = nil
	stack = stack[:len(stack)-1]
	if len(stack) == 0 {
		delete(r.stacks, conn)
		return 0, nil
	}
	r.stacks[conn] = stack

	return len(stack), nil
}

// loggerFor prefers a logger attached to ctx with zerolog's WithContext.
func (r *Registry) loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}

	return &r.logger
}
