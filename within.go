package nestedtx

import (
	"context"
	"fmt"
)

type scopeKey struct{}

func scopeToContext(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFromContext returns the innermost scope started by WithinScope, or nil.
func ScopeFromContext(ctx context.Context) *Scope {
	if scope, ok := ctx.Value(scopeKey{}).(*Scope); ok {
		return scope
	}

	return nil
}

func IsWithinScope(ctx context.Context) bool {
	return ScopeFromContext(ctx) != nil
}

// WithinScope runs scopeFunc inside a new scope on conn. The scope exits with a Failed outcome
// if scopeFunc returns an error or panics, and with a Succeeded outcome otherwise.
func (r *Registry) WithinScope(ctx context.Context, conn Conn, scopeFunc func(context.Context, *Scope) error, opts ...ScopeOption) error {
	scope := r.NewScope(conn, opts...)

	scopeCtx, err := scope.enter(ctx)
	if err != nil {
		return fmt.Errorf("failed to enter transaction scope: %w", err)
	}
	scopeCtx = scopeToContext(scopeCtx, scope)

	defer func() {
		if p := recover(); p != nil {
			r.exitFailed(ctx, scope)
			panic(p)
		}
	}()

	if err := scopeFunc(scopeCtx, scope); err != nil {
		r.exitFailed(ctx, scope)
		return err
	}

	if err := scope.Exit(ctx, Succeeded); err != nil {
		return fmt.Errorf("failed to exit transaction scope: %w", err)
	}

	return nil
}

// exitFailed exits scope with a Failed outcome. The callback failure is the one reported to the
// caller, so misuse detected by Exit, such as an inner scope left open, is logged.
func (r *Registry) exitFailed(ctx context.Context, scope *Scope) {
	if err := scope.Exit(ctx, Failed); err != nil {
		r.loggerFor(ctx).Error().
			Err(err).
			Str("savepoint", scope.Savepoint()).
			Int("depth", scope.Depth()).
			Msg("failed to exit transaction scope")
	}
}

// Transactor returns a Transactor running every transaction as a scope on conn.
func (r *Registry) Transactor(conn Conn, opts ...ScopeOption) Transactor {
	return &scopeTransactor{
		registry: r,
		conn:     conn,
		opts:     opts,
	}
}

type scopeTransactor struct {
	registry *Registry
	conn     Conn
	opts     []ScopeOption
}

func (t *scopeTransactor) WithinTransaction(ctx context.Context, txFunc func(context.Context) error) error {
	return t.registry.WithinScope(ctx, t.conn, func(ctx context.Context, _ *Scope) error {
		return txFunc(ctx)
	}, t.opts...)
}
