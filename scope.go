package nestedtx

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.opentelemetry.io/otel/trace"
)

// State is the lifecycle state of a Scope.
type State int

const (
	StatePending State = iota
	StateActive
	// StateRolledBack is an active scope whose savepoint was rolled back explicitly.
	StateRolledBack
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateRolledBack:
		return "rolled back"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type ScopeOption func(*Scope)

// WithForceDiscard makes the scope roll back its savepoint on exit, even when its body succeeded.
func WithForceDiscard() ScopeOption {
	return func(s *Scope) {
		s.forceDiscard = true
	}
}

func WithDialect(dialect Dialect) ScopeOption {
	return func(s *Scope) {
		s.dialect = dialect
	}
}

// Scope is one level of nesting on a connection, backed by a savepoint.
//
// A scope is entered once and exited once. Once closed it can be entered again, but a scope
// that is still active cannot be re-entered: nesting requires a new scope.
type Scope struct {
	registry     *Registry
	conn         Conn
	dialect      Dialect
	forceDiscard bool

	state                    State
	depth                    int
	savepoint                string
	outermost                bool
	originalAutocommit       bool
	hadContainingTransaction bool
	span                     trace.Span
}

// NewScope prepares a scope on conn. Nothing is sent to the database until Enter.
//
// The registry keys connections by identity, so the dynamic type of conn must be comparable;
// NewScope panics otherwise.
func (r *Registry) NewScope(conn Conn, opts ...ScopeOption) *Scope {
	conn = underlying(conn)
	if t := reflect.TypeOf(conn); t == nil || !t.Comparable() {
		panic(fmt.Sprintf("nestedtx: connection of type %v is not comparable", t))
	}

	scope := &Scope{
		registry: r,
		conn:     conn,
		dialect:  Savepoints,
	}
	for _, opt := range opts {
		opt(scope)
	}

	return scope
}

func (s *Scope) Conn() Conn                     { return s.conn }
func (s *Scope) State() State                   { return s.state }
func (s *Scope) Savepoint() string              { return s.savepoint }
func (s *Scope) Depth() int                     { return s.depth }
func (s *Scope) RolledBack() bool               { return s.state == StateRolledBack }
func (s *Scope) Outermost() bool                { return s.outermost }
func (s *Scope) HadContainingTransaction() bool { return s.hadContainingTransaction }

// Enter begins the scope and returns it, so that it can be kept for explicit rollbacks.
//
// The outermost scope of a connection disables autocommit if needed, and records whether a
// transaction was already open: if so, that transaction is left open when the scope exits.
func (s *Scope) Enter(ctx context.Context) (*Scope, error) {
	if _, err := s.enter(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Scope) enter(ctx context.Context) (context.Context, error) {
	if s.state == StateActive || s.state == StateRolledBack {
		return ctx, ErrScopeAlreadyActive
	}

	s.outermost = s.registry.Depth(s.conn) == 0
	s.hadContainingTransaction = false
	if s.outermost {
		status, err := s.conn.TxStatus(ctx)
		if err != nil {
			return ctx, fmt.Errorf("failed to get transaction status: %w", err)
		}
		s.hadContainingTransaction = status == TxInTransaction
	}

	s.originalAutocommit = s.conn.Autocommit()
	if s.originalAutocommit {
		if err := s.conn.SetAutocommit(ctx, false); err != nil {
			return ctx, fmt.Errorf("failed to disable autocommit: %w", err)
		}
	}

	s.depth = s.registry.push(s.conn, s)
	s.savepoint = SavepointName(s.depth)

	ctx, s.span = s.registry.telemetry.startScope(ctx, s)
	s.span.SetAttributes(
		attrSavepoint.String(s.savepoint),
		attrDepth.Int(s.depth),
		attrOutermost.Bool(s.outermost),
	)

	if err := s.exec(ctx, s.dialect.Savepoint(s.savepoint)); err != nil {
		err = fmt.Errorf("failed to create savepoint: %w", err)
		if _, popErr := s.registry.pop(s.conn, s); popErr == nil && s.outermost {
			err = errors.Join(err, s.finalize(ctx, false))
		}
		s.state = StateClosed
		s.registry.telemetry.endScope(ctx, s.span, exitFailed, err)

		return ctx, err
	}

	s.state = StateActive

	return ctx, nil
}

// Exit ends the scope: its savepoint is released, or rolled back if the outcome is Failed or
// the scope forces discards. When the last scope of the connection exits, the real transaction
// is committed, unless it was opened by the caller before the first scope.
//
// With a Failed outcome, errors are logged rather than returned so they don't shadow the
// failure the caller is already handling. Misuse (exiting a scope that isn't active, or that
// isn't the innermost one) is returned even with a Failed outcome, and nothing is sent to the
// database: callers deferring Exit(ctx, Failed) must check its result.
func (s *Scope) Exit(ctx context.Context, outcome Outcome) error {
	if s.state != StateActive && s.state != StateRolledBack {
		return ErrScopeNotActive
	}
	if s.registry.Top(s.conn) != s {
		return ErrOutOfOrderExit
	}

	result, err := s.exit(ctx, outcome)
	s.state = StateClosed
	s.registry.telemetry.endScope(ctx, s.span, result, err)

	if err != nil && outcome == Failed {
		s.registry.loggerFor(ctx).Error().
			Err(err).
			Str("savepoint", s.savepoint).
			Int("depth", s.depth).
			Stringer("outcome", outcome).
			Msg("failed to exit transaction scope")
		return nil
	}

	return err
}

func (s *Scope) exit(ctx context.Context, outcome Outcome) (string, error) {
	var stepErr error
	result := exitReleased

	switch {
	case s.state == StateRolledBack:
		result = exitRolledBack

	case s.forceDiscard || outcome == Failed:
		result = exitRolledBack
		if err := s.exec(ctx, s.dialect.RollbackTo(s.savepoint)); err != nil {
			stepErr = fmt.Errorf("failed to rollback to savepoint: %w", err)
		}

	default:
		stepErr = s.release(ctx)
	}

	if stepErr != nil {
		result = exitFailed
	}

	remaining, err := s.registry.pop(s.conn, s)
	if err != nil {
		return exitFailed, errors.Join(stepErr, err)
	}

	if remaining == 0 {
		if err := s.finalize(ctx, stepErr == nil); err != nil {
			return exitFailed, errors.Join(stepErr, err)
		}
	}

	return result, stepErr
}

func (s *Scope) release(ctx context.Context) error {
	status, err := s.conn.TxStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to get transaction status: %w", err)
	}
	if status == TxInError {
		return ErrInvariantViolation
	}

	query := s.dialect.Release(s.savepoint)
	if query == "" {
		return nil
	}

	if err := s.exec(ctx, query); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}

	return nil
}

// finalize runs once the stack of the connection is empty. A transaction opened by the
// outermost scope is never left open: it's committed, or rolled back if the scope couldn't
// close its savepoint.
func (s *Scope) finalize(ctx context.Context, commit bool) error {
	var errs []error

	if !s.hadContainingTransaction {
		if commit {
			if err := s.conn.Commit(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to commit transaction: %w", err))
			}
		} else if err := s.conn.Rollback(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to rollback transaction: %w", err))
		}
	}

	if s.conn.Autocommit() != s.originalAutocommit {
		if err := s.conn.SetAutocommit(ctx, s.originalAutocommit); err != nil {
			errs = append(errs, fmt.Errorf("failed to restore autocommit: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Rollback discards everything done since the scope was entered.
// Only the innermost active scope of a connection can roll back, and only once.
func (s *Scope) Rollback(ctx context.Context) error {
	if !s.registry.contains(s.conn, s) {
		return ErrRollbackOutsideScope
	}
	if s.registry.Top(s.conn) != s {
		return ErrRollbackOuterScope
	}
	if s.state == StateRolledBack {
		return ErrAlreadyRolledBack
	}

	if err := s.exec(ctx, s.dialect.RollbackTo(s.savepoint)); err != nil {
		return fmt.Errorf("failed to rollback to savepoint: %w", err)
	}
	s.state = StateRolledBack

	return nil
}

func (s *Scope) exec(ctx context.Context, query string) error {
	s.registry.loggerFor(ctx).Debug().
		Str("savepoint", s.savepoint).
		Int("depth", s.depth).
		Str("statement", query).
		Msg("executing savepoint statement")

	return s.conn.Exec(ctx, query)
}
