package nestedtx

import "context"

// GuardedConn forwards everything to the connection it wraps, except Commit and Rollback, which
// are refused while a scope is active on that connection. Hand it to code that manages its own
// transactions so it can't commit or discard the work of an enclosing scope.
//
// Code holding the unwrapped connection is not guarded.
type GuardedConn struct {
	Conn
	registry *Registry
}

var _ Conn = &GuardedConn{}

func (r *Registry) Guard(conn Conn) *GuardedConn {
	return &GuardedConn{
		Conn:     conn,
		registry: r,
	}
}

func (g *GuardedConn) Unwrap() Conn {
	return g.Conn
}

func (g *GuardedConn) Commit(ctx context.Context) error {
	if g.registry.Depth(g.Conn) > 0 {
		return ErrCommitForbidden
	}

	return g.Conn.Commit(ctx)
}

func (g *GuardedConn) Rollback(ctx context.Context) error {
	if g.registry.Depth(g.Conn) > 0 {
		return ErrRollbackForbidden
	}

	return g.Conn.Rollback(ctx)
}
