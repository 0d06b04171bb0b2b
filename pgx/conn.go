// Package pgx adapts a *pgx.Conn to the nestedtx.Conn capability.
package pgx

import (
	"context"
	"fmt"

	"github.com/Thiht/nestedtx"
	"github.com/Thiht/nestedtx/internal/pgstatus"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Conn is a pgx connection with an autocommit mode.
//
// pgx runs every statement in its own transaction unless one is opened explicitly. With
// autocommit disabled, Conn opens that transaction itself before the first statement on
// an idle connection. The transaction status is the one reported by the server.
type Conn struct {
	conn       *pgx.Conn
	autocommit bool
}

var _ nestedtx.Conn = &Conn{}

// NewConn wraps conn with autocommit enabled.
func NewConn(conn *pgx.Conn) *Conn {
	return &Conn{
		conn:       conn,
		autocommit: true,
	}
}

// PgxConn returns the underlying connection. Statements sent through it directly bypass the
// autocommit mode.
func (c *Conn) PgxConn() *pgx.Conn {
	return c.conn
}

func (c *Conn) Autocommit() bool {
	return c.autocommit
}

func (c *Conn) SetAutocommit(_ context.Context, autocommit bool) error {
	if c.conn.PgConn().TxStatus() != pgstatus.Idle {
		return nestedtx.ErrAutocommitInTransaction
	}
	c.autocommit = autocommit

	return nil
}

func (c *Conn) TxStatus(_ context.Context) (nestedtx.TxStatus, error) {
	return pgstatus.Parse(c.conn.PgConn().TxStatus())
}

func (c *Conn) Exec(ctx context.Context, query string, args ...any) error {
	_, err := c.ExecTag(ctx, query, args...)
	return err
}

// ExecTag is Exec returning the command tag, as *pgx.Conn does.
func (c *Conn) ExecTag(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	if err := c.begin(ctx); err != nil {
		return pgconn.CommandTag{}, err
	}

	return c.conn.Exec(ctx, query, args...)
}

func (c *Conn) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	if err := c.begin(ctx); err != nil {
		return nil, err
	}

	return c.conn.Query(ctx, query, args...)
}

func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	if err := c.begin(ctx); err != nil {
		return errRow{err}
	}

	return c.conn.QueryRow(ctx, query, args...)
}

// Commit commits the open transaction. It does nothing on an idle connection.
func (c *Conn) Commit(ctx context.Context) error {
	if c.conn.PgConn().TxStatus() == pgstatus.Idle {
		return nil
	}

	if _, err := c.conn.Exec(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Rollback rolls back the open transaction. It does nothing on an idle connection.
func (c *Conn) Rollback(ctx context.Context) error {
	if c.conn.PgConn().TxStatus() == pgstatus.Idle {
		return nil
	}

	if _, err := c.conn.Exec(ctx, "ROLLBACK"); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	return nil
}

func (c *Conn) begin(ctx context.Context) error {
	if c.autocommit || c.conn.PgConn().TxStatus() != pgstatus.Idle {
		return nil
	}

	if _, err := c.conn.Exec(ctx, "BEGIN"); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	return nil
}

type errRow struct {
	err error
}

func (r errRow) Scan(...any) error {
	return r.err
}
