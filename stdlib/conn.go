// Package stdlib adapts a database/sql connection to the nestedtx.Conn capability.
package stdlib

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Thiht/nestedtx"
	"github.com/Thiht/nestedtx/internal/pgstatus"
	pgxstdlib "github.com/jackc/pgx/v5/stdlib"
)

// Conn is a database/sql connection with an autocommit mode.
//
// With autocommit disabled, the first statement on an idle connection begins a *sql.Tx, and
// every following statement runs in it until Commit or Rollback. A *sql.Conn is used rather
// than a *sql.DB because savepoints only exist on the physical connection that created them.
//
// The transaction status comes from the server with the pgx driver. With other drivers, Conn
// can only tell whether a transaction is open, and never reports nestedtx.TxInError.
type Conn struct {
	conn       *sql.Conn
	tx         *sql.Tx
	txOptions  *sql.TxOptions
	autocommit bool
}

var _ nestedtx.Conn = &Conn{}

type Option func(*Conn)

// WithTxOptions sets the options of the transactions opened by the connection.
func WithTxOptions(opts *sql.TxOptions) Option {
	return func(c *Conn) {
		c.txOptions = opts
	}
}

// NewConn wraps conn with autocommit enabled.
func NewConn(conn *sql.Conn, opts ...Option) *Conn {
	c := &Conn{
		conn:       conn,
		autocommit: true,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SQLConn returns the underlying connection. Statements sent through it directly run outside
// of the transaction opened by Conn.
func (c *Conn) SQLConn() *sql.Conn {
	return c.conn
}

func (c *Conn) Autocommit() bool {
	return c.autocommit
}

func (c *Conn) SetAutocommit(_ context.Context, autocommit bool) error {
	if c.tx != nil {
		return nestedtx.ErrAutocommitInTransaction
	}
	c.autocommit = autocommit

	return nil
}

func (c *Conn) TxStatus(_ context.Context) (nestedtx.TxStatus, error) {
	if c.tx == nil {
		return nestedtx.TxIdle, nil
	}

	status, ok, err := c.serverTxStatus()
	if err != nil {
		return 0, err
	}
	if ok {
		return status, nil
	}

	return nestedtx.TxInTransaction, nil
}

func (c *Conn) serverTxStatus() (nestedtx.TxStatus, bool, error) {
	var (
		raw byte
		ok  bool
	)
	err := c.conn.Raw(func(driverConn any) error {
		if pgxConn, isPgx := driverConn.(*pgxstdlib.Conn); isPgx {
			raw = pgxConn.Conn().PgConn().TxStatus()
			ok = true
		}
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to access driver connection: %w", err)
	}
	if !ok {
		return 0, false, nil
	}

	status, err := pgstatus.Parse(raw)
	return status, true, err
}

// Tx returns the transaction statements currently run in, beginning it if autocommit is
// disabled. It returns nil when statements are autocommitted.
func (c *Conn) Tx(ctx context.Context) (*sql.Tx, error) {
	q, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	tx, _ := q.(*sql.Tx)
	return tx, nil
}

func (c *Conn) Exec(ctx context.Context, query string, args ...any) error {
	_, err := c.ExecContext(ctx, query, args...)
	return err
}

func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	q, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	return q.ExecContext(ctx, query, args...)
}

func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	q, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	return q.QueryContext(ctx, query, args...)
}

// Commit commits the open transaction. It does nothing on an idle connection.
func (c *Conn) Commit(_ context.Context) error {
	if c.tx == nil {
		return nil
	}

	tx := c.tx
	c.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Rollback rolls back the open transaction. It does nothing on an idle connection.
func (c *Conn) Rollback(_ context.Context) error {
	if c.tx == nil {
		return nil
	}

	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

var (
	_ querier = &sql.Conn{}
	_ querier = &sql.Tx{}
)

func (c *Conn) session(ctx context.Context) (querier, error) {
	if c.tx != nil {
		return c.tx, nil
	}
	if c.autocommit {
		return c.conn, nil
	}

	tx, err := c.conn.BeginTx(ctx, c.txOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	c.tx = tx

	return tx, nil
}
