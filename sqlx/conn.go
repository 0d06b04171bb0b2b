// Package sqlx adapts a *sqlx.Conn to the nestedtx.Conn capability.
package sqlx

import (
	"context"

	"github.com/Thiht/nestedtx"
	"github.com/Thiht/nestedtx/stdlib"
	"github.com/jmoiron/sqlx"
)

// Conn is a stdlib.Conn whose struct scanning helpers run in the transaction opened by the connection.
type Conn struct {
	*stdlib.Conn
	conn *sqlx.Conn
}

var _ nestedtx.Conn = &Conn{}

// NewConn wraps conn with autocommit enabled.
func NewConn(conn *sqlx.Conn, opts ...stdlib.Option) *Conn {
	return &Conn{
		Conn: stdlib.NewConn(conn.Conn, opts...),
		conn: conn,
	}
}

func (c *Conn) SqlxConn() *sqlx.Conn {
	return c.conn
}

func (c *Conn) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	q, err := c.queryer(ctx)
	if err != nil {
		return err
	}

	return sqlx.GetContext(ctx, q, dest, c.conn.Rebind(query), args...)
}

func (c *Conn) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	q, err := c.queryer(ctx)
	if err != nil {
		return err
	}

	return sqlx.SelectContext(ctx, q, dest, c.conn.Rebind(query), args...)
}

func (c *Conn) queryer(ctx context.Context) (sqlx.QueryerContext, error) {
	tx, err := c.Tx(ctx)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return c.conn, nil
	}

	return &sqlx.Tx{Tx: tx, Mapper: c.conn.Mapper}, nil
}
