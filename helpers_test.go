package nestedtx_test

import (
	"context"
	"errors"
	"strings"

	"github.com/Thiht/nestedtx"
)

var errAborted = errors.New("current transaction is aborted, commands ignored until end of transaction block")

// fakeConn records the statements it receives and mimics the transaction status of a
// PostgreSQL connection: a failed statement puts the transaction in error until a rollback.
type fakeConn struct {
	statements []string
	autocommit bool
	status     nestedtx.TxStatus
	failures   map[string]error
}

var _ nestedtx.Conn = &fakeConn{}

func newFakeConn() *fakeConn {
	return &fakeConn{
		autocommit: true,
		failures:   map[string]error{},
	}
}

func (c *fakeConn) failOn(query string, err error) {
	c.failures[query] = err
}

func (c *fakeConn) Exec(_ context.Context, query string, _ ...any) error {
	if !c.autocommit && c.status == nestedtx.TxIdle {
		c.statements = append(c.statements, "BEGIN")
		c.status = nestedtx.TxInTransaction
	}

	c.statements = append(c.statements, query)

	if c.status == nestedtx.TxInError && !strings.HasPrefix(query, "ROLLBACK") {
		return errAborted
	}

	if err, ok := c.failures[query]; ok {
		if c.status == nestedtx.TxInTransaction {
			c.status = nestedtx.TxInError
		}
		return err
	}

	if strings.HasPrefix(query, "ROLLBACK TO SAVEPOINT") && c.status == nestedtx.TxInError {
		c.status = nestedtx.TxInTransaction
	}

	return nil
}

func (c *fakeConn) Autocommit() bool {
	return c.autocommit
}

func (c *fakeConn) SetAutocommit(_ context.Context, autocommit bool) error {
	if c.status != nestedtx.TxIdle {
		return nestedtx.ErrAutocommitInTransaction
	}
	c.autocommit = autocommit

	return nil
}

func (c *fakeConn) TxStatus(context.Context) (nestedtx.TxStatus, error) {
	return c.status, nil
}

func (c *fakeConn) Commit(context.Context) error {
	if c.status == nestedtx.TxIdle {
		return nil
	}

	c.statements = append(c.statements, "COMMIT")
	c.status = nestedtx.TxIdle

	return nil
}

func (c *fakeConn) Rollback(context.Context) error {
	if c.status == nestedtx.TxIdle {
		return nil
	}

	c.statements = append(c.statements, "ROLLBACK")
	c.status = nestedtx.TxIdle

	return nil
}

// unhashableConn is a Conn value type that can't be used as a map key.
type unhashableConn struct {
	*fakeConn
	tags []string
}
