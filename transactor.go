// Package nestedtx coordinates nested transaction scopes over a single database connection.
//
// Every scope entered on a connection gets its own savepoint, so a nested scope can be discarded
// without discarding the work of the scopes around it. Only the outermost scope touches the real
// transaction: it commits it when the last scope exits, unless the caller already had a
// transaction open before the first scope began, in which case the transaction is left to the caller.
package nestedtx

import "context"

type Transactor interface {
	WithinTransaction(context.Context, func(ctx context.Context) error) error
}

// NewFakeTransactor returns a Transactor that does nothing but run its callback.
// It can be used in tests where the transaction system itself doesn't need to be tested.
func NewFakeTransactor() FakeTransactor {
	return FakeTransactor{}
}

type FakeTransactor struct{}

func (FakeTransactor) WithinTransaction(ctx context.Context, txFunc func(context.Context) error) error {
	return txFunc(ctx)
}
