package nestedtx

import "context"

// Conn is the capability a scope needs from a database connection.
//
// Implementations are compared by identity: the same connection must always be passed as the
// same Conn value, which in practice means a pointer.
type Conn interface {
	Exec(ctx context.Context, query string, args ...any) error

	// Autocommit reports whether statements are committed as soon as they run.
	// With autocommit off, the first statement on an idle connection opens a transaction.
	Autocommit() bool
	SetAutocommit(ctx context.Context, autocommit bool) error

	TxStatus(ctx context.Context) (TxStatus, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxStatus is the driver-reported transaction state of a connection.
type TxStatus int

const (
	TxIdle TxStatus = iota
	TxInTransaction
	// TxInError means a statement failed inside the open transaction and the driver
	// refuses further work until it's rolled back, at least to a savepoint.
	TxInError
)

func (s TxStatus) String() string {
	switch s {
	case TxIdle:
		return "idle"
	case TxInTransaction:
		return "in transaction"
	case TxInError:
		return "in error"
	default:
		return "unknown"
	}
}

// Outcome tells Exit how the body of a scope ended.
type Outcome int

const (
	Succeeded Outcome = iota
	Failed
)

func (o Outcome) String() string {
	if o == Failed {
		return "failed"
	}

	return "succeeded"
}

// ErrAutocommitInTransaction is returned by Conn implementations when the autocommit mode is
// changed while a transaction is open.
var ErrAutocommitInTransaction = usageError("autocommit cannot be changed inside a transaction")

type unwrapper interface {
	Unwrap() Conn
}

// underlying returns the connection a decorator such as GuardedConn wraps, so that
// the registry sees a single identity per physical connection.
func underlying(conn Conn) Conn {
	for {
		u, ok := conn.(unwrapper)
		if !ok {
			return conn
		}
		conn = u.Unwrap()
	}
}
