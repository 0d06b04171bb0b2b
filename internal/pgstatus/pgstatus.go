// Package pgstatus translates the transaction status PostgreSQL reports in every ReadyForQuery message.
package pgstatus

import (
	"fmt"

	"github.com/Thiht/nestedtx"
)

const (
	Idle          byte = 'I'
	InTransaction byte = 'T'
	InError       byte = 'E'
)

func Parse(status byte) (nestedtx.TxStatus, error) {
	switch status {
	case Idle:
		return nestedtx.TxIdle, nil
	case InTransaction:
		return nestedtx.TxInTransaction, nil
	case InError:
		return nestedtx.TxInError, nil
	default:
		return 0, fmt.Errorf("unknown transaction status %q", status)
	}
}
