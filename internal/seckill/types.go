package seckill

import (
	"context"
	"errors"
)

var (
	ErrStockExhausted = errors.New("seckill: stock exhausted")
	ErrDuplicateOrder = errors.New("seckill: duplicate order")
	ErrAlreadyStarted = errors.New("seckill: consumer already started")
)

// Reason is why a submission was turned away. The zero value means admitted.
type Reason string

const (
	ReasonStockExhausted Reason = "stock_exhausted"
	ReasonDuplicateOrder Reason = "duplicate_order"
)

// Err maps r to its sentinel, or nil for the zero Reason.
func (r Reason) Err() error {
	switch r {
	case ReasonStockExhausted:
		return ErrStockExhausted
	case ReasonDuplicateOrder:
		return ErrDuplicateOrder
	default:
		return nil
	}
}

// Admission is the answer to Submit: either an order id or a rejection.
type Admission struct {
	OrderID int64
	Reason  Reason
}

func (a Admission) Admitted() bool { return a.Reason == "" }

// OrderTask is the stream payload for one admitted order.
type OrderTask struct {
	OrderID   int64
	UserID    int64
	VoucherID int64
}

// OrderPersister writes an admitted order to the durable store. It returns
// ErrDuplicateOrder or ErrStockExhausted (possibly wrapped) when the durable
// store refuses the order; those tasks are dropped. An error wrapped with
// backoff.Permanent also drops the task. Any other error is retried until
// the order is stored.
type OrderPersister interface {
	PersistOrder(ctx context.Context, task OrderTask) error
}

// PersisterFunc adapts a function to OrderPersister.
type PersisterFunc func(ctx context.Context, task OrderTask) error

func (f PersisterFunc) PersistOrder(ctx context.Context, task OrderTask) error { return f(ctx, task) }

// Stats is a cache-store view of one voucher's flash sale.
type Stats struct {
	Stock    int64
	Admitted int64
}
