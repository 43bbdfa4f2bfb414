package repository

import (
	"context"

	"dianping/shophub/internal/model"
)

type VoucherOrderRepository interface {
	// CreateSeckillOrder takes one unit of durable stock and inserts the
	// order in one transaction. It returns ErrOrderExists when the user
	// already holds an order for the voucher and ErrStockNotEnough when the
	// stock is gone; nothing is written in either case.
	CreateSeckillOrder(ctx context.Context, order *model.VoucherOrder) error
	GetByID(ctx context.Context, id int64) (*model.VoucherOrder, error)
	CountByVoucher(ctx context.Context, voucherID int64) (int64, error)
}
