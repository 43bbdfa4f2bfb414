package repository

import (
	"context"

	"dianping/shophub/internal/model"
)

type VoucherRepository interface {
	// CreateSeckill stores the voucher and its flash-sale terms together.
	// sv.VoucherID is set from the created voucher.
	CreateSeckill(ctx context.Context, v *model.Voucher, sv *model.SeckillVoucher) error
	GetSeckill(ctx context.Context, voucherID int64) (*model.SeckillVoucher, error)
}
