package repository

import (
	"context"

	"gorm.io/gorm"

	"dianping/shophub/internal/model"
)

type pgVoucherRepository struct {
	db *gorm.DB
}

func NewPGVoucherRepository(db *gorm.DB) VoucherRepository {
	return &pgVoucherRepository{db: db}
}

func (r *pgVoucherRepository) CreateSeckill(ctx context.Context, v *model.Voucher, sv *model.SeckillVoucher) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v.Type = model.VoucherTypeSeckill
		if err := tx.Create(v).Error; err != nil {
			return err
		}
		sv.VoucherID = v.ID
		return tx.Create(sv).Error
	})
}

func (r *pgVoucherRepository) GetSeckill(ctx context.Context, voucherID int64) (*model.SeckillVoucher, error) {
	var sv model.SeckillVoucher
	if err := r.db.WithContext(ctx).First(&sv, "voucher_id = ?", voucherID).Error; err != nil {
		return nil, err
	}
	return &sv, nil
}
