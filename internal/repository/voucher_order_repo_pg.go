package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"dianping/shophub/internal/model"
)

type pgVoucherOrderRepository struct {
	db *gorm.DB
}

func NewPGVoucherOrderRepository(db *gorm.DB) VoucherOrderRepository {
	return &pgVoucherOrderRepository{db: db}
}

func (r *pgVoucherOrderRepository) CreateSeckillOrder(ctx context.Context, order *model.VoucherOrder) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.VoucherOrder{}).
			Where("user_id = ? AND voucher_id = ?", order.UserID, order.VoucherID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrOrderExists
		}

		res := tx.Model(&model.SeckillVoucher{}).
			Where("voucher_id = ? AND stock > 0", order.VoucherID).
			UpdateColumn("stock", gorm.Expr("stock - 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStockNotEnough
		}

		if order.Status == 0 {
			order.Status = model.OrderStatusUnpaid
		}
		if err := tx.Create(order).Error; err != nil {
			// Another writer won the unique (user_id, voucher_id) index.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrOrderExists
			}
			return err
		}
		return nil
	})
}

func (r *pgVoucherOrderRepository) GetByID(ctx context.Context, id int64) (*model.VoucherOrder, error) {
	var order model.VoucherOrder
	if err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *pgVoucherOrderRepository) CountByVoucher(ctx context.Context, voucherID int64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.VoucherOrder{}).Where("voucher_id = ?", voucherID).Count(&n).Error
	return n, err
}
