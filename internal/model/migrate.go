package model

import "gorm.io/gorm"

// AutoMigrate runs GORM auto-migration for all models. The one-order-per-user
// rule and the non-negative stock check live in the schema as well as in the
// seckill pipeline.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Shop{},
		&Voucher{},
		&SeckillVoucher{},
		&VoucherOrder{},
	)
}
