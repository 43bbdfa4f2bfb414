package model

import "time"

type VoucherType int

const (
	VoucherTypeNormal  VoucherType = 0
	VoucherTypeSeckill VoucherType = 1
)

type Voucher struct {
	ID          int64       `gorm:"primaryKey" json:"id"`
	ShopID      int64       `gorm:"not null;index" json:"shop_id"`
	Title       string      `gorm:"size:255;not null" json:"title"`
	SubTitle    string      `gorm:"size:255" json:"sub_title"`
	Rules       string      `gorm:"size:1024" json:"rules"`
	PayValue    int64       `gorm:"not null" json:"pay_value"`
	ActualValue int64       `gorm:"not null" json:"actual_value"`
	Type        VoucherType `gorm:"type:smallint;not null;default:0" json:"type"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (Voucher) TableName() string { return "vouchers" }

// SeckillVoucher carries the flash-sale terms of a Voucher. Stock is the
// durable count; the cache store holds the admission copy.
type SeckillVoucher struct {
	VoucherID int64     `gorm:"primaryKey;autoIncrement:false" json:"voucher_id"`
	Stock     int       `gorm:"not null;check:chk_seckill_vouchers_stock,stock >= 0" json:"stock"`
	BeginTime time.Time `gorm:"not null" json:"begin_time"`
	EndTime   time.Time `gorm:"not null" json:"end_time"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SeckillVoucher) TableName() string { return "seckill_vouchers" }

// Active reports whether the sale window contains t.
func (v SeckillVoucher) Active(t time.Time) bool {
	return !t.Before(v.BeginTime) && t.Before(v.EndTime)
}
