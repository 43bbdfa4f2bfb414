package model

import "time"

type OrderStatus int

const (
	OrderStatusUnpaid   OrderStatus = 1
	OrderStatusPaid     OrderStatus = 2
	OrderStatusUsed     OrderStatus = 3
	OrderStatusCanceled OrderStatus = 4
)

// VoucherOrder ids come from the id generator, never from the database.
type VoucherOrder struct {
	ID        int64       `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UserID    int64       `gorm:"not null;uniqueIndex:idx_voucher_orders_user_voucher" json:"user_id"`
	VoucherID int64       `gorm:"not null;uniqueIndex:idx_voucher_orders_user_voucher" json:"voucher_id"`
	Status    OrderStatus `gorm:"type:smallint;not null;default:1" json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (VoucherOrder) TableName() string { return "voucher_orders" }
