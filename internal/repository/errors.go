package repository

import "errors"

var (
	ErrOrderExists    = errors.New("voucher order already exists for user")
	ErrStockNotEnough = errors.New("seckill voucher stock not enough")
)
