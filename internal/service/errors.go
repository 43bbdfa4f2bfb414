package service

import "errors"

var (
	ErrShopNotFound      = errors.New("shop not found")
	ErrVoucherNotFound   = errors.New("seckill voucher not found")
	ErrSeckillNotStarted = errors.New("seckill has not started")
	ErrSeckillEnded      = errors.New("seckill has ended")
	ErrInvalidVoucher    = errors.New("invalid seckill voucher")
)
