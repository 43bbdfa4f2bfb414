package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dianping/shophub/internal/model"
	"dianping/shophub/internal/repository"
	"dianping/shophub/internal/seckill"
)

type VoucherOrderService interface {
	// Seckill returns the new order id, or seckill.ErrStockExhausted /
	// seckill.ErrDuplicateOrder when the buyer is turned away. The order is
	// persisted asynchronously.
	Seckill(ctx context.Context, voucherID, userID int64) (int64, error)
}

type voucherOrderService struct {
	vouchers VoucherService
	pipeline SeckillPipeline
	now      func() time.Time
	logger   *zap.Logger
}

func NewVoucherOrderService(vouchers VoucherService, pipeline SeckillPipeline, logger *zap.Logger) VoucherOrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &voucherOrderService{vouchers: vouchers, pipeline: pipeline, now: time.Now, logger: logger}
}

func (s *voucherOrderService) Seckill(ctx context.Context, voucherID, userID int64) (int64, error) {
	sv, err := s.vouchers.GetSeckillVoucher(ctx, voucherID)
	if err != nil {
		return 0, err
	}

	now := s.now()
	if now.Before(sv.BeginTime) {
		return 0, ErrSeckillNotStarted
	}
	if !now.Before(sv.EndTime) {
		return 0, ErrSeckillEnded
	}

	adm, err := s.pipeline.Submit(ctx, voucherID, userID)
	if err != nil {
		return 0, err
	}
	if !adm.Admitted() {
		s.logger.Debug("seckill rejected",
			zap.Int64("voucher_id", voucherID),
			zap.Int64("user_id", userID),
			zap.String("reason", string(adm.Reason)),
		)
		return 0, adm.Reason.Err()
	}
	return adm.OrderID, nil
}

type orderPersister struct {
	orderRepo repository.VoucherOrderRepository
}

// NewOrderPersister stores seckill order tasks as voucher orders, reporting
// durable refusals with the seckill sentinels.
func NewOrderPersister(orderRepo repository.VoucherOrderRepository) seckill.OrderPersister {
	return &orderPersister{orderRepo: orderRepo}
}

func (p *orderPersister) PersistOrder(ctx context.Context, task seckill.OrderTask) error {
	err := p.orderRepo.CreateSeckillOrder(ctx, &model.VoucherOrder{
		ID:        task.OrderID,
		UserID:    task.UserID,
		VoucherID: task.VoucherID,
		Status:    model.OrderStatusUnpaid,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrOrderExists):
		return fmt.Errorf("%w: %w", seckill.ErrDuplicateOrder, err)
	case errors.Is(err, repository.ErrStockNotEnough):
		return fmt.Errorf("%w: %w", seckill.ErrStockExhausted, err)
	default:
		return err
	}
}
