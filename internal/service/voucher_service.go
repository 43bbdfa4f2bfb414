package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"dianping/shophub/internal/cache"
	"dianping/shophub/internal/model"
	"dianping/shophub/internal/repository"
	"dianping/shophub/internal/seckill"
)

const SeckillVoucherKeyPrefix = "cache:seckill-voucher:"

// SeckillPipeline is the part of *seckill.Pipeline the services drive.
type SeckillPipeline interface {
	Submit(ctx context.Context, voucherID, userID int64) (seckill.Admission, error)
	Preload(ctx context.Context, voucherID int64, stock int) error
	Stats(ctx context.Context, voucherID int64) (seckill.Stats, error)
}

type AddSeckillVoucherInput struct {
	ShopID      int64
	Title       string
	SubTitle    string
	Rules       string
	PayValue    int64
	ActualValue int64
	Stock       int
	BeginTime   time.Time
	EndTime     time.Time
}

type VoucherService interface {
	// AddSeckillVoucher stores the voucher and publishes its stock to the
	// seckill pipeline.
	AddSeckillVoucher(ctx context.Context, input AddSeckillVoucherInput) (*model.SeckillVoucher, error)
	// GetSeckillVoucher returns the cached sale terms. The cached stock is
	// informational only; Stats has the live figure.
	GetSeckillVoucher(ctx context.Context, voucherID int64) (*model.SeckillVoucher, error)
	Stats(ctx context.Context, voucherID int64) (seckill.Stats, error)
}

type voucherService struct {
	voucherRepo repository.VoucherRepository
	pipeline    SeckillPipeline
	cache       *cache.Client
	ttl         time.Duration
	logger      *zap.Logger
}

func NewVoucherService(
	voucherRepo repository.VoucherRepository,
	pipeline SeckillPipeline,
	cc *cache.Client,
	ttl time.Duration,
	logger *zap.Logger,
) VoucherService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &voucherService{
		voucherRepo: voucherRepo,
		pipeline:    pipeline,
		cache:       cc,
		ttl:         ttl,
		logger:      logger,
	}
}

func (s *voucherService) AddSeckillVoucher(ctx context.Context, input AddSeckillVoucherInput) (*model.SeckillVoucher, error) {
	if input.Stock < 0 || input.Title == "" || !input.EndTime.After(input.BeginTime) {
		return nil, ErrInvalidVoucher
	}

	v := &model.Voucher{
		ShopID:      input.ShopID,
		Title:       input.Title,
		SubTitle:    input.SubTitle,
		Rules:       input.Rules,
		PayValue:    input.PayValue,
		ActualValue: input.ActualValue,
	}
	sv := &model.SeckillVoucher{
		Stock:     input.Stock,
		BeginTime: input.BeginTime,
		EndTime:   input.EndTime,
	}
	if err := s.voucherRepo.CreateSeckill(ctx, v, sv); err != nil {
		return nil, err
	}

	if err := s.pipeline.Preload(ctx, sv.VoucherID, sv.Stock); err != nil {
		return nil, fmt.Errorf("publish stock: %w", err)
	}
	// A lookup that raced the insert may have left a tombstone.
	if err := s.cache.Invalidate(ctx, cache.Key(SeckillVoucherKeyPrefix, sv.VoucherID)); err != nil {
		s.logger.Warn("drop voucher cache", zap.Int64("voucher_id", sv.VoucherID), zap.Error(err))
	}

	s.logger.Info("seckill voucher added",
		zap.Int64("voucher_id", sv.VoucherID),
		zap.Int("stock", sv.Stock),
		zap.Time("begin", sv.BeginTime),
		zap.Time("end", sv.EndTime),
	)
	return sv, nil
}

func (s *voucherService) loadSeckillVoucher(ctx context.Context, id int64) (model.SeckillVoucher, bool, error) {
	sv, err := s.voucherRepo.GetSeckill(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.SeckillVoucher{}, false, nil
	}
	if err != nil {
		return model.SeckillVoucher{}, false, err
	}
	return *sv, true, nil
}

func (s *voucherService) GetSeckillVoucher(ctx context.Context, voucherID int64) (*model.SeckillVoucher, error) {
	res, err := cache.LoadWithMutex(ctx, s.cache, SeckillVoucherKeyPrefix, voucherID, s.loadSeckillVoucher, s.ttl)
	if err != nil {
		return nil, err
	}
	if !res.Found() {
		return nil, ErrVoucherNotFound
	}
	return &res.Value, nil
}

func (s *voucherService) Stats(ctx context.Context, voucherID int64) (seckill.Stats, error) {
	return s.pipeline.Stats(ctx, voucherID)
}
