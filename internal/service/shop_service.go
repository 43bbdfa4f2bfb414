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
)

const (
	ShopKeyPrefix    = "cache:shop:"
	HotShopKeyPrefix = "cache:shop:hot:"
)

type ShopService interface {
	// QueryByID reads through the cache with a physical TTL. Unknown ids
	// are remembered for the tombstone TTL.
	QueryByID(ctx context.Context, id int64) (*model.Shop, error)
	// QueryHotByID serves pre-warmed shops and never waits on a rebuild.
	// A shop that was never warmed is reported as not found.
	QueryHotByID(ctx context.Context, id int64) (*model.Shop, error)
	WarmUp(ctx context.Context, id int64) error
	WarmUpTop(ctx context.Context, n int) (int, error)
	// Update writes the database first, then drops the cached copy.
	Update(ctx context.Context, shop *model.Shop) error
}

type ShopCacheConfig struct {
	TTL    time.Duration
	HotTTL time.Duration
}

type shopService struct {
	shopRepo repository.ShopRepository
	cache    *cache.Client
	cfg      ShopCacheConfig
	logger   *zap.Logger
}

func NewShopService(
	shopRepo repository.ShopRepository,
	cc *cache.Client,
	cfg ShopCacheConfig,
	logger *zap.Logger,
) ShopService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &shopService{shopRepo: shopRepo, cache: cc, cfg: cfg, logger: logger}
}

func (s *shopService) loadShop(ctx context.Context, id int64) (model.Shop, bool, error) {
	shop, err := s.shopRepo.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Shop{}, false, nil
	}
	if err != nil {
		return model.Shop{}, false, err
	}
	return *shop, true, nil
}

func (s *shopService) QueryByID(ctx context.Context, id int64) (*model.Shop, error) {
	res, err := cache.LoadOrCompute(ctx, s.cache, ShopKeyPrefix, id, s.loadShop, s.cfg.TTL)
	if err != nil {
		return nil, err
	}
	if !res.Found() {
		return nil, ErrShopNotFound
	}
	return &res.Value, nil
}

func (s *shopService) QueryHotByID(ctx context.Context, id int64) (*model.Shop, error) {
	res, err := cache.LoadWithLogicalExpiry(ctx, s.cache, HotShopKeyPrefix, id, s.loadShop, s.cfg.HotTTL)
	if err != nil {
		return nil, err
	}
	if !res.Found() {
		return nil, ErrShopNotFound
	}
	return &res.Value, nil
}

func (s *shopService) WarmUp(ctx context.Context, id int64) error {
	shop, found, err := s.loadShop(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrShopNotFound
	}
	return s.cache.StoreWithLogicalExpiry(ctx, cache.Key(HotShopKeyPrefix, id), shop, s.cfg.HotTTL)
}

func (s *shopService) WarmUpTop(ctx context.Context, n int) (int, error) {
	ids, err := s.shopRepo.ListIDs(ctx, n)
	if err != nil {
		return 0, err
	}
	warmed := 0
	for _, id := range ids {
		if err := s.WarmUp(ctx, id); err != nil {
			return warmed, fmt.Errorf("warm shop %d: %w", id, err)
		}
		warmed++
	}
	return warmed, nil
}

func (s *shopService) Update(ctx context.Context, shop *model.Shop) error {
	if shop.ID <= 0 {
		return ErrShopNotFound
	}
	if err := s.shopRepo.Update(ctx, shop); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrShopNotFound
		}
		return err
	}

	if err := s.cache.Invalidate(ctx, cache.Key(ShopKeyPrefix, shop.ID)); err != nil {
		return fmt.Errorf("invalidate shop %d: %w", shop.ID, err)
	}

	// Hot entries are never dropped, only replaced.
	hotKey := cache.Key(HotShopKeyPrefix, shop.ID)
	hot, err := s.cache.Contains(ctx, hotKey)
	if err != nil {
		return fmt.Errorf("check hot shop %d: %w", shop.ID, err)
	}
	if hot {
		if err := s.WarmUp(ctx, shop.ID); err != nil {
			return fmt.Errorf("refresh hot shop %d: %w", shop.ID, err)
		}
	}
	s.logger.Debug("shop updated", zap.Int64("shop_id", shop.ID), zap.Bool("hot", hot))
	return nil
}
