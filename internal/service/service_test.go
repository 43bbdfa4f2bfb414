package service_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"dianping/shophub/internal/cache"
	"dianping/shophub/internal/cache/codec"
	"dianping/shophub/internal/config"
	"dianping/shophub/internal/idgen"
	"dianping/shophub/internal/lock"
	"dianping/shophub/internal/model"
	"dianping/shophub/internal/repository"
	"dianping/shophub/internal/seckill"
	"dianping/shophub/internal/service"
)

type ServiceSuite struct {
	suite.Suite

	mr  *miniredis.Miniredis
	rdb *redis.Client
	db  *gorm.DB

	shopRepo  repository.ShopRepository
	orderRepo repository.VoucherOrderRepository
	cache     *cache.Client
	pipeline  *seckill.Pipeline

	shops    service.ShopService
	vouchers service.VoucherService
	orders   service.VoucherOrderService
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.rdb = redis.NewClient(&redis.Options{Addr: s.mr.Addr(), PoolSize: 64})

	name := strings.NewReplacer("/", "_").Replace(s.T().Name())
	db, err := config.NewSQLiteDB(config.SQLiteConfig{
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
	})
	s.Require().NoError(err)
	s.Require().NoError(model.AutoMigrate(db))
	s.db = db

	locker := lock.New(s.rdb, nil)
	s.cache = cache.NewClient(
		repository.NewRedisKVStore(s.rdb), locker, codec.JSON{},
		cache.NewPool(2, 32, time.Second, nil),
		cache.Options{MutexRetryInterval: 10 * time.Millisecond},
		nil,
	)

	s.shopRepo = repository.NewPGShopRepository(db)
	s.orderRepo = repository.NewPGVoucherOrderRepository(db)

	s.pipeline = seckill.New(s.rdb, idgen.New(s.rdb), locker,
		service.NewOrderPersister(s.orderRepo),
		seckill.Config{Block: 50 * time.Millisecond, RetryBackoff: 5 * time.Millisecond},
		nil,
	)
	s.Require().NoError(s.pipeline.Start(context.Background()))

	s.shops = service.NewShopService(s.shopRepo, s.cache, service.ShopCacheConfig{TTL: 30 * time.Minute, HotTTL: 20 * time.Second}, nil)
	s.vouchers = service.NewVoucherService(repository.NewPGVoucherRepository(db), s.pipeline, s.cache, 10*time.Minute, nil)
	s.orders = service.NewVoucherOrderService(s.vouchers, s.pipeline, nil)
}

func (s *ServiceSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.NoError(s.pipeline.Stop(ctx))
	s.NoError(s.cache.Close(ctx))
	_ = s.rdb.Close()
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (s *ServiceSuite) addVoucher(stock int, begin, end time.Time) int64 {
	sv, err := s.vouchers.AddSeckillVoucher(context.Background(), service.AddSeckillVoucherInput{
		ShopID: 1, Title: "50 for 100", PayValue: 5000, ActualValue: 10000,
		Stock: stock, BeginTime: begin, EndTime: end,
	})
	s.Require().NoError(err)
	return sv.VoucherID
}

func (s *ServiceSuite) durableStock(voucherID int64) int {
	var sv model.SeckillVoucher
	s.Require().NoError(s.db.First(&sv, "voucher_id = ?", voucherID).Error)
	return sv.Stock
}

func (s *ServiceSuite) TestShopQueryCachesAndTombstones() {
	ctx := context.Background()
	shop := &model.Shop{Name: "Chaxiang", Area: "Wudaokou"}
	s.Require().NoError(s.shopRepo.Create(ctx, shop))

	got, err := s.shops.QueryByID(ctx, shop.ID)
	s.Require().NoError(err)
	s.Equal("Chaxiang", got.Name)
	s.True(s.mr.Exists(service.ShopKeyPrefix + fmt.Sprint(shop.ID)))

	_, err = s.shops.QueryByID(ctx, 4242)
	s.ErrorIs(err, service.ErrShopNotFound)
	raw, err := s.mr.Get(service.ShopKeyPrefix + "4242")
	s.Require().NoError(err)
	s.Empty(raw, "unknown shop is tombstoned")
}

func (s *ServiceSuite) TestShopUpdateInvalidatesAndRefreshesHot() {
	ctx := context.Background()
	shop := &model.Shop{Name: "Old name"}
	s.Require().NoError(s.shopRepo.Create(ctx, shop))

	_, err := s.shops.QueryByID(ctx, shop.ID)
	s.Require().NoError(err)
	s.Require().NoError(s.shops.WarmUp(ctx, shop.ID))

	shop.Name = "New name"
	s.Require().NoError(s.shops.Update(ctx, shop))
	s.False(s.mr.Exists(service.ShopKeyPrefix + fmt.Sprint(shop.ID)))

	got, err := s.shops.QueryByID(ctx, shop.ID)
	s.Require().NoError(err)
	s.Equal("New name", got.Name)

	hot, err := s.shops.QueryHotByID(ctx, shop.ID)
	s.Require().NoError(err)
	s.Equal("New name", hot.Name)

	s.ErrorIs(s.shops.Update(ctx, &model.Shop{ID: 999, Name: "x"}), service.ErrShopNotFound)
}

func (s *ServiceSuite) TestHotShopRequiresWarmUp() {
	ctx := context.Background()
	s.Require().NoError(s.shopRepo.Create(ctx, &model.Shop{Name: "A"}))
	s.Require().NoError(s.shopRepo.Create(ctx, &model.Shop{Name: "B"}))

	ids, err := s.shopRepo.ListIDs(ctx, 0)
	s.Require().NoError(err)
	_, err = s.shops.QueryHotByID(ctx, ids[0])
	s.ErrorIs(err, service.ErrShopNotFound)

	n, err := s.shops.WarmUpTop(ctx, 10)
	s.Require().NoError(err)
	s.Equal(2, n)

	got, err := s.shops.QueryHotByID(ctx, ids[1])
	s.Require().NoError(err)
	s.Equal("B", got.Name)
}

func (s *ServiceSuite) TestAddSeckillVoucherPublishesStock() {
	now := time.Now()
	id := s.addVoucher(100, now.Add(-time.Minute), now.Add(time.Hour))

	st, err := s.vouchers.Stats(context.Background(), id)
	s.Require().NoError(err)
	s.EqualValues(100, st.Stock)

	sv, err := s.vouchers.GetSeckillVoucher(context.Background(), id)
	s.Require().NoError(err)
	s.Equal(100, sv.Stock)

	_, err = s.vouchers.AddSeckillVoucher(context.Background(), service.AddSeckillVoucherInput{
		Title: "bad window", Stock: 1, BeginTime: now, EndTime: now,
	})
	s.ErrorIs(err, service.ErrInvalidVoucher)
}

func (s *ServiceSuite) TestSeckillWindow() {
	ctx := context.Background()
	now := time.Now()

	future := s.addVoucher(10, now.Add(time.Hour), now.Add(2*time.Hour))
	_, err := s.orders.Seckill(ctx, future, 1)
	s.ErrorIs(err, service.ErrSeckillNotStarted)

	past := s.addVoucher(10, now.Add(-2*time.Hour), now.Add(-time.Hour))
	_, err = s.orders.Seckill(ctx, past, 1)
	s.ErrorIs(err, service.ErrSeckillEnded)

	_, err = s.orders.Seckill(ctx, 987654, 1)
	s.ErrorIs(err, service.ErrVoucherNotFound)
}

func (s *ServiceSuite) TestSeckillNeverOversells() {
	ctx := context.Background()
	now := time.Now()
	const stock, buyers = 5, 40
	voucherID := s.addVoucher(stock, now.Add(-time.Minute), now.Add(time.Hour))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		orderIDs []int64
		rejected int
	)
	wg.Add(buyers)
	for i := range buyers {
		go func() {
			defer wg.Done()
			id, err := s.orders.Seckill(ctx, voucherID, int64(1000+i))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.ErrorIs(err, seckill.ErrStockExhausted)
				rejected++
				return
			}
			orderIDs = append(orderIDs, id)
		}()
	}
	wg.Wait()

	s.Len(orderIDs, stock)
	s.Equal(buyers-stock, rejected)

	s.Eventually(func() bool {
		n, err := s.orderRepo.CountByVoucher(ctx, voucherID)
		return err == nil && n == stock
	}, 5*time.Second, 20*time.Millisecond)
	s.Equal(0, s.durableStock(voucherID))

	for _, id := range orderIDs {
		order, err := s.orderRepo.GetByID(ctx, id)
		s.Require().NoError(err)
		s.Equal(voucherID, order.VoucherID)
	}
}

func (s *ServiceSuite) TestSeckillOneOrderPerUser() {
	ctx := context.Background()
	now := time.Now()
	voucherID := s.addVoucher(10, now.Add(-time.Minute), now.Add(time.Hour))

	results := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	for i := range 2 {
		go func() {
			defer wg.Done()
			_, results[i] = s.orders.Seckill(ctx, voucherID, 77)
		}()
	}
	wg.Wait()

	failures := 0
	for _, err := range results {
		if err != nil {
			s.ErrorIs(err, seckill.ErrDuplicateOrder)
			failures++
		}
	}
	s.Equal(1, failures)

	s.Eventually(func() bool {
		n, err := s.orderRepo.CountByVoucher(ctx, voucherID)
		return err == nil && n == 1
	}, 5*time.Second, 20*time.Millisecond)
	s.Equal(9, s.durableStock(voucherID))
}

func (s *ServiceSuite) TestPersisterMapsDurableRefusals() {
	ctx := context.Background()
	now := time.Now()
	voucherID := s.addVoucher(1, now.Add(-time.Minute), now.Add(time.Hour))
	p := service.NewOrderPersister(s.orderRepo)

	s.Require().NoError(p.PersistOrder(ctx, seckill.OrderTask{OrderID: 1, UserID: 1, VoucherID: voucherID}))
	s.ErrorIs(p.PersistOrder(ctx, seckill.OrderTask{OrderID: 2, UserID: 1, VoucherID: voucherID}), seckill.ErrDuplicateOrder)
	s.ErrorIs(p.PersistOrder(ctx, seckill.OrderTask{OrderID: 3, UserID: 2, VoucherID: voucherID}), seckill.ErrStockExhausted)
}
