// Package seckill runs flash-sale ordering. Submit admits or rejects a buyer
// against the cache store in one atomic script that also enqueues the order
// on a consumer-group stream; a single background consumer per process
// persists queued orders to the durable store and acknowledges them.
package seckill

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dianping/shophub/internal/idgen"
	"dianping/shophub/internal/lock"
)

type Pipeline struct {
	rdb       redis.UniversalClient
	ids       *idgen.Generator
	locker    *lock.Locker
	persister OrderPersister
	cfg       Config
	logger    *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// attempts counts failures per stream entry. Only the consumer
	// goroutine touches it.
	attempts map[string]int
}

func New(
	rdb redis.UniversalClient,
	ids *idgen.Generator,
	locker *lock.Locker,
	persister OrderPersister,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		rdb:       rdb,
		ids:       ids,
		locker:    locker,
		persister: persister,
		cfg:       cfg,
		logger:    logger.With(zap.String("stream", cfg.Stream), zap.String("consumer", cfg.Consumer)),
		attempts:  make(map[string]int),
	}
}

// Submit asks for one unit of voucherID on behalf of userID. An admitted
// request is already queued when Submit returns; persistence happens in the
// background.
func (p *Pipeline) Submit(ctx context.Context, voucherID, userID int64) (Admission, error) {
	orderID, err := p.ids.Next(ctx, p.cfg.IDPrefix)
	if err != nil {
		return Admission{}, fmt.Errorf("order id: %w", err)
	}

	keys := []string{p.stockKey(voucherID), p.orderKey(voucherID), p.cfg.Stream}
	code, err := admitScript.Run(ctx, p.rdb, keys, userID, voucherID, orderID).Int()
	if err != nil {
		return Admission{}, fmt.Errorf("admit user %d voucher %d: %w", userID, voucherID, err)
	}

	switch code {
	case admitOK:
		return Admission{OrderID: orderID}, nil
	case admitNoStock:
		return Admission{Reason: ReasonStockExhausted}, nil
	case admitDuplicate:
		return Admission{Reason: ReasonDuplicateOrder}, nil
	default:
		return Admission{}, fmt.Errorf("admit script returned %d", code)
	}
}

// Preload publishes the stock a voucher starts with.
func (p *Pipeline) Preload(ctx context.Context, voucherID int64, stock int) error {
	if stock < 0 {
		return fmt.Errorf("negative stock %d", stock)
	}
	if err := p.rdb.Set(ctx, p.stockKey(voucherID), stock, 0).Err(); err != nil {
		return fmt.Errorf("preload voucher %d: %w", voucherID, err)
	}
	return nil
}

func (p *Pipeline) Stats(ctx context.Context, voucherID int64) (Stats, error) {
	pipe := p.rdb.Pipeline()
	stock := pipe.Get(ctx, p.stockKey(voucherID))
	admitted := pipe.SCard(ctx, p.orderKey(voucherID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("stats voucher %d: %w", voucherID, err)
	}

	var s Stats
	if n, err := stock.Int64(); err == nil {
		s.Stock = n
	} else if !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("stock voucher %d: %w", voucherID, err)
	}
	s.Admitted = admitted.Val()
	return s, nil
}

func (p *Pipeline) stockKey(voucherID int64) string {
	return p.cfg.StockKeyPrefix + strconv.FormatInt(voucherID, 10)
}

func (p *Pipeline) orderKey(voucherID int64) string {
	return p.cfg.OrderKeyPrefix + strconv.FormatInt(voucherID, 10)
}
