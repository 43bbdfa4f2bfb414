package seckill_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"dianping/shophub/internal/idgen"
	"dianping/shophub/internal/lock"
	"dianping/shophub/internal/seckill"
)

type recorder struct {
	mu    sync.Mutex
	tasks []seckill.OrderTask
	calls atomic.Int32
	fail  func(call int32, t seckill.OrderTask) error
}

func (r *recorder) PersistOrder(_ context.Context, t seckill.OrderTask) error {
	n := r.calls.Add(1)
	if r.fail != nil {
		if err := r.fail(n, t); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.tasks = append(r.tasks, t)
	r.mu.Unlock()
	return nil
}

func (r *recorder) persisted() []seckill.OrderTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]seckill.OrderTask(nil), r.tasks...)
}

type PipelineSuite struct {
	suite.Suite
	mr  *miniredis.Miniredis
	rdb *redis.Client
	rec *recorder
	cfg seckill.Config
	p   *seckill.Pipeline
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.rdb = redis.NewClient(&redis.Options{Addr: s.mr.Addr(), PoolSize: 64})
	s.rec = &recorder{}
	s.cfg = seckill.Config{
		Consumer:     "c1",
		Block:        50 * time.Millisecond,
		LockTTL:      time.Second,
		AlertAfter:   3,
		RetryBackoff: 5 * time.Millisecond,
		PendingIdle:  time.Millisecond,
	}
	s.p = s.newPipeline(s.cfg)
}

func (s *PipelineSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Require().NoError(s.p.Stop(ctx))
	_ = s.rdb.Close()
}

func (s *PipelineSuite) newPipeline(cfg seckill.Config) *seckill.Pipeline {
	return seckill.New(s.rdb, idgen.New(s.rdb), lock.New(s.rdb, nil), s.rec, cfg, nil)
}

func (s *PipelineSuite) pendingCount() int64 {
	res, err := s.rdb.XPending(context.Background(), seckill.DefaultStream, seckill.DefaultGroup).Result()
	s.Require().NoError(err)
	return res.Count
}

func (s *PipelineSuite) submitAll(voucherID int64, users []int64) []seckill.Admission {
	out := make([]seckill.Admission, len(users))
	var wg sync.WaitGroup
	wg.Add(len(users))
	for i, u := range users {
		go func() {
			defer wg.Done()
			a, err := s.p.Submit(context.Background(), voucherID, u)
			s.NoError(err)
			out[i] = a
		}()
	}
	wg.Wait()
	return out
}

func (s *PipelineSuite) TestSingleUnitFiveBuyers() {
	ctx := context.Background()
	s.Require().NoError(s.p.Preload(ctx, 1, 1))

	adm := s.submitAll(1, []int64{1, 2, 3, 4, 5})

	admitted, exhausted := 0, 0
	for _, a := range adm {
		switch {
		case a.Admitted():
			admitted++
			s.NotZero(a.OrderID)
		case a.Reason == seckill.ReasonStockExhausted:
			exhausted++
			s.ErrorIs(a.Reason.Err(), seckill.ErrStockExhausted)
		}
	}
	s.Equal(1, admitted)
	s.Equal(4, exhausted)

	s.Require().NoError(s.p.Start(ctx))
	s.Eventually(func() bool { return len(s.rec.persisted()) == 1 }, 3*time.Second, 10*time.Millisecond)
	s.Eventually(func() bool { return s.pendingCount() == 0 }, 3*time.Second, 10*time.Millisecond)

	st, err := s.p.Stats(ctx, 1)
	s.Require().NoError(err)
	s.Equal(seckill.Stats{Stock: 0, Admitted: 1}, st)
}

func (s *PipelineSuite) TestStockSmallerThanDemand() {
	ctx := context.Background()
	const stock, buyers = 7, 30
	s.Require().NoError(s.p.Preload(ctx, 2, stock))
	s.Require().NoError(s.p.Start(ctx))

	users := make([]int64, buyers)
	for i := range users {
		users[i] = int64(100 + i)
	}
	adm := s.submitAll(2, users)

	ids := map[int64]bool{}
	rejected := 0
	for _, a := range adm {
		if a.Admitted() {
			ids[a.OrderID] = true
			continue
		}
		s.Equal(seckill.ReasonStockExhausted, a.Reason)
		rejected++
	}
	s.Len(ids, stock, "order ids are distinct")
	s.Equal(buyers-stock, rejected)

	s.Eventually(func() bool { return len(s.rec.persisted()) == stock }, 3*time.Second, 10*time.Millisecond)
	for _, t := range s.rec.persisted() {
		s.True(ids[t.OrderID])
		s.EqualValues(2, t.VoucherID)
	}

	st, err := s.p.Stats(ctx, 2)
	s.Require().NoError(err)
	s.Zero(st.Stock)
	s.EqualValues(stock, st.Admitted)
}

func (s *PipelineSuite) TestSameBuyerTwice() {
	ctx := context.Background()
	s.Require().NoError(s.p.Preload(ctx, 3, 10))

	adm := s.submitAll(3, []int64{9, 9})
	s.Equal(1, countAdmitted(adm))
	for _, a := range adm {
		if !a.Admitted() {
			s.Equal(seckill.ReasonDuplicateOrder, a.Reason)
		}
	}

	a, err := s.p.Submit(ctx, 3, 9)
	s.Require().NoError(err)
	s.Equal(seckill.ReasonDuplicateOrder, a.Reason)

	st, err := s.p.Stats(ctx, 3)
	s.Require().NoError(err)
	s.EqualValues(9, st.Stock)
}

func (s *PipelineSuite) TestUnknownVoucherHasNoStock() {
	a, err := s.p.Submit(context.Background(), 404, 1)
	s.Require().NoError(err)
	s.Equal(seckill.ReasonStockExhausted, a.Reason)
	s.Zero(a.OrderID)
}

func (s *PipelineSuite) TestPreloadRejectsNegativeStock() {
	s.Error(s.p.Preload(context.Background(), 1, -1))
}

func (s *PipelineSuite) TestTransientFailureIsRetried() {
	ctx := context.Background()
	s.rec.fail = func(call int32, _ seckill.OrderTask) error {
		if call < 3 {
			return errors.New("db unavailable")
		}
		return nil
	}
	s.p = s.newPipeline(seckill.Config{
		Consumer: "c1", Block: 50 * time.Millisecond, AlertAfter: 5, RetryBackoff: 5 * time.Millisecond,
	})
	s.Require().NoError(s.p.Preload(ctx, 4, 1))
	s.Require().NoError(s.p.Start(ctx))

	a, err := s.p.Submit(ctx, 4, 1)
	s.Require().NoError(err)
	s.True(a.Admitted())

	s.Eventually(func() bool { return len(s.rec.persisted()) == 1 }, 3*time.Second, 10*time.Millisecond)
	s.EqualValues(3, s.rec.calls.Load())
	s.Eventually(func() bool { return s.pendingCount() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func (s *PipelineSuite) TestOutageOutlastingAlertThresholdStillPersists() {
	ctx := context.Background()
	var recovered atomic.Bool
	s.rec.fail = func(int32, seckill.OrderTask) error {
		if !recovered.Load() {
			return errors.New("db: connection refused")
		}
		return nil
	}
	s.p = s.newPipeline(seckill.Config{})
	s.Require().NoError(s.p.Preload(ctx, 5, 1))
	s.Require().NoError(s.p.Start(ctx))

	a, err := s.p.Submit(ctx, 5, 42)
	s.Require().NoError(err)
	s.Require().True(a.Admitted())

	s.Eventually(func() bool { return s.rec.calls.Load() > seckill.DefaultAlertAfter }, 5*time.Second, 10*time.Millisecond)
	s.Empty(s.rec.persisted())
	s.EqualValues(1, s.pendingCount(), "failing entry stays pending")

	recovered.Store(true)
	s.Eventually(func() bool { return len(s.rec.persisted()) == 1 }, 10*time.Second, 20*time.Millisecond)
	s.Equal(seckill.OrderTask{OrderID: a.OrderID, UserID: 42, VoucherID: 5}, s.rec.persisted()[0])
	s.Eventually(func() bool { return s.pendingCount() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func (s *PipelineSuite) TestPermanentFailureIsAcknowledged() {
	ctx := context.Background()
	s.rec.fail = func(int32, seckill.OrderTask) error {
		return backoff.Permanent(errors.New("order row rejected"))
	}
	s.Require().NoError(s.p.Preload(ctx, 11, 1))
	s.Require().NoError(s.p.Start(ctx))

	_, err := s.p.Submit(ctx, 11, 1)
	s.Require().NoError(err)

	s.Eventually(func() bool { return s.rec.calls.Load() == 1 && s.pendingCount() == 0 }, 3*time.Second, 10*time.Millisecond)
	s.Never(func() bool { return s.rec.calls.Load() > 1 }, 150*time.Millisecond, 20*time.Millisecond)
	s.Empty(s.rec.persisted())
}

func (s *PipelineSuite) TestRefusedOrderIsAcknowledged() {
	ctx := context.Background()
	s.rec.fail = func(int32, seckill.OrderTask) error {
		return fmt.Errorf("insert: %w", seckill.ErrDuplicateOrder)
	}
	s.Require().NoError(s.p.Preload(ctx, 6, 1))
	s.Require().NoError(s.p.Start(ctx))

	_, err := s.p.Submit(ctx, 6, 1)
	s.Require().NoError(err)

	s.Eventually(func() bool { return s.rec.calls.Load() == 1 && s.pendingCount() == 0 }, 3*time.Second, 10*time.Millisecond)
	s.Empty(s.rec.persisted())
}

func (s *PipelineSuite) TestMalformedEntryIsAcknowledged() {
	ctx := context.Background()
	s.Require().NoError(s.p.Start(ctx))

	s.Require().NoError(s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: seckill.DefaultStream,
		Values: map[string]any{"userId": "abc"},
	}).Err())

	s.Eventually(func() bool { return s.pendingCount() == 0 }, 3*time.Second, 10*time.Millisecond)
	s.Zero(s.rec.calls.Load())
}

func (s *PipelineSuite) TestOwnPendingEntriesReplayedOnStart() {
	ctx := context.Background()
	s.Require().NoError(s.p.Preload(ctx, 7, 2))
	s.Require().NoError(s.rdb.XGroupCreateMkStream(ctx, seckill.DefaultStream, seckill.DefaultGroup, "0").Err())

	a, err := s.p.Submit(ctx, 7, 1)
	s.Require().NoError(err)

	// Delivered to c1 but never acknowledged, as if c1 crashed mid-task.
	_, err = s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group: seckill.DefaultGroup, Consumer: "c1", Streams: []string{seckill.DefaultStream, ">"}, Count: 1, Block: -1,
	}).Result()
	s.Require().NoError(err)
	s.EqualValues(1, s.pendingCount())

	s.Require().NoError(s.p.Start(ctx), "existing group is reused")
	s.Eventually(func() bool { return len(s.rec.persisted()) == 1 }, 3*time.Second, 10*time.Millisecond)
	s.Equal(a.OrderID, s.rec.persisted()[0].OrderID)
	s.Eventually(func() bool { return s.pendingCount() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func (s *PipelineSuite) TestIdleEntriesOfDeadConsumerClaimed() {
	ctx := context.Background()
	s.Require().NoError(s.p.Preload(ctx, 8, 2))
	s.Require().NoError(s.rdb.XGroupCreateMkStream(ctx, seckill.DefaultStream, seckill.DefaultGroup, "0").Err())

	_, err := s.p.Submit(ctx, 8, 1)
	s.Require().NoError(err)
	_, err = s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group: seckill.DefaultGroup, Consumer: "dead", Streams: []string{seckill.DefaultStream, ">"}, Count: 1, Block: -1,
	}).Result()
	s.Require().NoError(err)
	time.Sleep(20 * time.Millisecond)

	s.Require().NoError(s.p.Start(ctx))
	s.Eventually(func() bool { return len(s.rec.persisted()) == 1 }, 3*time.Second, 10*time.Millisecond)
	s.Eventually(func() bool { return s.pendingCount() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func (s *PipelineSuite) TestPeerEntriesClaimedWhileRunning() {
	ctx := context.Background()
	s.p = s.newPipeline(seckill.Config{
		Consumer: "c1", Block: 50 * time.Millisecond, RetryBackoff: 5 * time.Millisecond, PendingIdle: 100 * time.Millisecond,
	})
	gate := make(chan struct{})
	release := sync.OnceFunc(func() { close(gate) })
	defer release()
	s.rec.fail = func(call int32, _ seckill.OrderTask) error {
		if call == 1 {
			<-gate
		}
		return nil
	}
	s.Require().NoError(s.p.Preload(ctx, 12, 2))
	s.Require().NoError(s.p.Start(ctx))

	_, err := s.p.Submit(ctx, 12, 1)
	s.Require().NoError(err)
	s.Eventually(func() bool { return s.rec.calls.Load() == 1 }, 3*time.Second, 5*time.Millisecond)

	// c1 is busy, so the peer gets the next entry and then goes away.
	second, err := s.p.Submit(ctx, 12, 2)
	s.Require().NoError(err)
	streams, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group: seckill.DefaultGroup, Consumer: "peer", Streams: []string{seckill.DefaultStream, ">"}, Count: 1, Block: -1,
	}).Result()
	s.Require().NoError(err)
	s.Require().Len(streams[0].Messages, 1)
	release()

	s.Eventually(func() bool { return len(s.rec.persisted()) == 2 }, 5*time.Second, 10*time.Millisecond)
	s.Equal(second.OrderID, s.rec.persisted()[1].OrderID)
	s.Eventually(func() bool { return s.pendingCount() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func (s *PipelineSuite) TestStartTwiceAndRestart() {
	ctx := context.Background()
	s.Require().NoError(s.p.Start(ctx))
	s.ErrorIs(s.p.Start(ctx), seckill.ErrAlreadyStarted)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s.Require().NoError(s.p.Stop(stopCtx))
	s.Require().NoError(s.p.Stop(stopCtx), "stop is idempotent")

	s.Require().NoError(s.p.Preload(ctx, 9, 1))
	_, err := s.p.Submit(ctx, 9, 1)
	s.Require().NoError(err)
	s.Never(func() bool { return s.rec.calls.Load() > 0 }, 150*time.Millisecond, 20*time.Millisecond)

	s.Require().NoError(s.p.Start(ctx))
	s.Eventually(func() bool { return len(s.rec.persisted()) == 1 }, 3*time.Second, 10*time.Millisecond)
}

func countAdmitted(adm []seckill.Admission) int {
	n := 0
	for _, a := range adm {
		if a.Admitted() {
			n++
		}
	}
	return n
}
