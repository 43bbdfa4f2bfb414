package seckill

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	releaseTimeout   = time.Second
	reclaimBatch     = 100
	maxRetryInterval = 5 * time.Second
)

// Start creates the consumer group if needed and launches the consumer. The
// consumer runs until Stop is called or ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return ErrAlreadyStarted
	}

	if err := p.ensureGroup(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(runCtx, p.done)

	p.logger.Info("order consumer started", zap.String("group", p.cfg.Group))
	return nil
}

// Stop cancels the consumer and waits for the entry in hand to finish, or
// for ctx to end. The consumer may be started again afterwards.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	p.logger.Info("order consumer stopped")
	return nil
}

func (p *Pipeline) ensureGroup(ctx context.Context) error {
	err := p.rdb.XGroupCreateMkStream(ctx, p.cfg.Stream, p.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s: %w", p.cfg.Group, err)
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	p.reclaim(ctx)
	p.drainPending(ctx)
	lastReclaim := time.Now()

	readBackoff := p.retryBackoff()

	for ctx.Err() == nil {
		// Peers may die while this consumer runs.
		if time.Since(lastReclaim) >= p.cfg.PendingIdle {
			if p.reclaim(ctx) > 0 {
				p.drainPending(ctx)
			}
			lastReclaim = time.Now()
		}

		streams, err := p.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.cfg.Group,
			Consumer: p.cfg.Consumer,
			Streams:  []string{p.cfg.Stream, ">"},
			Count:    1,
			Block:    p.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := readBackoff.NextBackOff()
			p.logger.Error("read order stream", zap.Error(err), zap.Duration("retry_in", wait))
			sleep(ctx, wait)
			p.reclaim(ctx)
			p.drainPending(ctx)
			lastReclaim = time.Now()
			continue
		}
		readBackoff.Reset()

		for _, s := range streams {
			for _, msg := range s.Messages {
				if err := p.handle(ctx, msg); err != nil {
					p.drainPending(ctx)
				}
			}
		}
	}
}

// drainPending works through the entries delivered to this consumer but
// never acknowledged, oldest first, until none are left. A failing entry is
// retried with exponential backoff for as long as it keeps failing.
func (p *Pipeline) drainPending(ctx context.Context) {
	retry := p.retryBackoff()
	for ctx.Err() == nil {
		streams, err := p.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.cfg.Group,
			Consumer: p.cfg.Consumer,
			Streams:  []string{p.cfg.Stream, "0"},
			Count:    1,
			Block:    -1,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("read pending entries", zap.Error(err))
			sleep(ctx, retry.NextBackOff())
			continue
		}
		if len(streams) == 0 || len(streams[0].Messages) == 0 {
			return
		}

		msg := streams[0].Messages[0]
		if err := p.handle(ctx, msg); err != nil {
			sleep(ctx, retry.NextBackOff())
			continue
		}
		retry.Reset()
	}
}

func (p *Pipeline) retryBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.RetryBackoff
	b.MaxInterval = maxRetryInterval
	b.Reset()
	return b
}

// reclaim moves entries stuck with other consumers for longer than
// PendingIdle into this consumer's pending list and reports how many moved.
func (p *Pipeline) reclaim(ctx context.Context) int {
	start, claimed := "0-0", 0
	for ctx.Err() == nil {
		msgs, next, err := p.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   p.cfg.Stream,
			Group:    p.cfg.Group,
			Consumer: p.cfg.Consumer,
			MinIdle:  p.cfg.PendingIdle,
			Start:    start,
			Count:    reclaimBatch,
		}).Result()
		if err != nil {
			p.logger.Warn("claim idle entries", zap.Error(err))
			return claimed
		}
		claimed += len(msgs)
		if next == "" || next == "0-0" {
			break
		}
		start = next
	}
	if claimed > 0 {
		p.logger.Info("claimed idle order entries", zap.Int("count", claimed))
	}
	return claimed
}

// handle processes one entry. It acknowledges the entry once the order is
// persisted, refused by the durable store, or failed permanently; any other
// failure leaves it pending and is returned.
func (p *Pipeline) handle(ctx context.Context, msg redis.XMessage) error {
	// An entry in hand is finished even if Stop arrives meanwhile.
	ctx = context.WithoutCancel(ctx)

	task, err := parseTask(msg.Values)
	if err != nil {
		p.logger.Error("malformed order entry dropped", zap.String("entry", msg.ID), zap.Error(err))
		return p.ack(ctx, msg.ID)
	}
	fields := []zap.Field{
		zap.String("entry", msg.ID),
		zap.Int64("order_id", task.OrderID),
		zap.Int64("user_id", task.UserID),
		zap.Int64("voucher_id", task.VoucherID),
	}

	err = p.process(ctx, task)
	switch {
	case err == nil:
		p.logger.Debug("order persisted", fields...)
	case errors.Is(err, ErrDuplicateOrder), errors.Is(err, ErrStockExhausted):
		p.logger.Warn("admitted order refused by durable store, dropped", append(fields, zap.Error(err))...)
	case isPermanent(err):
		p.logger.Error("order task dropped on permanent failure", append(fields, zap.Error(err))...)
	default:
		p.attempts[msg.ID]++
		n := p.attempts[msg.ID]
		logf := p.logger.Warn
		if n >= p.cfg.AlertAfter {
			logf = p.logger.Error
		}
		logf("order task failed, kept pending", append(fields, zap.Int("attempts", n), zap.Error(err))...)
		return fmt.Errorf("attempt %d: %w", n, err)
	}

	delete(p.attempts, msg.ID)
	return p.ack(ctx, msg.ID)
}

func (p *Pipeline) process(ctx context.Context, task OrderTask) error {
	lockCtx, cancel := context.WithTimeout(ctx, p.cfg.LockTTL)
	h, err := p.locker.Acquire(lockCtx, "order:"+strconv.FormatInt(task.UserID, 10), p.cfg.LockTTL, p.cfg.RetryBackoff)
	cancel()
	if err != nil {
		return fmt.Errorf("user lock: %w", err)
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if ok, err := h.Release(relCtx); err != nil || !ok {
			p.logger.Warn("user lock not released cleanly", zap.String("key", h.Key()), zap.Bool("owned", ok), zap.Error(err))
		}
	}()

	return p.persister.PersistOrder(ctx, task)
}

func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

func (p *Pipeline) ack(ctx context.Context, id string) error {
	if err := p.rdb.XAck(ctx, p.cfg.Stream, p.cfg.Group, id).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	return nil
}

func parseTask(values map[string]any) (OrderTask, error) {
	var t OrderTask
	var err error
	if t.OrderID, err = intField(values, "id"); err != nil {
		return t, err
	}
	if t.UserID, err = intField(values, "userId"); err != nil {
		return t, err
	}
	if t.VoucherID, err = intField(values, "voucherId"); err != nil {
		return t, err
	}
	return t, nil
}

func intField(values map[string]any, name string) (int64, error) {
	raw, ok := values[name]
	if !ok {
		return 0, fmt.Errorf("missing field %q", name)
	}
	n, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", name, err)
	}
	return n, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
