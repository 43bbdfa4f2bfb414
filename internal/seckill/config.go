package seckill

import "time"

// Config names the stream plumbing and tunes the consumer. Zero fields take
// the defaults below.
type Config struct {
	Stream   string
	Group    string
	Consumer string

	// Block bounds each XREADGROUP wait so Stop is observed promptly.
	Block time.Duration
	// LockTTL is the lease on the per-user lock held while persisting.
	LockTTL time.Duration
	// AlertAfter is how many failed attempts an entry may pile up before
	// each further failure logs at error level. Failing entries stay
	// pending and are retried until they succeed.
	AlertAfter int
	// RetryBackoff is the first retry delay; it doubles up to 5s.
	RetryBackoff time.Duration
	// PendingIdle is how long an entry must sit unacknowledged with another
	// consumer before it is claimed. Claiming also runs this often.
	PendingIdle time.Duration

	StockKeyPrefix string
	OrderKeyPrefix string
	IDPrefix       string
}

const (
	DefaultStream         = "stream.orders"
	DefaultGroup          = "orderGroup"
	DefaultConsumer       = "consumer-1"
	DefaultBlock          = 2 * time.Second
	DefaultLockTTL        = 10 * time.Second
	DefaultAlertAfter     = 5
	DefaultRetryBackoff   = 20 * time.Millisecond
	DefaultPendingIdle    = time.Minute
	DefaultStockKeyPrefix = "seckill:stock:"
	DefaultOrderKeyPrefix = "seckill:order:"
	DefaultIDPrefix       = "order"
)

func (c *Config) setDefaults() {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.Group == "" {
		c.Group = DefaultGroup
	}
	if c.Consumer == "" {
		c.Consumer = DefaultConsumer
	}
	if c.Block <= 0 {
		c.Block = DefaultBlock
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	if c.AlertAfter <= 0 {
		c.AlertAfter = DefaultAlertAfter
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.PendingIdle <= 0 {
		c.PendingIdle = DefaultPendingIdle
	}
	if c.StockKeyPrefix == "" {
		c.StockKeyPrefix = DefaultStockKeyPrefix
	}
	if c.OrderKeyPrefix == "" {
		c.OrderKeyPrefix = DefaultOrderKeyPrefix
	}
	if c.IDPrefix == "" {
		c.IDPrefix = DefaultIDPrefix
	}
}
