package seckill

import "github.com/redis/go-redis/v9"

const (
	admitOK        = 0
	admitNoStock   = 1
	admitDuplicate = 2
)

// admitScript checks and takes stock, records the buyer and enqueues the
// order task as one atomic step.
//
//	KEYS[1] stock counter  KEYS[2] buyer set  KEYS[3] order stream
//	ARGV[1] user id        ARGV[2] voucher id ARGV[3] order id
//
// The three keys must hash to one slot when run against a cluster.
var admitScript = redis.NewScript(`
local stock = redis.call('GET', KEYS[1])
if (not stock) or tonumber(stock) <= 0 then
	return 1
end
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
	return 2
end
redis.call('INCRBY', KEYS[1], -1)
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('XADD', KEYS[3], '*', 'userId', ARGV[1], 'voucherId', ARGV[2], 'id', ARGV[3])
return 0
`)
