package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/herd/internal/metrics"
)

// dequeueScript reclaims deliveries whose visibility timeout passed, then
// moves the oldest ready dispatch to the processing set with its attempt
// counter bumped. Processing members are "<token>|<payload>" so every
// delivery has its own receipt and carries its own count. A reclaimed
// delivery that used up MaxDeliveries is buried instead of requeued.
// Returns {receipt or "", buried}.
var dequeueScript = redis.NewScript(`
local function attempts(payload)
	local ok, d = pcall(cjson.decode, payload)
	if ok and type(d) == "table" then
		return d, tonumber(d.attempt) or 0
	end
	return nil, 0
end

local buried = 0
local expired = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1])
for _, m in ipairs(expired) do
	redis.call("ZREM", KEYS[2], m)
	local sep = string.find(m, "|", 1, true)
	local payload = string.sub(m, sep + 1)
	local _, n = attempts(payload)
	if n >= tonumber(ARGV[4]) then
		redis.call("RPUSH", KEYS[3], payload)
		buried = buried + 1
	else
		redis.call("ZADD", KEYS[1], ARGV[1], payload)
	end
end

local items = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
if #items == 0 then
	return {"", buried}
end
redis.call("ZREM", KEYS[1], items[1])
local payload = items[1]
local d, n = attempts(payload)
if d then
	d.attempt = n + 1
	payload = cjson.encode(d)
end
local receipt = ARGV[3] .. "|" .. payload
redis.call("ZADD", KEYS[2], ARGV[2], receipt)
return {receipt, buried}
`)

// nackScript requeues or buries a delivery, but only if it is still ours.
var nackScript = redis.NewScript(`
if redis.call("ZREM", KEYS[2], ARGV[1]) == 0 then
	return 0
end
if ARGV[4] == "dead" then
	redis.call("RPUSH", KEYS[3], ARGV[2])
else
	redis.call("ZADD", KEYS[1], ARGV[3], ARGV[2])
end
return 1
`)

// RedisQueue is a Broker on Redis sorted sets. Per queue name:
// "<ns>.queue.<name>.ready" (score = due time), ".processing" (score =
// visibility deadline) and the ".dead" list.
type RedisQueue struct {
	client  redis.UniversalClient
	config  Config
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time
}

// NewRedisQueue creates a queue on a shared client. collector may be nil.
func NewRedisQueue(client redis.UniversalClient, cfg Config, collector *metrics.Collector, logger *zap.Logger) *RedisQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisQueue{
		client:  client,
		config:  cfg.normalize(),
		metrics: collector,
		logger:  logger.With(zap.String("component", "redis_queue")),
		now:     time.Now,
	}
}

func (q *RedisQueue) key(queue, suffix string) string {
	return q.config.Namespace + ".queue." + queue + "." + suffix
}

// Enqueue schedules a dispatch after its delay.
func (q *RedisQueue) Enqueue(ctx context.Context, d Dispatch) error {
	if d.Queue == "" {
		d.Queue = q.config.Namespace
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := q.now()
	if d.EnqueuedAt.IsZero() {
		d.EnqueuedAt = now.UTC()
	}

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch of %s: %w", d.JobName, err)
	}
	due := now.Add(d.Delay)
	if err := q.client.ZAdd(ctx, q.key(d.Queue, "ready"), redis.Z{Score: score(due), Member: data}).Err(); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", d.JobName, err)
	}

	q.metrics.RecordEnqueue(d.Queue)
	q.logger.Debug("job enqueued",
		zap.String("queue", d.Queue),
		zap.String("job", d.JobName),
		zap.String("workflow_id", d.WorkflowID),
		zap.Duration("delay", d.Delay),
	)
	return nil
}

// Dequeue takes the oldest due dispatch, or returns ErrEmpty.
func (q *RedisQueue) Dequeue(ctx context.Context, queue string) (*Delivery, error) {
	now := q.now()
	keys := []string{q.key(queue, "ready"), q.key(queue, "processing"), q.key(queue, "dead")}
	res, err := dequeueScript.Run(ctx, q.client, keys,
		scoreArg(now), scoreArg(now.Add(q.config.VisibilityTimeout)), uuid.NewString(), q.config.MaxDeliveries).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue from %s: %w", queue, err)
	}
	var receipt string
	var buried int64
	if len(res) == 2 {
		receipt, _ = res[0].(string)
		buried, _ = res[1].(int64)
	}
	if buried > 0 {
		q.logger.Error("timed out dispatches moved to dead letters",
			zap.String("queue", queue),
			zap.Int64("count", buried),
			zap.Int("max_deliveries", q.config.MaxDeliveries),
		)
		for i := int64(0); i < buried; i++ {
			q.metrics.RecordDelivery(queue, "dead")
		}
	}
	if receipt == "" {
		return nil, ErrEmpty
	}
	_, payload, _ := strings.Cut(receipt, "|")

	var d Dispatch
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		// poison payload: bury it so it is not redelivered forever
		q.logger.Error("undecodable dispatch moved to dead letters", zap.String("queue", queue), zap.Error(err))
		_ = q.client.ZRem(ctx, keys[1], receipt).Err()
		_ = q.client.RPush(ctx, keys[2], payload).Err()
		q.metrics.RecordDelivery(queue, "dead")
		return nil, ErrEmpty
	}
	if d.Queue == "" {
		d.Queue = queue
	}
	return &Delivery{Dispatch: d, Receipt: receipt}, nil
}

// Ack removes a finished delivery.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	n, err := q.client.ZRem(ctx, q.key(d.Queue, "processing"), d.Receipt).Result()
	if err != nil {
		return fmt.Errorf("failed to ack %s: %w", d.JobName, err)
	}
	if n == 0 {
		q.logger.Warn("ack after visibility timeout, job may run again", zap.String("job", d.JobName))
	}
	q.metrics.RecordDelivery(d.Queue, "ack")
	return nil
}

// Nack schedules a redelivery with backoff, or dead-letters the dispatch
// once MaxDeliveries is reached.
func (q *RedisQueue) Nack(ctx context.Context, d *Delivery, cause error) error {
	next := d.Dispatch
	if cause != nil {
		next.LastError = cause.Error()
	}
	result := "nack"
	if next.Attempt >= q.config.MaxDeliveries {
		result = "dead"
	}

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch of %s: %w", d.JobName, err)
	}
	due := q.now().Add(q.config.redeliveryDelay(next.Attempt))
	keys := []string{q.key(d.Queue, "ready"), q.key(d.Queue, "processing"), q.key(d.Queue, "dead")}
	moved, err := nackScript.Run(ctx, q.client, keys, d.Receipt, data, scoreArg(due), result).Int()
	if err != nil {
		return fmt.Errorf("failed to nack %s: %w", d.JobName, err)
	}
	if moved == 0 {
		q.logger.Warn("nack after visibility timeout ignored", zap.String("job", d.JobName))
		return nil
	}

	q.metrics.RecordDelivery(d.Queue, result)
	if result == "dead" {
		q.logger.Error("dispatch moved to dead letters",
			zap.String("queue", d.Queue),
			zap.String("job", d.JobName),
			zap.Int("attempts", next.Attempt),
			zap.String("last_error", next.LastError),
		)
	}
	return nil
}

// Stats counts dispatches of a queue.
func (q *RedisQueue) Stats(ctx context.Context, queue string) (Stats, error) {
	pipe := q.client.Pipeline()
	ready := pipe.ZCard(ctx, q.key(queue, "ready"))
	processing := pipe.ZCard(ctx, q.key(queue, "processing"))
	dead := pipe.LLen(ctx, q.key(queue, "dead"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to read stats of %s: %w", queue, err)
	}
	return Stats{Ready: ready.Val(), Processing: processing.Val(), Dead: dead.Val()}, nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// scoreArg renders a score for Lua ARGV.
func scoreArg(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
