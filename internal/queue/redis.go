package queue

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"taskcore/internal/domain"
	"taskcore/internal/store"
)

// Redis layout per queue q:
//
//	taskcore:queues              set of queue names
//	taskcore:queue:q:seq         insertion counter
//	taskcore:queue:q:order       zset id -> seq
//	taskcore:queue:q:item:<id>   hash of item fields
//	taskcore:queue:q:dedup       hash dedup key -> id
const keyPrefix = "taskcore:"

var (
	setStatusScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[1], "status", ARGV[1])
return 1
`)
	claimScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "status") == "PENDING" then
	redis.call("HSET", KEYS[1], "status", "RUNNING")
	return 1
end
return 0
`)
	// KEYS: dedup, seq, order, queues, item. ARGV: id, dedup key, queue name,
	// item key prefix, then the item's field/value pairs.
	enqueueScript = redis.NewScript(`
if ARGV[2] ~= "" then
	local existing = redis.call("HGET", KEYS[1], ARGV[2])
	if existing and redis.call("EXISTS", ARGV[4] .. existing) == 1 then
		return existing
	end
	redis.call("HSET", KEYS[1], ARGV[2], ARGV[1])
end
local seq = redis.call("INCR", KEYS[2])
redis.call("HSET", KEYS[5], unpack(ARGV, 5))
redis.call("ZADD", KEYS[3], seq, ARGV[1])
redis.call("SADD", KEYS[4], ARGV[3])
return ARGV[1]
`)
	// KEYS: item, order, dedup. ARGV: id.
	dequeueScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status or status == "RUNNING" then
	return 0
end
local key = redis.call("HGET", KEYS[1], "dedup_key")
if key and key ~= "" and redis.call("HGET", KEYS[3], key) == ARGV[1] then
	redis.call("HDEL", KEYS[3], key)
end
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`)
)

type redisProcessor struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisProcessor(client *redis.Client) Processor {
	return &redisProcessor{client: client, now: time.Now}
}

func queueKey(queue, suffix string) string { return keyPrefix + "queue:" + queue + ":" + suffix }

func itemKey(queue, id string) string { return queueKey(queue, "item:"+id) }

func (p *redisProcessor) QueueTask(ctx context.Context, item NewItem) (string, error) {
	cfg, err := store.EncodeConfig(item.Configuration)
	if err != nil {
		return "", err
	}
	id := "qit_" + uuid.NewString()
	start := ""
	if item.StartTime != nil {
		start = strconv.FormatInt(store.Millis(*item.StartTime), 10)
	}
	q := item.QueueName
	keys := []string{queueKey(q, "dedup"), queueKey(q, "seq"), queueKey(q, "order"), keyPrefix + "queues", itemKey(q, id)}
	// a dedup mapping whose item is gone is stale and gets replaced
	args := []any{id, item.DedupKey, q, itemKey(q, ""),
		"task_identifier", item.TaskIdentifier,
		"description", item.Description,
		"configuration", cfg,
		"queued_time", strconv.FormatInt(store.Millis(p.now()), 10),
		"start_time", start,
		"status", string(domain.QueuedPending),
		"dedup_key", item.DedupKey,
	}
	got, err := enqueueScript.Run(ctx, p.client, keys, args...).Text()
	if err != nil {
		return "", fmt.Errorf("queue task in %s: %w", q, err)
	}
	return got, nil
}

func decodeItem(queue, id string, h map[string]string) (domain.QueueItem, error) {
	cfg, err := store.DecodeConfig(h["configuration"])
	if err != nil {
		return domain.QueueItem{}, fmt.Errorf("queued task %s/%s configuration: %w", queue, id, err)
	}
	queued, _ := strconv.ParseInt(h["queued_time"], 10, 64)
	it := domain.QueueItem{
		QueueName:      queue,
		ID:             id,
		TaskIdentifier: h["task_identifier"],
		Description:    h["description"],
		Configuration:  cfg,
		QueuedTime:     store.FromMillis(queued),
		Status:         domain.QueuedTaskStatus(h["status"]),
		DedupKey:       h["dedup_key"],
	}
	if s := h["start_time"]; s != "" {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			t := store.FromMillis(ms)
			it.StartTime = &t
		}
	}
	return it, nil
}

func (p *redisProcessor) GetTask(ctx context.Context, queueName, id string) (domain.QueueItem, error) {
	h, err := p.client.HGetAll(ctx, itemKey(queueName, id)).Result()
	if err != nil {
		return domain.QueueItem{}, err
	}
	if len(h) == 0 {
		return domain.QueueItem{}, domain.NotFound("queued task", queueName+"/"+id)
	}
	return decodeItem(queueName, id, h)
}

func (p *redisProcessor) DeQueueTask(ctx context.Context, queueName, id string) error {
	keys := []string{itemKey(queueName, id), queueKey(queueName, "order"), queueKey(queueName, "dedup")}
	return dequeueScript.Run(ctx, p.client, keys, id).Err()
}

func (p *redisProcessor) ListQueuedTasks(ctx context.Context, queueName string) ([]domain.QueueItem, error) {
	ids, err := p.client.ZRange(ctx, queueKey(queueName, "order"), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, itemKey(queueName, id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	items := make([]domain.QueueItem, 0, len(ids))
	for i, id := range ids {
		h := cmds[i].Val()
		if len(h) == 0 {
			continue
		}
		it, err := decodeItem(queueName, id, h)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

func (p *redisProcessor) RegisterTaskStatusChange(ctx context.Context, queueName, id string, status domain.QueuedTaskStatus) error {
	n, err := setStatusScript.Run(ctx, p.client, []string{itemKey(queueName, id)}, string(status)).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFound("queued task", queueName+"/"+id)
	}
	return nil
}

func (p *redisProcessor) ClaimTask(ctx context.Context, queueName, id string) (bool, error) {
	n, err := claimScript.Run(ctx, p.client, []string{itemKey(queueName, id)}).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *redisProcessor) ListQueues(ctx context.Context) ([]string, error) {
	names, err := p.client.SMembers(ctx, keyPrefix+"queues").Result()
	if err != nil {
		return nil, err
	}
	cards := make([]*redis.IntCmd, len(names))
	_, err = p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, n := range names {
			cards[i] = pipe.ZCard(ctx, queueKey(n, "order"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for i, n := range names {
		if cards[i].Val() > 0 {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}
