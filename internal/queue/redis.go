package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"conveyor/internal/config"
	"conveyor/internal/pipeline"
)

// RedisBackend keeps one sorted set per (queue, stage) scored by the
// millisecond timestamp at which each message becomes visible, with the
// message body in a companion hash. Claims re-score members into the
// future, so an expired lease resurfaces without a sweeper, same as the
// SQLite backend.
type RedisBackend struct {
	client *redis.Client
}

// claimScript atomically takes up to ARGV[2] visible members and pushes
// their scores to ARGV[3], returning the claimed ids. Running it as one
// script keeps concurrent workers from claiming the same message.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
	redis.call('ZADD', KEYS[1], ARGV[3], id)
end
return ids
`)

// NewRedisBackend connects to the configured Redis server.
func NewRedisBackend(cfg *config.Config) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Queue.RedisAddr, err)
	}
	return &RedisBackend{client: client}, nil
}

func readyKey(queueName string, stage pipeline.Stage) string {
	return fmt.Sprintf("conveyor:%s:%s:ready", queueName, stage)
}

func messageKey(queueName, id string) string {
	return fmt.Sprintf("conveyor:%s:msg:%s", queueName, id)
}

// Enqueue implements Backend. Priority folds into the score as an
// earlier effective visibility, so higher priority members sort ahead
// of older lower priority ones.
func (b *RedisBackend) Enqueue(ctx context.Context, msg *Message) error {
	now := time.Now().UTC()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.EnqueuedAt = now

	fields := map[string]any{
		"job_id":         msg.JobID,
		"stage":          string(msg.Stage),
		"payload":        string(msg.Payload),
		"priority":       msg.Priority,
		"delivery_count": 0,
		"created_at":     now.Format(time.RFC3339Nano),
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, messageKey(msg.Queue, msg.ID), fields)
	pipe.ZAdd(ctx, readyKey(msg.Queue, msg.Stage), redis.Z{
		Score:  scoreFor(now, now.Add(msg.Delay), msg.Priority),
		Member: msg.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue message for job %s: %w", msg.JobID, err)
	}
	return nil
}

// scoreFor folds priority into the score as an earlier effective
// visibility. Delayed messages keep their plain visibility score so
// priority cannot erode a retry backoff.
func scoreFor(now, visibleAt time.Time, priority int) float64 {
	if visibleAt.After(now) {
		return float64(visibleAt.UnixMilli())
	}
	return float64(visibleAt.UnixMilli() - int64(priority)*1000)
}

// DequeueBatch implements Backend. When stage is empty, every stage's
// set is drained in pipeline order until the batch fills.
func (b *RedisBackend) DequeueBatch(ctx context.Context, queueName string, stage pipeline.Stage, visibility time.Duration, limit int) ([]*Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	stages := []pipeline.Stage{stage}
	if stage == "" {
		stages = pipeline.Stages()
	}

	var messages []*Message
	for _, candidate := range stages {
		remaining := limit - len(messages)
		if remaining <= 0 {
			break
		}
		claimed, err := b.claimStage(ctx, queueName, candidate, visibility, remaining)
		if err != nil {
			return nil, err
		}
		messages = append(messages, claimed...)
	}
	return messages, nil
}

func (b *RedisBackend) claimStage(ctx context.Context, queueName string, stage pipeline.Stage, visibility time.Duration, limit int) ([]*Message, error) {
	now := time.Now().UTC()
	leaseScore := float64(now.Add(visibility).UnixMilli())

	ids, err := claimScript.Run(ctx, b.client,
		[]string{readyKey(queueName, stage)},
		now.UnixMilli(), limit, leaseScore).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claim from %s/%s: %w", queueName, stage, err)
	}

	messages := make([]*Message, 0, len(ids))
	for _, id := range ids {
		deliveries, err := b.client.HIncrBy(ctx, messageKey(queueName, id), "delivery_count", 1).Result()
		if err != nil {
			return nil, fmt.Errorf("bump delivery count %s: %w", id, err)
		}
		fields, err := b.client.HGetAll(ctx, messageKey(queueName, id)).Result()
		if err != nil {
			return nil, fmt.Errorf("load message %s: %w", id, err)
		}
		if len(fields) == 0 {
			// The hash vanished under the sorted set entry; drop the
			// orphan so it stops resurfacing.
			_ = b.client.ZRem(ctx, readyKey(queueName, stage), id).Err()
			continue
		}
		msg := &Message{
			ID:            id,
			Queue:         queueName,
			JobID:         fields["job_id"],
			Stage:         pipeline.Stage(fields["stage"]),
			Payload:       json.RawMessage(fields["payload"]),
			DeliveryCount: int(deliveries),
		}
		if priority, convErr := strconv.Atoi(fields["priority"]); convErr == nil {
			msg.Priority = priority
		}
		if t, parseErr := time.Parse(time.RFC3339Nano, fields["created_at"]); parseErr == nil {
			msg.EnqueuedAt = t
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Extend implements Backend.
func (b *RedisBackend) Extend(ctx context.Context, msg *Message, visibility time.Duration) error {
	score := float64(time.Now().UTC().Add(visibility).UnixMilli())
	err := b.client.ZAddXX(ctx, readyKey(msg.Queue, msg.Stage), redis.Z{
		Score:  score,
		Member: msg.ID,
	}).Err()
	if err != nil {
		return fmt.Errorf("extend message %s: %w", msg.ID, err)
	}
	return nil
}

// Archive implements Backend.
func (b *RedisBackend) Archive(ctx context.Context, msg *Message) error {
	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, readyKey(msg.Queue, msg.Stage), msg.ID)
	pipe.Del(ctx, messageKey(msg.Queue, msg.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("archive message %s: %w", msg.ID, err)
	}
	return nil
}

// Depth implements Backend.
func (b *RedisBackend) Depth(ctx context.Context, queueName string) (int, error) {
	depths, err := b.DepthByStage(ctx, queueName)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, n := range depths {
		total += n
	}
	return total, nil
}

// DepthByStage implements Backend.
func (b *RedisBackend) DepthByStage(ctx context.Context, queueName string) (map[pipeline.Stage]int, error) {
	now := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
	depths := make(map[pipeline.Stage]int)
	for _, stage := range pipeline.Stages() {
		count, err := b.client.ZCount(ctx, readyKey(queueName, stage), "-inf", now).Result()
		if err != nil {
			return nil, fmt.Errorf("queue depth %s/%s: %w", queueName, stage, err)
		}
		if count > 0 {
			depths[stage] = int(count)
		}
	}
	return depths, nil
}

// Close implements Backend.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
