// Package queue feeds jobs from a Redis list into the handler and stores
// their results.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hallod/pkg/types"
)

type Config struct {
	// List is the Redis list jobs are popped from (BRPOP).
	List string
	// KeyPrefix namespaces result keys and the completion list.
	KeyPrefix  string
	ResultTTL  time.Duration
	PopTimeout time.Duration
}

// RedisQueue is a job list plus result store on a single Redis.
type RedisQueue struct {
	rdb *redis.Client
	cfg Config
}

func NewRedisQueue(rdb *redis.Client, cfg Config) *RedisQueue {
	if cfg.List == "" {
		cfg.List = "hallod:jobs"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "hallod"
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 30 * time.Second
	}
	return &RedisQueue{rdb: rdb, cfg: cfg}
}

// ResultKey is where the result of job id is stored.
func (q *RedisQueue) ResultKey(id string) string { return q.cfg.KeyPrefix + ":result:" + id }

// DoneList receives the id of every completed job.
func (q *RedisQueue) DoneList() string { return q.cfg.KeyPrefix + ":done" }

// Push enqueues a raw job payload.
func (q *RedisQueue) Push(ctx context.Context, payload []byte) error {
	return q.rdb.LPush(ctx, q.cfg.List, payload).Err()
}

// Requeue pushes payload onto the pop end of the list so it is served next.
func (q *RedisQueue) Requeue(ctx context.Context, payload []byte) error {
	return q.rdb.RPush(ctx, q.cfg.List, payload).Err()
}

// Pop blocks up to PopTimeout for the next payload. It returns nil, nil when
// the wait timed out with the list empty.
func (q *RedisQueue) Pop(ctx context.Context) ([]byte, error) {
	res, err := q.rdb.BRPop(ctx, q.cfg.PopTimeout, q.cfg.List).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// Complete stores resp and announces it on the done list in one transaction.
func (q *RedisQueue) Complete(ctx context.Context, resp types.JobResponse) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, q.ResultKey(resp.ID), b, q.cfg.ResultTTL)
		p.LPush(ctx, q.DoneList(), resp.ID)
		return nil
	})
	return err
}

// ErrNoResult means no result is stored for the id (yet, or any more).
var ErrNoResult = errors.New("no result stored")

// Result fetches a stored result.
func (q *RedisQueue) Result(ctx context.Context, id string) (types.JobResponse, error) {
	var resp types.JobResponse
	b, err := q.rdb.Get(ctx, q.ResultKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return resp, ErrNoResult
	}
	if err != nil {
		return resp, err
	}
	return resp, json.Unmarshal(b, &resp)
}

// Await polls for the result of id until it is stored or ctx is done.
func (q *RedisQueue) Await(ctx context.Context, id string, every time.Duration) (types.JobResponse, error) {
	if every <= 0 {
		every = 500 * time.Millisecond
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		resp, err := q.Result(ctx, id)
		if !errors.Is(err, ErrNoResult) {
			return resp, err
		}
		select {
		case <-ctx.Done():
			return resp, ctx.Err()
		case <-t.C:
		}
	}
}
