package queue

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisQueue es la cola de jobs compartida entre la API y el worker: la
// API encola ids con Push y el worker los drena con Pop.
type RedisQueue struct {
	rdb       *redis.Client
	queueName string
}

func NewRedisQueue(rdb *redis.Client, queueName string) *RedisQueue {
	return &RedisQueue{rdb: rdb, queueName: queueName}
}

// Push encola un job id (LPUSH)
func (q *RedisQueue) Push(ctx context.Context, jobID string) error {
	return q.rdb.LPush(ctx, q.queueName, jobID).Err()
}

// Pop bloquea hasta que exista un elemento (BRPOP). El timeout lo pone
// el ctx del caller, no BRPOP.
func (q *RedisQueue) Pop(ctx context.Context) (string, error) {
	res, err := q.rdb.BRPop(ctx, 0, q.queueName).Result()
	if err != nil {
		return "", err
	}
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}

// Len devuelve cuántos jobs siguen encolados (LLEN). Lo expone /health.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.queueName).Result()
}
