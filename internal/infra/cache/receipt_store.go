package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const receiptKeyPrefix = "agriconnect:payment:receipt"

// 処理済みの決済レシートをRedisに覚えておく
type RedisReceiptStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisReceiptStore(client *redis.Client, ttl time.Duration) *RedisReceiptStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisReceiptStore{client: client, ttl: ttl}
}

func receiptKey(orderID int64, receipt string) string {
	return fmt.Sprintf("%s:%d:%s", receiptKeyPrefix, orderID, receipt)
}

func (s *RedisReceiptStore) Seen(ctx context.Context, orderID int64, receipt string) (bool, error) {
	n, err := s.client.Exists(ctx, receiptKey(orderID, receipt)).Result()
	if err != nil {
		return false, fmt.Errorf("receipt lookup: %w", err)
	}
	return n > 0, nil
}

func (s *RedisReceiptStore) Remember(ctx context.Context, orderID int64, receipt string) error {
	if err := s.client.SetNX(ctx, receiptKey(orderID, receipt), 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("receipt remember: %w", err)
	}
	return nil
}

// REDIS_ADDRが無いとき。判定はDBだけで行う
type NoopReceiptStore struct{}

func (NoopReceiptStore) Seen(context.Context, int64, string) (bool, error) { return false, nil }

func (NoopReceiptStore) Remember(context.Context, int64, string) error { return nil }

// 接続してPINGで確認する
func NewRedisClient(ctx context.Context, addr string, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return client, nil
}
