// Package cache は描画済みプレビュー画像を Redis に保存します。
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "preview:"

// PreviewStore は Redis を使ったプレビュー画像のキャッシュです。
// 取得・保存の失敗はログに残すだけで呼び出し元へは返しません。
type PreviewStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewPreviewStore は PreviewStore を作成します。
func NewPreviewStore(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *PreviewStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PreviewStore{rdb: rdb, ttl: ttl, logger: logger}
}

// Get はキャッシュ済みの画像を返します。
func (s *PreviewStore) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := s.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("preview cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return data, true
}

// Set は画像を保存します。
func (s *PreviewStore) Set(ctx context.Context, key string, data []byte) {
	if len(data) == 0 {
		return
	}
	if err := s.rdb.Set(ctx, keyPrefix+key, data, s.ttl).Err(); err != nil {
		s.logger.Warn("preview cache set failed", "key", key, "error", err)
	}
}

// Ping は接続を確認します。
func (s *PreviewStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
