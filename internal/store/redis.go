// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package store keeps the last accepted fix in Redis so other processes
// (the web dashboard, a restarted tracker) can show it immediately.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/relabs-tech/safety_tracker/internal/gps"
)

// DefaultKey holds the JSON-encoded last fix.
const DefaultKey = "safetrack:fix:last"

// KV is the subset of the Redis client the recorder uses.
type KV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Connect opens a Redis client and checks it with PING.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, eris.Wrapf(err, "store: redis ping %s", addr)
	}
	return rdb, nil
}

// FixRecorder writes and reads the last fix.
type FixRecorder struct {
	kv      KV
	key     string
	ttl     time.Duration
	timeout time.Duration
	log     *zap.Logger
}

func NewFixRecorder(kv KV, ttl time.Duration, log *zap.Logger) *FixRecorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &FixRecorder{kv: kv, key: DefaultKey, ttl: ttl, timeout: 2 * time.Second, log: log}
}

// Record stores fix, replacing the previous one. A zero ttl keeps it forever.
func (r *FixRecorder) Record(ctx context.Context, fix gps.Fix) error {
	payload, err := json.Marshal(fix)
	if err != nil {
		return eris.Wrap(err, "store: marshal fix")
	}
	if err := r.kv.Set(ctx, r.key, payload, r.ttl).Err(); err != nil {
		return eris.Wrapf(err, "store: redis SET %s", r.key)
	}
	return nil
}

// LastFix returns the stored fix, or false if none is stored or it expired.
func (r *FixRecorder) LastFix(ctx context.Context) (gps.Fix, bool, error) {
	val, err := r.kv.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return gps.Fix{}, false, nil
	}
	if err != nil {
		return gps.Fix{}, false, eris.Wrapf(err, "store: redis GET %s", r.key)
	}

	var fix gps.Fix
	if err := json.Unmarshal(val, &fix); err != nil {
		return gps.Fix{}, false, eris.Wrap(err, "store: unmarshal fix")
	}
	return fix, true, nil
}

// OnPosition is a position subscriber that records every fix, logging
// failures instead of returning them.
func (r *FixRecorder) OnPosition(fix gps.Fix) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.Record(ctx, fix); err != nil {
		r.log.Warn("store: record fix failed", zap.Error(err))
	}
}
