// Package replay remembers initiator ephemeral keys so a responder can turn
// away a replayed Init before doing any work for it.
package replay

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"vpn_handshake/internal/model"
)

// DefaultTTL bounds how long a seen key is remembered. An Init older than
// this cannot complete anyway since the handshake has its own timeout.
const DefaultTTL = 10 * time.Minute

var ErrReplayed = model.NewError(model.KindProtocolViolation, "replayed init")

// MemoryGuard is a process-local cache of seen keys.
type MemoryGuard struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	entries   map[[model.PublicKeySize]byte]time.Time
	ops       uint64
	purgeEach uint64
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryGuard{
		ttl:       ttl,
		now:       time.Now,
		entries:   make(map[[model.PublicKeySize]byte]time.Time),
		purgeEach: 256,
	}
}

func (g *MemoryGuard) CheckAndMark(_ context.Context, ephemeral [model.PublicKeySize]byte) error {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.ops++
	if g.ops%g.purgeEach == 0 {
		g.purgeLocked(now)
	}

	if exp, ok := g.entries[ephemeral]; ok && now.Before(exp) {
		return ErrReplayed
	}
	g.entries[ephemeral] = now.Add(g.ttl)
	return nil
}

func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

func (g *MemoryGuard) purgeLocked(now time.Time) {
	for k, exp := range g.entries {
		if !now.Before(exp) {
			delete(g.entries, k)
		}
	}
}

// Store is the part of the Redis service the guard needs.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
}

// RedisGuard shares seen keys between responders behind one Redis.
type RedisGuard struct {
	store  Store
	ttl    time.Duration
	prefix string
}

func NewRedisGuard(store Store, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisGuard{store: store, ttl: ttl, prefix: "vpnhs:init:"}
}

// CheckAndMark fails closed: if Redis cannot be reached the Init is refused.
func (g *RedisGuard) CheckAndMark(ctx context.Context, ephemeral [model.PublicKeySize]byte) error {
	ok, err := g.store.SetNX(ctx, g.prefix+hex.EncodeToString(ephemeral[:]), 1, g.ttl)
	if err != nil {
		return model.WrapError(model.KindProtocolViolation, "replay store", err)
	}
	if !ok {
		return ErrReplayed
	}
	return nil
}
