// Package sandbox is the harness that runs one side of the handshake over a
// real transport. The server accepts connections and echoes tunnel payloads
// or relays them to an upstream TCP service. The client connects, handshakes
// and exchanges one message.
package sandbox

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"vpn_handshake/internal/config"
	"vpn_handshake/internal/cryptographic/secret"
	"vpn_handshake/internal/identity"
	"vpn_handshake/internal/model"
	"vpn_handshake/internal/protocol/handshake"
	peerRepo "vpn_handshake/internal/repository/peer"
	"vpn_handshake/internal/service/metrics"
	redisSvc "vpn_handshake/internal/service/redis"
	"vpn_handshake/internal/service/replay"
	"vpn_handshake/internal/utils/log"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const connectTimeout = 10 * time.Second

// Deps are the long-lived collaborators shared by every handshake of a run.
type Deps struct {
	Identity *identity.Identity
	Replay   handshake.ReplayGuard
	Metrics  *metrics.Metrics

	closers []func() error
}

// NewDeps loads the static key and trust sources named in cfg. A responder
// also gets a replay guard, backed by Redis when an address is configured.
func NewDeps(ctx context.Context, cfg *config.Config, role model.Role) (*Deps, error) {
	d := &Deps{Metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			_ = d.Close()
		}
	}()

	priv, err := identity.LoadKeyFile(cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	defer secret.Wipe(priv)

	policy, err := d.trustPolicy(ctx, cfg)
	if err != nil {
		return nil, err
	}

	d.Identity, err = identity.New(role, priv, policy)
	if err != nil {
		return nil, err
	}

	if role == model.Responder {
		if d.Replay, err = d.replayGuard(ctx, cfg); err != nil {
			return nil, err
		}
	}

	ok = true
	return d, nil
}

func (d *Deps) trustPolicy(ctx context.Context, cfg *config.Config) (identity.TrustPolicy, error) {
	var policies identity.AnyOf

	var pinned []ed25519.PublicKey
	for _, path := range cfg.TrustFiles {
		keys, err := identity.LoadTrustFile(path)
		if err != nil {
			return nil, err
		}
		pinned = append(pinned, keys...)
	}
	if len(pinned) > 0 {
		policies = append(policies, identity.NewPinnedSet(pinned...))
		log.Info("loaded trusted keys", zap.Int("count", len(pinned)))
	}

	if cfg.MongoURI != "" {
		client, err := initMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("mongo: %w", err)
		}
		d.closers = append(d.closers, func() error {
			return client.Disconnect(context.Background())
		})

		repo := peerRepo.NewPeerRepo(client.Database(cfg.MongoDatabase))
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		peers, err := repo.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("mongo peers: %w", err)
		}
		policies = append(policies, &identity.RepositoryPolicy{Peers: repo})
		log.Info("using peer repository", zap.String("database", cfg.MongoDatabase), zap.Int("active", len(peers)))
	}

	if len(policies) == 0 {
		return nil, fmt.Errorf("no trust source configured")
	}
	return policies, nil
}

func (d *Deps) replayGuard(ctx context.Context, cfg *config.Config) (handshake.ReplayGuard, error) {
	if cfg.RedisAddr == "" {
		return replay.NewMemoryGuard(replay.DefaultTTL), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   0,
	})
	svc := redisSvc.NewRedis(rdb)
	d.closers = append(d.closers, svc.Close)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := svc.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
	}
	log.Info("using redis replay guard", zap.String("addr", cfg.RedisAddr))
	return replay.NewRedisGuard(svc, replay.DefaultTTL), nil
}

// Close releases database clients. It is safe to call on partly built Deps.
func (d *Deps) Close() error {
	var err error
	for i := len(d.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, d.closers[i]())
	}
	d.closers = nil
	return err
}

func initMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}
