package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/gorole/internal/config"
	"github.com/mihaimyh/gorole/pkg/gorole"
	firestoreStorage "github.com/mihaimyh/gorole/storage/firestore"
	"github.com/mihaimyh/gorole/storage/memory"
	postgresStorage "github.com/mihaimyh/gorole/storage/postgres"
	redisStorage "github.com/mihaimyh/gorole/storage/redis"
	"github.com/mihaimyh/gorole/storage/tiered"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// backend is the storage chosen by configuration plus what the server needs
// to check and release it.
type backend struct {
	storage gorole.Storage
	pingers []pinger
	closers []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func (b *backend) Ping(ctx context.Context) error {
	for _, p := range b.pingers {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

func openBackend(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backend, error) {
	b := &backend{}

	switch cfg.Storage.Driver {
	case config.DriverMemory:
		b.storage = memory.New()

	case config.DriverPostgres:
		pg, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.storage = pg
		b.pingers = append(b.pingers, pg)
		b.closers = append(b.closers, pg.Close)

	case config.DriverRedis:
		rs, err := openRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.storage = rs
		b.pingers = append(b.pingers, rs)
		b.closers = append(b.closers, func() { _ = rs.Close() })

	case config.DriverFirestore:
		client, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		fs, err := firestoreStorage.New(client, firestoreStorage.Config{})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		b.storage = fs
		b.closers = append(b.closers, func() { _ = client.Close() })

	case config.DriverTiered:
		pg, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.pingers = append(b.pingers, pg)
		b.closers = append(b.closers, pg.Close)

		rs, err := openRedis(ctx, cfg)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.pingers = append(b.pingers, rs)
		b.closers = append(b.closers, func() { _ = rs.Close() })

		ts, err := tiered.New(tiered.Config{
			Hot:        rs,
			Cold:       pg,
			AsyncAudit: true,
			AsyncErrorHandler: func(err error) {
				log.Warn().Err(err).Msg("tiered storage background write failed")
			},
		})
		if err != nil {
			b.Close()
			return nil, err
		}
		// Close runs in reverse, so queued audit writes drain before Postgres closes.
		b.closers = append(b.closers, func() { _ = ts.Close() })
		// Hot and cold are written in sequence; serialize per user so two
		// events for the same user cannot interleave across tiers.
		b.storage = gorole.NewSerializedStorage(ts)

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	return b, nil
}

func openPostgres(ctx context.Context, cfg *config.Config) (*postgresStorage.Storage, error) {
	pgConfig := postgresStorage.DefaultConfig()
	pgConfig.ConnectionString = cfg.Postgres.DSN
	pgConfig.RunMigrations = cfg.Postgres.RunMigrations
	pgConfig.AuditRetention = cfg.Postgres.AuditRetention
	pgConfig.CleanupEnabled = cfg.Postgres.AuditRetention > 0
	return postgresStorage.New(ctx, pgConfig)
}

func openRedis(ctx context.Context, cfg *config.Config) (*redisStorage.Storage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}

	rs, err := redisStorage.New(client, redisStorage.Config{
		KeyPrefix: cfg.Redis.KeyPrefix,
		RoleTTL:   cfg.Redis.RoleTTL,
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return rs, nil
}
