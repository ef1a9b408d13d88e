package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/curator-discovery/internal/config"
	"github.com/JakeFAU/curator-discovery/internal/curator"
	"github.com/JakeFAU/curator-discovery/internal/lease"
	pubsubpublisher "github.com/JakeFAU/curator-discovery/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/curator-discovery/internal/storage/gcs"
	localstorage "github.com/JakeFAU/curator-discovery/internal/storage/local"
	memorystorage "github.com/JakeFAU/curator-discovery/internal/storage/memory"
	"github.com/JakeFAU/curator-discovery/internal/storage/postgres"
)

// curatorStore is what both store backends provide.
type curatorStore interface {
	curator.Store
	curator.Reader
}

// deps holds the backends selected by configuration.
type deps struct {
	store     curatorStore
	archive   curator.BlobStore
	publisher curator.Publisher
	guard     curator.RunGuard

	checks  []func(ctx context.Context) error
	closers []func()
}

// Ready runs every readiness check and returns the first failure.
func (d *deps) Ready(ctx context.Context) error {
	for _, check := range d.checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases backends in reverse construction order.
func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

func buildDeps(ctx context.Context, cfg config.Config, logger *zap.Logger) (*deps, error) {
	d := &deps{}
	steps := []func() error{
		func() error { return d.buildStore(ctx, cfg, logger) },
		func() error { return d.buildArchive(ctx, cfg, logger) },
		func() error { return d.buildPublisher(ctx, cfg, logger) },
		func() error { return d.buildGuard(cfg, logger) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			d.Close()
			return nil, err
		}
	}
	return d, nil
}

func (d *deps) buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.DB.DSN == "" {
		logger.Info("using in-memory curator store")
		d.store = memorystorage.NewCuratorStore()
		return nil
	}
	if cfg.DB.Migrate {
		if err := postgres.Migrate(cfg.DB.DSN); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
		logger.Info("postgres migrations applied")
	}
	store, err := postgres.NewCuratorStore(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
	})
	if err != nil {
		return err
	}
	d.closers = append(d.closers, store.Close)
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	d.store = store
	d.checks = append(d.checks, store.Ping)
	logger.Info("using postgres curator store")
	return nil
}

func (d *deps) buildArchive(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	switch cfg.Archive.Backend {
	case "", config.ArchiveNone:
		return nil
	case config.ArchiveMemory:
		d.archive = memorystorage.NewBlobStore()
	case config.ArchiveLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: cfg.Archive.BaseDir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		d.archive = blobs
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create storage client: %w", err)
		}
		d.closers = append(d.closers, func() {
			if cerr := client.Close(); cerr != nil {
				logger.Warn("close storage client", zap.Error(cerr))
			}
		})
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		if err := blobs.VerifyBucket(ctx); err != nil {
			return err
		}
		d.archive = blobs
	default:
		return fmt.Errorf("unknown archive backend %q", cfg.Archive.Backend)
	}
	logger.Info("raw page archive enabled", zap.String("backend", cfg.Archive.Backend))
	return nil
}

func (d *deps) buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.PubSub.TopicName == "" {
		return nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	pub, err := pubsubpublisher.New(client, cfg.PubSub.TopicName)
	if err != nil {
		_ = client.Close()
		return err
	}
	d.closers = append(d.closers, func() {
		if cerr := pub.Close(); cerr != nil {
			logger.Warn("close pubsub publisher", zap.Error(cerr))
		}
	})
	if err := pub.VerifyTopic(ctx); err != nil {
		return err
	}
	d.publisher = pub
	logger.Info("run summaries published", zap.String("topic", cfg.PubSub.TopicName))
	return nil
}

func (d *deps) buildGuard(cfg config.Config, logger *zap.Logger) error {
	if cfg.Redis.Addr == "" {
		d.guard = lease.NewLocal()
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	d.closers = append(d.closers, func() {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("close redis client", zap.Error(cerr))
		}
	})
	guard, err := lease.NewRedis(client, lease.RedisConfig{
		Key: cfg.Redis.LeaseKey,
		TTL: cfg.Redis.LeaseTTL,
	}, logger.Named("lease"))
	if err != nil {
		return err
	}
	d.guard = guard
	d.checks = append(d.checks, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		return nil
	})
	logger.Info("using redis run lease", zap.String("addr", cfg.Redis.Addr))
	return nil
}

// bootstrapSeeds inserts configured seeds; existing rows keep their processed flag.
func bootstrapSeeds(ctx context.Context, store curator.Store, seeds []config.SeedConfig) error {
	if len(seeds) == 0 {
		return nil
	}
	out := make([]curator.SeedCurator, 0, len(seeds))
	for _, s := range seeds {
		out = append(out, curator.SeedCurator{ID: s.ID, Handle: s.Handle})
	}
	if err := store.UpsertSeeds(ctx, out); err != nil {
		return fmt.Errorf("bootstrap seeds: %w", err)
	}
	return nil
}
