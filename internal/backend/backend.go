// Package backend opens the key-value storage selected in the configuration.
package backend

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/fjod/go_cart/cart-store/internal/config"
	"github.com/fjod/go_cart/cart-store/internal/kv"
	"github.com/fjod/go_cart/cart-store/internal/kv/sqlkv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Open returns the storage and the closer releasing its connections.
// Network backends are wrapped in a circuit breaker.
func Open(ctx context.Context, cfg config.StorageConfig) (kv.Storage, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		s := kv.NewMemoryStorage()
		log.Warn().Msg("using in-memory cart storage, cart will not survive restarts")
		return s, s, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("redis ping succeeded")
		s := kv.NewRedisStorage(client)
		return kv.NewBreakerStorage(s, "redis"), s, nil

	case config.BackendMongo:
		db, err := kv.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("uri", redactURI(cfg.MongoURI)).Str("db", cfg.MongoDBName).Msg("connected to MongoDB")
		s := kv.NewMongoStorage(db)
		return kv.NewBreakerStorage(s, "mongo"), s, nil

	case config.BackendSQLite:
		repo, err := openSQL(sqlkv.DriverSQLite, cfg.SQLitePath, cfg.MigrationsPath)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("opened sqlite storage")
		return repo, repo, nil

	case config.BackendPostgres:
		repo, err := openSQL(sqlkv.DriverPostgres, cfg.PostgresDSN, cfg.MigrationsPath)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Msg("connected to postgres")
		return kv.NewBreakerStorage(repo, "postgres"), repo, nil
	}

	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

func openSQL(driver, dsn, migrationsPath string) (*sqlkv.Repository, error) {
	repo, err := sqlkv.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := repo.RunMigrations(migrationsPath); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}

// redactURI masks the password of a connection URI before it is logged.
func redactURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparsable uri>"
	}
	return u.Redacted()
}
