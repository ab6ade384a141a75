// Package bootstrap builds the runtime collaborators described by the config.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/redis/go-redis/v9"

	"promptapi/pkg/ai"
	"promptapi/pkg/storage"
	"promptapi/pkg/store"
	"promptapi/services/api/internal/config"
)

// OpenStore connects to the configured store, retrying while the database
// comes up.
func OpenStore(ctx context.Context, cfg config.FileConfig) (store.Store, error) {
	if strings.EqualFold(cfg.StoreBackend, "memory") {
		slog.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil
	}
	var st *store.GormStore
	err := withStartupRetry(ctx, cfg, "database", func() error {
		var err error
		st, err = store.NewGormStore(cfg.DatabaseURL, store.WithPool(
			cfg.DBMaxOpenConns,
			cfg.DBMaxIdleConns,
			config.MustDuration(cfg.DBConnMaxLifetime),
		))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// NewRedis returns a client when an address is configured, nil otherwise.
func NewRedis(cfg config.FileConfig) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
	})
}

// NewTokenManager builds an RS256 manager when a private key is configured
// and an HS256 one otherwise. Revocations live in Redis when rdb is set.
func NewTokenManager(cfg config.FileConfig, rdb *redis.Client) (*store.TokenManager, error) {
	var revoker store.TokenRevoker
	if rdb != nil {
		revoker = store.NewRedisTokenRevoker(rdb)
	} else {
		slog.Warn("redis not configured, token revocations are kept in memory")
		revoker = store.NewMemoryTokenRevoker()
	}
	opts := store.TokenOptions{
		AnonTTL:  config.MustDuration(cfg.AnonTokenTTL),
		AdminTTL: config.MustDuration(cfg.AdminTokenTTL),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   config.MustDuration(cfg.JWTLeeway),
		Revoker:  revoker,
	}
	if strings.TrimSpace(cfg.JWTPrivateKeyPath) != "" {
		return store.NewRS256TokenManagerFromPEM(
			cfg.JWTPrivateKeyPath,
			cfg.JWTPublicKeyPath,
			cfg.JWTKeyID,
			cfg.JWTVerifyPublicKeys,
			opts,
		)
	}
	return store.NewHS256TokenManager([]byte(cfg.JWTSecret), opts)
}

// NewImageHost connects to the configured image host.
func NewImageHost(ctx context.Context, cfg config.FileConfig) (storage.ImageHost, error) {
	if strings.EqualFold(cfg.ImageHost, "memory") {
		slog.Warn("using in-memory image host, images are not served")
		return storage.NewMemoryHost("http://localhost:" + cfg.Port + "/images"), nil
	}
	var host *storage.MinioHost
	err := withStartupRetry(ctx, cfg, "object store", func() error {
		var err error
		host, err = storage.NewMinioHost(ctx, storage.MinioConfig{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.MinioPublicBaseURL,
			PublicRead:    cfg.MinioPublicRead,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open image host: %w", err)
	}
	return host, nil
}

// NewGenerator returns the configured image generator.
func NewGenerator(cfg config.FileConfig) ai.ImageGenerator {
	if strings.EqualFold(cfg.Generator, "openai") {
		return ai.NewOpenAIImageGenerator(ai.OpenAIImageConfig{
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.OpenAIImageModel,
			MaxRetries: cfg.OpenAIMaxRetries,
			BaseURL:    cfg.OpenAIBaseURL,
		})
	}
	return ai.NewPlaceholderGenerator(2 * time.Second)
}

// GenerationDelay converts the configured delay to the lifecycle's
// convention, where zero selects the default and negative disables it.
func GenerationDelay(cfg config.FileConfig) time.Duration {
	delay := config.MustDuration(cfg.GenerationDelay)
	if delay == 0 {
		return -1
	}
	return delay
}

func withStartupRetry(ctx context.Context, cfg config.FileConfig, what string, fn func() error) error {
	attempts := cfg.StartupRetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(config.MustDuration(cfg.StartupRetryDelay)),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("startup connection failed, retrying", "target", what, "attempt", n+1, "err", err)
		}),
	)
}
