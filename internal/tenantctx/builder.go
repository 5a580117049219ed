package tenantctx

import (
	"context"
	"fmt"
	"time"

	infraredis "github.com/kursadbilgin/sms-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/sms-dispatch/internal/repository"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// DBOpener returns the database handle that serves hostKey.
type DBOpener func(ctx context.Context, hostKey string) (*gorm.DB, error)

type BuilderConfig struct {
	OpenDB DBOpener
	// Redis backs the memoizer; nil falls back to NoopMemoizer.
	Redis   *goredis.Client
	MemoTTL time.Duration
	Now     func() time.Time
}

// SharedDB serves every host from one pool, each through its own session.
func SharedDB(db *gorm.DB) DBOpener {
	return func(ctx context.Context, _ string) (*gorm.DB, error) {
		if db == nil {
			return nil, fmt.Errorf("database handle is required")
		}
		return db.Session(&gorm.Session{NewDB: true}), nil
	}
}

func NewBuilder(cfg BuilderConfig) (Builder, error) {
	if cfg.OpenDB == nil {
		return nil, fmt.Errorf("database opener is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return func(ctx context.Context, hostKey string) (*TenantContext, error) {
		db, err := cfg.OpenDB(ctx, hostKey)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}

		var memo Memoizer = NoopMemoizer{}
		if cfg.Redis != nil {
			store, err := infraredis.NewMemoStore(cfg.Redis, hostKey)
			if err != nil {
				return nil, err
			}
			memo, err = NewRedisMemoizer(store, cfg.MemoTTL)
			if err != nil {
				return nil, err
			}
		}

		return &TenantContext{
			HostKey:   hostKey,
			DB:        db,
			Messages:  repository.NewGormMessageRepo(db),
			Tenants:   repository.NewGormTenantRepo(db),
			Memo:      memo,
			CreatedAt: cfg.Now(),
		}, nil
	}, nil
}
