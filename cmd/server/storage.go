package main

import (
	"context"
	"fmt"
	"time"

	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/rs/zerolog/log"

	"dice-wager-engine/internal/config"
	"dice-wager-engine/internal/model"
	"dice-wager-engine/internal/pkg/db"
	"dice-wager-engine/internal/pkg/metrics"
	"dice-wager-engine/internal/repository"
	"dice-wager-engine/internal/repository/memory"
	"dice-wager-engine/internal/risk"
	"dice-wager-engine/internal/service"
	"dice-wager-engine/internal/settings"
	"dice-wager-engine/internal/settlement"
)

type userStore interface {
	service.UserStore
	GetForUpdate(ctx context.Context, id int64) (*model.User, error)
}

type ledgerStore interface {
	service.LedgerStore
	service.RankingQuery
}

type recordStore interface {
	settlement.Records
	service.RecordQuery
}

type auditStore interface {
	service.AuditWriter
	service.AuditQuery
}

type riskStore interface {
	settlement.RiskLedger
	service.BucketQuery
	risk.BucketLoader
	risk.Cleaner
}

// storage is one persistence driver's set of repositories.
type storage struct {
	tx       settlement.TxManager
	users    userStore
	ledger   ledgerStore
	records  recordStore
	audit    auditStore
	settings settings.Repository
	risk     riskStore
	health   func(ctx context.Context) error
	close    func()
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
		return openMemory(), nil
	default:
		return openPostgres(ctx, cfg)
	}
}

func openMemory() *storage {
	mdb := memory.NewDB()
	return &storage{
		tx:       memory.NewTxManager(mdb),
		users:    memory.NewUserRepository(mdb),
		ledger:   memory.NewLedgerRepository(mdb),
		records:  memory.NewRecordRepository(mdb),
		audit:    memory.NewAuditRepository(mdb),
		settings: memory.NewSettingsRepository(mdb),
		risk:     memory.NewRiskRepository(mdb),
		health:   func(context.Context) error { return nil },
		close:    func() {},
	}
}

func openPostgres(ctx context.Context, cfg *config.Config) (*storage, error) {
	pool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	if err := repository.RunMigrations(ctx, pool.Pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	trManager, err := manager.New(trmpgx.NewDefaultFactory(pool.Pool))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create transaction manager: %w", err)
	}

	metrics.RegisterPoolGauges(func() (int32, int32, int32) {
		st := pool.Stats()
		return st.TotalConns, st.IdleConns, st.AcquiredConns
	})

	return &storage{
		tx:       trManager,
		users:    repository.NewUserRepository(pool.Pool),
		ledger:   repository.NewLedgerRepository(pool.Pool),
		records:  repository.NewRecordRepository(pool.Pool),
		audit:    repository.NewAuditRepository(pool.Pool),
		settings: repository.NewSettingsRepository(pool.Pool),
		risk:     repository.NewRiskRepository(pool.Pool),
		health: func(ctx context.Context) error {
			return pool.HealthCheck(ctx, 2*time.Second)
		},
		close: pool.Close,
	}, nil
}

// openWindows returns the live risk window store.
func openWindows(ctx context.Context, cfg *config.Config) (risk.WindowStore, func(), error) {
	if cfg.Engine.RiskBackend != config.RiskBackendRedis {
		return risk.NewMemoryStore(), func() {}, nil
	}

	client, err := risk.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
	return risk.NewRedisStore(client, "wager:risk", cfg.Engine.RiskRetention()), closeFn, nil
}
