package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{"users table", `
		CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL DEFAULT '',
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			suspended BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`},
	{"ledger_entries table", `
		CREATE TABLE IF NOT EXISTS ledger_entries (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			amount BIGINT NOT NULL,
			type VARCHAR(32) NOT NULL,
			wager_id VARCHAR(64),
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_user_time ON ledger_entries(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_ledger_type_time ON ledger_entries(type, created_at DESC);
	`},
	{"game_records table", `
		CREATE TABLE IF NOT EXISTS game_records (
			id UUID PRIMARY KEY,
			idempotency_key VARCHAR(128) NOT NULL UNIQUE,
			user_id BIGINT NOT NULL REFERENCES users(id),
			settings_version BIGINT NOT NULL,
			variant VARCHAR(32) NOT NULL,
			tier VARCHAR(64) NOT NULL,
			dice_count INT NOT NULL,
			bet_amount BIGINT NOT NULL,
			faces INTEGER[] NOT NULL,
			is_win BOOLEAN NOT NULL,
			applied_mode VARCHAR(16) NOT NULL,
			manipulation_mode VARCHAR(32) NOT NULL DEFAULT '',
			seed_used TEXT NOT NULL DEFAULT '',
			nonce BIGINT NOT NULL,
			stake BIGINT NOT NULL,
			entry_fee BIGINT NOT NULL,
			multiplier NUMERIC(12,2) NOT NULL DEFAULT 0,
			payout BIGINT NOT NULL,
			balance_before BIGINT NOT NULL,
			balance_after BIGINT NOT NULL,
			hour_bucket VARCHAR(16) NOT NULL,
			day_bucket VARCHAR(10) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_game_records_user_time ON game_records(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_game_records_time ON game_records(created_at DESC);
	`},
	{"audit_entries table", `
		CREATE TABLE IF NOT EXISTS audit_entries (
			id UUID PRIMARY KEY,
			wager_key VARCHAR(128) NOT NULL,
			user_id BIGINT NOT NULL,
			tier VARCHAR(64) NOT NULL,
			mode VARCHAR(32) NOT NULL,
			parameters JSONB NOT NULL DEFAULT '{}'::jsonb,
			natural_faces INTEGER[] NOT NULL,
			natural_win BOOLEAN NOT NULL,
			displayed_faces INTEGER[] NOT NULL,
			decided_win BOOLEAN NOT NULL,
			changed BOOLEAN NOT NULL,
			settings_version BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_entries(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_entries(user_id, created_at DESC);
	`},
	{"append-only guards", `
		CREATE OR REPLACE FUNCTION reject_append_only_mutation() RETURNS trigger AS $$
		BEGIN
			RAISE EXCEPTION '% is append-only', TG_TABLE_NAME;
		END;
		$$ LANGUAGE plpgsql;
		DROP TRIGGER IF EXISTS audit_entries_append_only ON audit_entries;
		CREATE TRIGGER audit_entries_append_only BEFORE UPDATE OR DELETE ON audit_entries
			FOR EACH ROW EXECUTE FUNCTION reject_append_only_mutation();
		DROP TRIGGER IF EXISTS game_records_append_only ON game_records;
		CREATE TRIGGER game_records_append_only BEFORE UPDATE OR DELETE ON game_records
			FOR EACH ROW EXECUTE FUNCTION reject_append_only_mutation();
	`},
	{"settings_versions table", `
		CREATE TABLE IF NOT EXISTS settings_versions (
			version BIGINT PRIMARY KEY,
			document JSONB NOT NULL,
			updated_by VARCHAR(128) NOT NULL,
			reason VARCHAR(128) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`},
	{"risk tables", `
		CREATE TABLE IF NOT EXISTS risk_hourly_buckets (
			bucket_key VARCHAR(16) PRIMARY KEY,
			bucket_start TIMESTAMPTZ NOT NULL,
			total_win BIGINT NOT NULL DEFAULT 0,
			total_loss BIGINT NOT NULL DEFAULT 0,
			wagers BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_risk_hourly_start ON risk_hourly_buckets(bucket_start);
		CREATE TABLE IF NOT EXISTS risk_daily_counts (
			day VARCHAR(10) NOT NULL,
			user_id BIGINT NOT NULL,
			count INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (day, user_id)
		);
	`},
}

// RunMigrations applies the schema. Every statement is idempotent.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", i+1, m.name, err)
		}
		log.Info().Int("step", i+1).Str("migration", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
