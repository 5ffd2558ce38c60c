// Package repository provides the PostgreSQL data access layer.
//
// Every repository resolves its connection through the transaction manager's
// context getter, so calls made inside a settlement transaction join it and
// calls made outside run on the pool.
package repository

import (
	"context"
	"errors"

	sq "github.com/Masterminds/squirrel"
	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Common errors for repository operations.
var (
	ErrUserNotFound            = errors.New("user not found")
	ErrDuplicateUser           = errors.New("user already exists")
	ErrNegativeBalance         = errors.New("balance cannot go negative")
	ErrRecordNotFound          = errors.New("game record not found")
	ErrDuplicateWager          = errors.New("wager with this idempotency key already settled")
	ErrNoSettings              = errors.New("no settings stored")
	ErrSettingsVersionConflict = errors.New("settings version already exists")
)

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"
)

// psql builds statements with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// conn picks the transaction bound to ctx, falling back to the pool.
type conn struct {
	pool   *pgxpool.Pool
	getter *trmpgx.CtxGetter
}

func newConn(pool *pgxpool.Pool) conn {
	return conn{pool: pool, getter: trmpgx.DefaultCtxGetter}
}

func (c conn) db(ctx context.Context) trmpgx.Tr {
	return c.getter.DefaultTrOrDB(ctx, c.pool)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == checkViolation
}

func limitOrDefault(limit, def, max int) uint64 {
	if limit <= 0 {
		return uint64(def)
	}
	if limit > max {
		return uint64(max)
	}
	return uint64(limit)
}
