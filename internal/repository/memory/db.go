// Package memory provides in-process repositories with the same behavior as
// the PostgreSQL ones. It backs the memory storage driver and the tests.
//
// Transactions are serialized and rolled back by replaying an undo journal
// in reverse. Reads outside a transaction may observe uncommitted writes.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"dice-wager-engine/internal/model"
)

// DB holds every table.
type DB struct {
	mu sync.Mutex

	users        map[int64]*model.User
	ledger       []*model.LedgerEntry
	nextLedgerID int64
	records      []*model.GameRecord
	recordsByKey map[string]*model.GameRecord
	audit        []*model.AuditEntry
	settings     []*model.SettingsVersion
	buckets      map[string]*model.RiskBucket
	daily        map[dailyKey]int

	txMu sync.Mutex
}

type dailyKey struct {
	day    string
	userID int64
}

// NewDB creates an empty database.
func NewDB() *DB {
	return &DB{
		users:        make(map[int64]*model.User),
		recordsByKey: make(map[string]*model.GameRecord),
		buckets:      make(map[string]*model.RiskBucket),
		daily:        make(map[dailyKey]int),
	}
}

type journalKey struct{}

type journal struct {
	undo []func()
}

// TxManager runs functions atomically against a DB.
type TxManager struct {
	db *DB
}

// NewTxManager creates a transaction manager for db.
func NewTxManager(db *DB) *TxManager {
	return &TxManager{db: db}
}

// Do runs fn in a transaction. A nested call joins the outer transaction.
// If fn returns an error or panics every write it made is undone.
func (m *TxManager) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(journalKey{}).(*journal); ok {
		return fn(ctx)
	}

	m.db.txMu.Lock()
	defer m.db.txMu.Unlock()

	j := &journal{}
	defer func() {
		if p := recover(); p != nil {
			m.db.rollback(j)
			panic(p)
		}
		if err != nil {
			m.db.rollback(j)
		}
	}()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction not started: %w", err)
	}
	return fn(context.WithValue(ctx, journalKey{}, j))
}

func (db *DB) rollback(j *journal) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	if len(j.undo) > 0 {
		log.Debug().Int("writes", len(j.undo)).Msg("Memory transaction rolled back")
	}
}

// write runs fn under the data lock and registers undo with the caller's
// transaction, if any. fn returns the undo step or an error.
func (db *DB) write(ctx context.Context, fn func() (func(), error)) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	undo, err := fn()
	if err != nil {
		return err
	}
	if j, ok := ctx.Value(journalKey{}).(*journal); ok && undo != nil {
		j.undo = append(j.undo, undo)
	}
	return nil
}

func (db *DB) read(fn func()) {
	db.mu.Lock()
	defer db.mu.Unlock()
	fn()
}

func limitOrDefault(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
