package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dice-wager-engine/internal/game/payout"
	"dice-wager-engine/internal/model"
	"dice-wager-engine/internal/repository/memory"
	"dice-wager-engine/internal/risk"
	"dice-wager-engine/internal/settings"
	"dice-wager-engine/internal/settlement"
)

const (
	playerID   int64 = 7
	adminID    int64 = 1
	operatorID int64 = 2
)

type recordingNotifier struct {
	mu          sync.Mutex
	manipulated int
	largeWins   int
	shutdowns   []string
	halted      []string
}

func (n *recordingNotifier) Manipulated(ctx context.Context, entry *model.AuditEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.manipulated++
}

func (n *recordingNotifier) LargeWin(ctx context.Context, rec *model.GameRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.largeWins++
}

func (n *recordingNotifier) AutoShutdown(ctx context.Context, reason string, bucket model.RiskBucket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shutdowns = append(n.shutdowns, reason)
}

func (n *recordingNotifier) TierHalted(ctx context.Context, tier string, failures int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.halted = append(n.halted, tier)
}

// flakyAudit fails every insert while failing is set.
type flakyAudit struct {
	inner   *memory.AuditRepository
	failing atomic.Bool
}

func (a *flakyAudit) Insert(ctx context.Context, e *model.AuditEntry) error {
	if a.failing.Load() {
		return errors.New("audit table unavailable")
	}
	return a.inner.Insert(ctx, e)
}

type staticPolicy struct {
	admins       map[int64]bool
	manipulators map[int64]bool
}

func (p staticPolicy) IsAdmin(userID int64) bool       { return p.admins[userID] }
func (p staticPolicy) CanManipulate(userID int64) bool { return p.manipulators[userID] }

type harness struct {
	db       *memory.DB
	users    *memory.UserRepository
	ledger   *memory.LedgerRepository
	records  *memory.RecordRepository
	audit    *memory.AuditRepository
	riskRepo *memory.RiskRepository

	store     *settings.Store
	riskStore *risk.MemoryStore
	riskMgr   *risk.Manager
	halts     *TierBreaker
	notes     *recordingNotifier
	auditW    *flakyAudit

	accounts  *AccountService
	wagers    *WagerService
	settings  *SettingsService
	reporting *ReportingService
}

// newHarness wires the engine on memory storage. edit, if set, is applied to
// the defaults before any wager is played.
func newHarness(t *testing.T, edit func(*settings.Editor) *settings.Editor) *harness {
	t.Helper()
	ctx := context.Background()

	defaults, err := settings.Defaults()
	require.NoError(t, err)

	db := memory.NewDB()
	h := &harness{
		db:       db,
		users:    memory.NewUserRepository(db),
		ledger:   memory.NewLedgerRepository(db),
		records:  memory.NewRecordRepository(db),
		audit:    memory.NewAuditRepository(db),
		riskRepo: memory.NewRiskRepository(db),
		notes:    &recordingNotifier{},
		halts:    NewTierBreaker(3),
	}
	h.auditW = &flakyAudit{inner: h.audit}

	resolver := payout.NewResolver()
	h.store, err = settings.NewStore(ctx, memory.NewSettingsRepository(db), settings.NewValidator(resolver, false), defaults, time.Second)
	require.NoError(t, err)
	if edit != nil {
		_, _, err = h.store.Update(ctx, "test", true, edit)
		require.NoError(t, err)
	}

	h.store.OnChange(h.halts.OnSettingsChange)

	tx := memory.NewTxManager(db)
	h.riskStore = risk.NewMemoryStore()
	h.riskMgr = risk.NewManager(h.riskStore, h.store, h.notes, risk.NewClock(time.UTC), time.Second)
	h.accounts = NewAccountService(h.users, h.ledger, tx)

	writer := settlement.NewWriter(tx, h.users, h.ledger, h.records, h.riskRepo, time.Second)
	h.wagers = NewWagerService(h.store, h.accounts, h.riskMgr, resolver, writer, h.records, h.auditW, h.notes, h.halts, WagerConfig{
		LockTimeout:       time.Second,
		LargeWinThreshold: 1000,
	})
	h.settings = NewSettingsService(h.store, staticPolicy{
		admins:       map[int64]bool{adminID: true, operatorID: true},
		manipulators: map[int64]bool{adminID: true},
	}, h.halts)
	h.reporting = NewReportingService(h.records, h.audit, h.ledger, h.riskRepo, h.riskMgr, 10)
	return h
}

// fund creates a player with balance.
func (h *harness) fund(t *testing.T, userID, balance int64) {
	t.Helper()
	ctx := context.Background()
	_, _, err := h.accounts.EnsureUser(ctx, userID, "player")
	require.NoError(t, err)
	if balance > 0 {
		_, err = h.accounts.Credit(ctx, userID, balance, "test", "fixture")
		require.NoError(t, err)
	}
}

func (h *harness) balance(t *testing.T, userID int64) int64 {
	t.Helper()
	b, err := h.accounts.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func manipulate(mode model.ManipulationMode) func(*settings.Editor) *settings.Editor {
	return func(e *settings.Editor) *settings.Editor {
		return e.SetManipulation(model.Manipulation{
			Enabled:          true,
			Mode:             mode,
			Bias:             1,
			WinProbability:   0.5,
			LogManipulations: true,
		})
	}
}
