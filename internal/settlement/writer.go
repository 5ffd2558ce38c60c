// Package settlement applies a decided wager to the wallet in one transaction:
// debits, credit, immutable game record and the persisted risk windows either
// all commit or none do.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"dice-wager-engine/internal/model"
	"dice-wager-engine/internal/pkg/metrics"
	"dice-wager-engine/internal/repository"
)

// ErrInsufficientBalance means the balance cannot cover stake plus entry fee.
var ErrInsufficientBalance = errors.New("insufficient balance")

// TxManager runs fn in a transaction. *manager.Manager from
// go-transaction-manager satisfies it.
type TxManager interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Wallet holds player balances.
type Wallet interface {
	GetForUpdate(ctx context.Context, id int64) (*model.User, error)
	UpdateBalance(ctx context.Context, id int64, amount int64) (*model.User, error)
}

// Ledger records every balance change.
type Ledger interface {
	Create(ctx context.Context, e *model.LedgerEntry) error
}

// Records stores settled wagers.
type Records interface {
	Insert(ctx context.Context, rec *model.GameRecord) error
	GetByIdempotencyKey(ctx context.Context, key string) (*model.GameRecord, error)
}

// RiskLedger persists confirmed risk window updates.
type RiskLedger interface {
	AddToBucket(ctx context.Context, key string, start time.Time, delta model.RiskDelta) error
	IncrementDailyCount(ctx context.Context, day string, userID int64) error
}

// Settlement is everything decided about a wager before money moves.
type Settlement struct {
	Request   model.WagerRequest
	Settings  *model.GameSettings
	Tier      string
	DiceCount int
	Outcome   model.Outcome
	Quote     model.Quote
	HourKey   string
	HourStart time.Time
	Day       string
}

// Writer settles wagers.
type Writer struct {
	tx      TxManager
	wallet  Wallet
	ledger  Ledger
	records Records
	risk    RiskLedger
	timeout time.Duration
	now     func() time.Time
}

// NewWriter creates a settlement writer.
func NewWriter(tx TxManager, wallet Wallet, ledger Ledger, records Records, risk RiskLedger, timeout time.Duration) *Writer {
	return &Writer{
		tx:      tx,
		wallet:  wallet,
		ledger:  ledger,
		records: records,
		risk:    risk,
		timeout: timeout,
		now:     time.Now,
	}
}

// Settle commits st. When a record for the idempotency key already exists
// nothing is written and the stored record is returned with replayed=true.
func (w *Writer) Settle(ctx context.Context, st Settlement) (rec *model.GameRecord, replayed bool, err error) {
	started := time.Now()
	defer func() {
		result := "committed"
		switch {
		case replayed:
			result = "replayed"
		case err != nil:
			result = "rolled_back"
		}
		metrics.SettlementLatency.WithLabelValues(result).Observe(time.Since(started).Seconds())
	}()

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	err = w.tx.Do(ctx, func(ctx context.Context) error {
		var txErr error
		rec, txErr = w.apply(ctx, st)
		return txErr
	})
	if errors.Is(err, repository.ErrDuplicateWager) {
		existing, getErr := w.records.GetByIdempotencyKey(ctx, st.Request.IdempotencyKey)
		if getErr != nil {
			return nil, false, fmt.Errorf("failed to load settled wager: %w", getErr)
		}
		return existing, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	log.Debug().
		Str("wager_id", rec.ID).
		Int64("user_id", rec.UserID).
		Int64("net", rec.Net()).
		Int64("balance", rec.BalanceAfter).
		Msg("Wager settled")
	return rec, false, nil
}

func (w *Writer) apply(ctx context.Context, st Settlement) (*model.GameRecord, error) {
	req := st.Request
	q := st.Quote

	user, err := w.wallet.GetForUpdate(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if user.Balance < q.Debit() {
		return nil, fmt.Errorf("%w: balance %d, need %d", ErrInsufficientBalance, user.Balance, q.Debit())
	}

	id := uuid.NewString()
	before := user.Balance
	balance := before

	move := func(amount int64, txType, desc string) error {
		if amount == 0 {
			return nil
		}
		u, err := w.wallet.UpdateBalance(ctx, req.UserID, amount)
		if err != nil {
			return err
		}
		balance = u.Balance
		return w.ledger.Create(ctx, &model.LedgerEntry{
			UserID:      req.UserID,
			Amount:      amount,
			Type:        txType,
			WagerID:     &id,
			Description: &desc,
		})
	}

	if err := move(-q.EntryFee, model.TxTypeEntryFee, "entry fee"); err != nil {
		return nil, err
	}
	if err := move(-q.Stake, model.TxTypeStake, fmt.Sprintf("stake on tier %s", st.Tier)); err != nil {
		return nil, err
	}
	if err := move(q.Credit, model.TxTypePayout, fmt.Sprintf("payout x%s", q.Multiplier.StringFixed(2))); err != nil {
		return nil, err
	}

	rec := &model.GameRecord{
		ID:               id,
		IdempotencyKey:   req.IdempotencyKey,
		UserID:           req.UserID,
		SettingsVersion:  st.Settings.Version,
		Variant:          st.Settings.Variant,
		Tier:             st.Tier,
		DiceCount:        st.DiceCount,
		BetAmount:        req.BetAmount,
		Faces:            st.Outcome.Faces,
		IsWin:            st.Outcome.IsWin,
		AppliedMode:      st.Outcome.AppliedMode,
		ManipulationMode: st.Outcome.Mode,
		SeedUsed:         st.Outcome.SeedUsed,
		Nonce:            st.Outcome.Nonce,
		Stake:            q.Stake,
		EntryFee:         q.EntryFee,
		Multiplier:       q.Multiplier,
		Payout:           q.Credit,
		BalanceBefore:    before,
		BalanceAfter:     balance,
		HourBucket:       st.HourKey,
		DayBucket:        st.Day,
		CreatedAt:        w.now().UTC(),
	}
	if err := w.records.Insert(ctx, rec); err != nil {
		return nil, err
	}

	if err := w.risk.AddToBucket(ctx, st.HourKey, st.HourStart, model.DeltaForNet(q.Net())); err != nil {
		return nil, err
	}
	if err := w.risk.IncrementDailyCount(ctx, st.Day, req.UserID); err != nil {
		return nil, err
	}
	return rec, nil
}
