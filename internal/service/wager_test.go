package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dice-wager-engine/internal/game/dice"
	"dice-wager-engine/internal/model"
	"dice-wager-engine/internal/pkg/apperrors"
	"dice-wager-engine/internal/settings"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	os.Exit(m.Run())
}

func play(h *harness, key string, bet int64) (*WagerResult, error) {
	return h.wagers.Play(context.Background(), model.WagerRequest{
		UserID:         playerID,
		BetAmount:      bet,
		IdempotencyKey: key,
	})
}

func requireKind(t *testing.T, err error, kind apperrors.ErrorType) *apperrors.AppError {
	t.Helper()
	require.Error(t, err)
	appErr := apperrors.Wrap(err)
	require.Equal(t, kind, appErr.Type, "unexpected error: %v", err)
	return appErr
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}

// ============================================================================
// Request validation
// ============================================================================

func TestPlay_RequiresIdempotencyKey(t *testing.T) {
	h := newHarness(t, nil)
	h.fund(t, playerID, 1000)

	_, err := play(h, "  ", 100)
	requireKind(t, err, apperrors.ErrValidation)
}

func TestPlay_RejectsInvalidRequests(t *testing.T) {
	h := newHarness(t, nil)
	h.fund(t, playerID, 100000)
	ctx := context.Background()

	tests := []struct {
		name string
		req  model.WagerRequest
		kind apperrors.ErrorType
		msg  string
	}{
		{"unknown tier", model.WagerRequest{Tier: "insane", BetAmount: 100}, apperrors.ErrValidation, "not available"},
		{"too many dice", model.WagerRequest{DiceCount: 6, BetAmount: 100}, apperrors.ErrValidation, "dice count"},
		{"dice too low for tier", model.WagerRequest{Tier: "hard", DiceCount: 1, BetAmount: 100}, apperrors.ErrValidation, "dice count too low for tier"},
		{"bet below minimum", model.WagerRequest{BetAmount: 5}, apperrors.ErrValidation, "bet must be between"},
		{"bet above maximum", model.WagerRequest{BetAmount: 20000}, apperrors.ErrValidation, "bet must be between"},
		{"unknown user", model.WagerRequest{UserID: 99, BetAmount: 100}, apperrors.ErrNotFound, "not found"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			if req.UserID == 0 {
				req.UserID = playerID
			}
			req.IdempotencyKey = fmt.Sprintf("invalid-%d", i)

			_, err := h.wagers.Play(ctx, req)
			appErr := requireKind(t, err, tt.kind)
			assert.Contains(t, appErr.Message, tt.msg)
		})
	}

	assert.Equal(t, int64(100000), h.balance(t, playerID))
	count, err := h.riskStore.DailyCount(ctx, today(), playerID)
	require.NoError(t, err)
	assert.Zero(t, count, "rejected wagers must not hold a daily slot")
}

func TestPlay_SuspendedUserIsForbidden(t *testing.T) {
	h := newHarness(t, nil)
	h.fund(t, playerID, 1000)
	require.NoError(t, h.accounts.SetSuspended(context.Background(), playerID, true))

	_, err := play(h, "k", 100)
	requireKind(t, err, apperrors.ErrForbidden)
}

func TestPlay_InsufficientBalanceReleasesReservation(t *testing.T) {
	h := newHarness(t, nil)
	h.fund(t, playerID, 50)

	_, err := play(h, "k", 100)
	appErr := requireKind(t, err, apperrors.ErrValidation)
	assert.Contains(t, appErr.Message, "insufficient balance")

	assert.Equal(t, int64(50), h.balance(t, playerID))
	count, err := h.riskStore.DailyCount(context.Background(), today(), playerID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

// ============================================================================
// Idempotency
// ============================================================================

func TestPlay_ReplayDoesNotDebitTwice(t *testing.T) {
	h := newHarness(t, nil)
	h.fund(t, playerID, 10000)

	first, err := play(h, "wager-1", 100)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	after := h.balance(t, playerID)
	assert.Equal(t, first.Record.BalanceAfter, after)

	again, err := play(h, "wager-1", 100)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Record.ID, again.Record.ID)
	assert.Equal(t, first.Record.Faces, again.Record.Faces)
	assert.Equal(t, after, h.balance(t, playerID))

	recs, err := h.records.List(context.Background(), model.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestPlay_KeyOfAnotherUserConflicts(t *testing.T) {
	h := newHarness(t, nil)
	h.fund(t, playerID, 1000)
	h.fund(t, playerID+1, 1000)

	_, err := play(h, "shared", 100)
	require.NoError(t, err)

	_, err = h.wagers.Play(context.Background(), model.WagerRequest{UserID: playerID + 1, BetAmount: 100, IdempotencyKey: "shared"})
	requireKind(t, err, apperrors.ErrConflict)
	assert.Equal(t, int64(1000), h.balance(t, playerID+1))
}

func TestPlay_ConcurrentSameKeySettlesOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.fund(t, playerID, 10000)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		settled  int
		replayed int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := play(h, "same-key", 100)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				assert.True(t, apperrors.Is(err, apperrors.ErrConflict), "unexpected error: %v", err)
			case res.Replayed:
				replayed++
			default:
				settled++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, settled)
	recs, err := h.records.List(context.Background(), model.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, recs[0].BalanceAfter, h.balance(t, playerID))
}

// ============================================================================
// Outcomes
// ============================================================================

func TestPlay_FixedLossAlwaysLosesAndIsAudited(t *testing.T) {
	h := newHarness(t, manipulate(model.ModeFixedLoss))
	h.fund(t, playerID, 10000)
	ctx := context.Background()

	const n = 25
	for i := 0; i < n; i++ {
		res, err := play(h, fmt.Sprintf("loss-%d", i), 50)
		require.NoError(t, err)
		assert.False(t, res.Record.IsWin)
		assert.Equal(t, model.AppliedManipulated, res.Record.AppliedMode)
		assert.Equal(t, model.ModeFixedLoss, res.Record.ManipulationMode)
		assert.Equal(t, int64(0), res.Record.Payout)

		win, err := dice.IsWin(res.Record.Faces, dice.Cutoff(16.67, 3))
		require.NoError(t, err)
		assert.False(t, win, "displayed faces must agree with the decided loss")
	}

	assert.Equal(t, int64(10000-n*50), h.balance(t, playerID))

	entries, err := h.audit.List(ctx, model.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, n)
	for _, e := range entries {
		assert.Equal(t, model.ModeFixedLoss, e.Mode)
		assert.False(t, e.DecidedWin)
		assert.Equal(t, e.NaturalWin, e.Changed, "a natural win is the only thing fixed_loss changes")
		assert.Equal(t, playerID, e.UserID)
	}
	assert.Equal(t, n, h.notes.manipulated)
}

func TestPlay_FixedWinPaysWithinOdds(t *testing.T) {
	h := newHarness(t, manipulate(model.ModeFixedWin))
	h.fund(t, playerID, 10000)

	res, err := play(h, "win", 100)
	require.NoError(t, err)
	rec := res.Record

	assert.True(t, rec.IsWin)
	win, err := dice.IsWin(rec.Faces, dice.Cutoff(16.67, 3))
	require.NoError(t, err)
	assert.True(t, win)

	assert.True(t, rec.Multiplier.GreaterThanOrEqual(decimal.RequireFromString("1.2")))
	assert.True(t, rec.Multiplier.LessThanOrEqual(decimal.RequireFromString("1.8")))
	winnings := decimal.NewFromInt(rec.Stake).Mul(rec.Multiplier).Floor().IntPart()
	assert.Equal(t, rec.Stake+winnings, rec.Payout)
	assert.Equal(t, rec.BalanceAfter, h.balance(t, playerID))
}

func TestPlay_FairModeIsNotAudited(t *testing.T) {
	h := newHarness(t, nil)
	h.fund(t, playerID, 10000)

	for i := 0; i < 10; i++ {
		res, err := play(h, fmt.Sprintf("fair-%d", i), 100)
		require.NoError(t, err)
		assert.Equal(t, model.AppliedFair, res.Record.AppliedMode)

		win, err := dice.IsWin(res.Record.Faces, dice.Cutoff(16.67, 3))
		require.NoError(t, err)
		assert.Equal(t, win, res.Record.IsWin)
	}

	entries, err := h.audit.List(context.Background(), model.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPlay_SeededOutcomesAreReproducible(t *testing.T) {
	seeded := func(e *settings.Editor) *settings.Editor {
		return e.SetManipulation(model.Manipulation{Mode: model.ModeFair, Seed: "table-7"})
	}

	results := make([]*model.GameRecord, 2)
	for i := range results {
		h := newHarness(t, seeded)
		h.fund(t, playerID, 10000)
		res, err := play(h, "round-42", 100)
		require.NoError(t, err)
		results[i] = res.Record
	}

	assert.Equal(t, results[0].Faces, results[1].Faces)
	assert.Equal(t, results[0].IsWin, results[1].IsWin)
	assert.True(t, results[0].Multiplier.Equal(results[1].Multiplier))
	assert.Equal(t, "table-7", results[0].SeedUsed)
	assert.Equal(t, dice.NonceFromKey("round-42"), results[0].Nonce)
}

func TestPlay_EasyTierStatistics(t *testing.T) {
	if testing.Short() {
		t.Skip("statistical test")
	}

	h := newHarness(t, func(e *settings.Editor) *settings.Editor {
		return e.SetRisk(model.RiskLimits{
			MaxLossPerHour:      1_000_000_000,
			MaxWinPerHour:       1_000_000_000,
			MaxDailyBetsPerUser: 200_000,
			AutoShutdown:        true,
		})
	})
	h.fund(t, playerID, 10_000_000)

	const trials = 100_000
	var (
		wins    int
		multSum float64
	)
	for i := 0; i < trials; i++ {
		res, err := play(h, fmt.Sprintf("stat-%d", i), 10)
		require.NoError(t, err)
		if res.Record.IsWin {
			wins++
			multSum += res.Record.Multiplier.InexactFloat64()
		}
	}

	assert.InDelta(t, 1.0/6, float64(wins)/trials, 0.01)
	avg := multSum / float64(wins)
	assert.GreaterOrEqual(t, avg, 1.2)
	assert.LessOrEqual(t, avg, 1.8)
}

// ============================================================================
// Audit failures
// ============================================================================

func TestPlay_AuditFailureFailsClosedAndHaltsTier(t *testing.T) {
	h := newHarness(t, manipulate(model.ModeFixedLoss))
	h.fund(t, playerID, 10000)
	h.auditW.failing.Store(true)

	for i := 0; i < 2; i++ {
		_, err := play(h, fmt.Sprintf("audit-%d", i), 100)
		requireKind(t, err, apperrors.ErrTransient)
	}

	_, err := play(h, "audit-2", 100)
	appErr := requireKind(t, err, apperrors.ErrFatal)
	assert.Equal(t, apperrors.ReasonTierHalted, appErr.Reason)
	assert.Equal(t, []string{"easy"}, h.notes.halted)

	h.auditW.failing.Store(false)
	_, err = play(h, "audit-3", 100)
	requireKind(t, err, apperrors.ErrFatal)

	assert.Equal(t, int64(10000), h.balance(t, playerID), "failed wagers must not move money")
	count, err := h.riskStore.DailyCount(context.Background(), today(), playerID)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, h.settings.ResumeTier(adminID, "easy"))
	_, err = play(h, "audit-4", 100)
	require.NoError(t, err)
}

func TestPlay_AuditFailureWithoutLoggingDoesNotHalt(t *testing.T) {
	h := newHarness(t, func(e *settings.Editor) *settings.Editor {
		return e.SetManipulation(model.Manipulation{Enabled: true, Mode: model.ModeFixedLoss})
	})
	h.fund(t, playerID, 10000)
	h.auditW.failing.Store(true)

	for i := 0; i < 5; i++ {
		_, err := play(h, fmt.Sprintf("audit-%d", i), 100)
		requireKind(t, err, apperrors.ErrTransient)
	}
	assert.False(t, h.halts.Halted("easy"))
}

func TestPlay_HaltSurvivesAutoShutdown(t *testing.T) {
	h := newHarness(t, manipulate(model.ModeFixedLoss))
	h.fund(t, playerID, 10000)
	ctx := context.Background()

	h.auditW.failing.Store(true)
	for i := 0; i < 3; i++ {
		_, _ = play(h, fmt.Sprintf("halt-%d", i), 100)
	}
	require.True(t, h.halts.Halted("easy"))
	h.auditW.failing.Store(false)

	_, err := h.store.Disable(ctx, apperrors.ReasonHourlyLoss)
	require.NoError(t, err)
	assert.True(t, h.halts.Halted("easy"), "an automatic shutdown must not lift an audit halt")

	_, err = h.settings.UpdateAvailability(ctx, adminID, true, false)
	require.NoError(t, err)
	assert.False(t, h.halts.Halted("easy"), "an admin settings change lifts the halt")

	_, err = play(h, "halt-after", 100)
	require.NoError(t, err)
}

func TestPlay_LossModesNeverMeetATierThatAlwaysWins(t *testing.T) {
	h := newHarness(t, manipulate(model.ModeFixedLoss))
	h.fund(t, playerID, 10000)
	ctx := context.Background()
	sure := model.Tier{Enabled: true, Probability: 100, Odds: model.OddsRange{Min: 1, Max: 1}}

	_, err := h.settings.UpdateTier(ctx, adminID, "sure", sure, true)
	requireKind(t, err, apperrors.ErrConfigInvalid)
	_, ok := h.store.Snapshot().Tier("sure")
	assert.False(t, ok)

	// The other order is refused too.
	h2 := newHarness(t, nil)
	_, err = h2.settings.UpdateTier(ctx, adminID, "sure", sure, true)
	require.NoError(t, err)
	_, err = h2.settings.UpdateManipulation(ctx, adminID, model.Manipulation{Enabled: true, Mode: model.ModeFixedLoss, LogManipulations: true})
	requireKind(t, err, apperrors.ErrConfigInvalid)

	for i := 0; i < 20; i++ {
		res, err := play(h, fmt.Sprintf("loss-%d", i), 100)
		require.NoError(t, err)
		assert.False(t, res.Record.IsWin)
	}
}

// ============================================================================
// Risk
// ============================================================================

func TestPlay_DailyLimit(t *testing.T) {
	h := newHarness(t, func(e *settings.Editor) *settings.Editor {
		return e.SetRisk(model.RiskLimits{
			MaxLossPerHour:      1_000_000,
			MaxWinPerHour:       1_000_000,
			MaxDailyBetsPerUser: 5,
			AutoShutdown:        true,
		})
	})
	h.fund(t, playerID, 10000)

	for i := 0; i < 5; i++ {
		_, err := play(h, fmt.Sprintf("daily-%d", i), 10)
		require.NoError(t, err)
	}

	_, err := play(h, "daily-5", 10)
	appErr := requireKind(t, err, apperrors.ErrRiskDenied)
	assert.Equal(t, apperrors.ReasonDailyLimit, appErr.Reason)
	assert.Equal(t, "daily limit exceeded", appErr.Message)

	// A replay of a settled wager is still answered.
	res, err := play(h, "daily-0", 10)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
}

func TestPlay_AutoShutdownDisablesGame(t *testing.T) {
	h := newHarness(t, func(e *settings.Editor) *settings.Editor {
		return manipulate(model.ModeFixedWin)(e).SetRisk(model.RiskLimits{
			MaxLossPerHour:      100,
			MaxWinPerHour:       1_000_000,
			MaxDailyBetsPerUser: 100,
			AutoShutdown:        true,
		})
	})
	h.fund(t, playerID, 10000)

	_, err := play(h, "big", 100)
	appErr := requireKind(t, err, apperrors.ErrRiskDenied)
	assert.Equal(t, apperrors.ReasonHourlyLoss, appErr.Reason)

	assert.False(t, h.store.Snapshot().GameEnabled)
	assert.Equal(t, []string{apperrors.ReasonHourlyLoss}, h.notes.shutdowns)
	assert.Equal(t, int64(10000), h.balance(t, playerID))

	_, err = play(h, "after", 100)
	appErr = requireKind(t, err, apperrors.ErrRiskDenied)
	assert.Equal(t, apperrors.ReasonGameDisabled, appErr.Reason)

	bucket, err := h.reporting.CurrentHour(context.Background())
	require.NoError(t, err)
	assert.Zero(t, bucket.TotalLoss)
}

func TestPlay_HourlyBucketMatchesSettledNet(t *testing.T) {
	h := newHarness(t, nil)
	h.fund(t, playerID, 100000)
	ctx := context.Background()

	var houseWin, houseLoss int64
	for i := 0; i < 50; i++ {
		res, err := play(h, fmt.Sprintf("bucket-%d", i), 100)
		require.NoError(t, err)
		d := model.DeltaForNet(res.Record.Net())
		houseWin += d.Win
		houseLoss += d.Loss
	}

	live, err := h.reporting.CurrentHour(ctx)
	require.NoError(t, err)
	assert.Equal(t, houseWin, live.TotalWin)
	assert.Equal(t, houseLoss, live.TotalLoss)

	persisted, err := h.reporting.HourlyBuckets(ctx, live.Start, live.Start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, houseWin, persisted[0].TotalWin)
	assert.Equal(t, houseLoss, persisted[0].TotalLoss)
	assert.Equal(t, int64(50), persisted[0].Wagers)
}

func TestPlay_ConcurrentPlayersKeepBucketsExact(t *testing.T) {
	const (
		players   = 8
		perPlayer = 25
	)
	h := newHarness(t, nil)
	ctx := context.Background()
	for i := int64(0); i < players; i++ {
		h.fund(t, 100+i, 100000)
	}

	var (
		mu      sync.Mutex
		records []*model.GameRecord
		wg      sync.WaitGroup
	)
	for i := int64(0); i < players; i++ {
		userID := 100 + i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perPlayer; j++ {
				res, err := h.wagers.Play(ctx, model.WagerRequest{
					UserID:         userID,
					BetAmount:      100,
					IdempotencyKey: fmt.Sprintf("concurrent-%d-%d", userID, j),
				})
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				records = append(records, res.Record)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, records, players*perPlayer)

	var houseWin, houseLoss int64
	for _, rec := range records {
		d := model.DeltaForNet(rec.Net())
		houseWin += d.Win
		houseLoss += d.Loss
	}

	live, err := h.reporting.CurrentHour(ctx)
	require.NoError(t, err)
	assert.Equal(t, houseWin, live.TotalWin)
	assert.Equal(t, houseLoss, live.TotalLoss)

	persisted, err := h.reporting.HourlyBuckets(ctx, live.Start, live.Start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, houseWin, persisted[0].TotalWin)
	assert.Equal(t, houseLoss, persisted[0].TotalLoss)
	assert.Equal(t, int64(players*perPlayer), persisted[0].Wagers)

	for i := int64(0); i < players; i++ {
		count, err := h.riskStore.DailyCount(ctx, today(), 100+i)
		require.NoError(t, err)
		assert.Equal(t, perPlayer, count)
	}
}

func TestPlay_LargeWinNotifies(t *testing.T) {
	h := newHarness(t, manipulate(model.ModeFixedWin))
	h.fund(t, playerID, 10000)

	_, err := play(h, "jackpot", 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, h.notes.largeWins)
}

func TestPlay_FixedTargetVariant(t *testing.T) {
	h := newHarness(t, func(e *settings.Editor) *settings.Editor {
		return manipulate(model.ModeFixedWin)(e).
			SetEntryFee(10).
			SetVariant(model.VariantFixedTarget, model.FixedPayout{WinAmount: 500})
	})
	h.fund(t, playerID, 1000)

	res, err := play(h, "fixed", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Record.Stake)
	assert.Equal(t, int64(10), res.Record.EntryFee)
	assert.Equal(t, int64(500), res.Record.Payout)
	assert.Equal(t, int64(1490), h.balance(t, playerID))
}

// ============================================================================
// Tier breaker
// ============================================================================

func TestTierBreaker(t *testing.T) {
	b := NewTierBreaker(2)

	n, halted := b.Failure("easy")
	assert.Equal(t, 1, n)
	assert.False(t, halted)

	b.Success("easy")
	_, halted = b.Failure("easy")
	assert.False(t, halted, "a success resets the streak")

	_, halted = b.Failure("easy")
	assert.True(t, halted)
	assert.True(t, b.Halted("easy"))
	assert.False(t, b.Halted("hard"))
	assert.Equal(t, []string{"easy"}, b.HaltedTiers())

	assert.True(t, b.Resume("easy"))
	assert.False(t, b.Resume("easy"))
	assert.False(t, b.Halted("easy"))

	b.Failure("hard")
	b.Failure("hard")
	b.Reset()
	assert.Empty(t, b.HaltedTiers())
}
