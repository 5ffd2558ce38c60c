package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"dice-wager-engine/internal/game/dice"
	"dice-wager-engine/internal/game/manipulation"
	"dice-wager-engine/internal/game/payout"
	"dice-wager-engine/internal/model"
	"dice-wager-engine/internal/pkg/apperrors"
	"dice-wager-engine/internal/pkg/lock"
	"dice-wager-engine/internal/pkg/metrics"
	"dice-wager-engine/internal/repository"
	"dice-wager-engine/internal/risk"
	"dice-wager-engine/internal/settlement"
)

// MaxIdempotencyKeyLength bounds client supplied keys.
const MaxIdempotencyKeyLength = 128

// SettingsSource hands out the current settings snapshot.
type SettingsSource interface {
	Snapshot() *model.GameSettings
}

// IdentityChecker verifies that a user may play.
type IdentityChecker interface {
	CheckIdentity(ctx context.Context, userID int64) (*model.User, error)
}

// RecordLookup finds settled wagers by idempotency key.
type RecordLookup interface {
	GetByIdempotencyKey(ctx context.Context, key string) (*model.GameRecord, error)
}

// AuditWriter persists manipulated decisions.
type AuditWriter interface {
	Insert(ctx context.Context, e *model.AuditEntry) error
}

// Settler commits a decided wager.
type Settler interface {
	Settle(ctx context.Context, st settlement.Settlement) (*model.GameRecord, bool, error)
}

// WagerConfig tunes the orchestrator.
type WagerConfig struct {
	LockTimeout       time.Duration
	AuditTimeout      time.Duration
	LookupTimeout     time.Duration
	LargeWinThreshold int64
}

// WagerResult is what a player sees after a wager.
type WagerResult struct {
	Record   *model.GameRecord `json:"record"`
	Replayed bool              `json:"replayed"`
}

// WagerService drives one wager from request to settled record.
type WagerService struct {
	settings SettingsSource
	identity IdentityChecker
	risk     *risk.Manager
	payouts  *payout.Resolver
	settler  Settler
	records  RecordLookup
	audit    AuditWriter
	notifier Notifier
	halts    *TierBreaker
	cfg      WagerConfig

	userLock *lock.KeyLock[int64]
	inflight *lock.KeyLock[string]
	now      func() time.Time
}

// NewWagerService creates a new WagerService instance.
func NewWagerService(
	settings SettingsSource,
	identity IdentityChecker,
	riskMgr *risk.Manager,
	payouts *payout.Resolver,
	settler Settler,
	records RecordLookup,
	audit AuditWriter,
	notifier Notifier,
	halts *TierBreaker,
	cfg WagerConfig,
) *WagerService {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	if cfg.AuditTimeout <= 0 {
		cfg.AuditTimeout = 2 * time.Second
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 2 * time.Second
	}
	return &WagerService{
		settings: settings,
		identity: identity,
		risk:     riskMgr,
		payouts:  payouts,
		settler:  settler,
		records:  records,
		audit:    audit,
		notifier: notifier,
		halts:    halts,
		cfg:      cfg,
		userLock: lock.NewUserLock(),
		inflight: lock.New[string](),
		now:      time.Now,
	}
}

// Halts exposes the tier breaker.
func (s *WagerService) Halts() *TierBreaker {
	return s.halts
}

var transitions = map[model.WagerState][]model.WagerState{
	model.StateReceived:          {model.StateAdmitted},
	model.StateAdmitted:          {model.StateOutcomeDetermined, model.StateReversed},
	model.StateOutcomeDetermined: {model.StateSettled, model.StateReversed},
	model.StateSettled:           {model.StateCompleted},
}

// wager is the in-flight state of one request.
type wager struct {
	req       model.WagerRequest
	settings  *model.GameSettings
	tierID    string
	tier      model.Tier
	diceCount int
	state     model.WagerState
	admission *risk.Admission
	outcome   model.Outcome
	quote     model.Quote
}

func (w *wager) advance(to model.WagerState) error {
	for _, next := range transitions[w.state] {
		if next == to {
			log.Debug().
				Str("idempotency_key", w.req.IdempotencyKey).
				Str("from", string(w.state)).
				Str("to", string(to)).
				Msg("Wager state changed")
			w.state = to
			return nil
		}
	}
	return apperrors.New(apperrors.ErrInternal, fmt.Sprintf("illegal wager transition %s -> %s", w.state, to), nil)
}

// Play runs one wager. Retrying with the same idempotency key returns the
// stored result without moving money again.
func (s *WagerService) Play(ctx context.Context, req model.WagerRequest) (*WagerResult, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		return nil, apperrors.NewValidation("idempotency key is required", nil)
	}
	if len(req.IdempotencyKey) > MaxIdempotencyKeyLength {
		return nil, apperrors.NewValidation(fmt.Sprintf("idempotency key exceeds %d characters", MaxIdempotencyKeyLength), nil)
	}

	if !s.inflight.TryLock(req.IdempotencyKey) {
		return nil, apperrors.New(apperrors.ErrConflict, "a wager with this idempotency key is in progress", nil)
	}
	defer s.inflight.Unlock(req.IdempotencyKey)

	if res, err := s.replay(ctx, req); res != nil || err != nil {
		return res, err
	}

	var res *WagerResult
	err := s.userLock.WithLockContext(ctx, req.UserID, s.cfg.LockTimeout, func() error {
		var err error
		res, err = s.run(ctx, req)
		return err
	})
	var appErr *apperrors.AppError
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, lock.ErrLockTimeout):
		return nil, apperrors.NewTransient("user is busy with another wager", err)
	case errors.As(err, &appErr):
		return nil, appErr
	default:
		return nil, apperrors.NewTransient("wager aborted", err)
	}
}

func (s *WagerService) replay(ctx context.Context, req model.WagerRequest) (*WagerResult, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.LookupTimeout)
	defer cancel()

	rec, err := s.records.GetByIdempotencyKey(lookupCtx, req.IdempotencyKey)
	if errors.Is(err, repository.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewTransient("failed to look up idempotency key", err)
	}
	if rec.UserID != req.UserID {
		return nil, apperrors.New(apperrors.ErrConflict, "idempotency key already used by another user", nil)
	}
	metrics.WagersTotal.WithLabelValues("replayed", rec.Tier).Inc()
	return &WagerResult{Record: rec, Replayed: true}, nil
}

func (s *WagerService) run(ctx context.Context, req model.WagerRequest) (*WagerResult, error) {
	w := &wager{
		req:      req,
		settings: s.settings.Snapshot(),
		state:    model.StateReceived,
	}

	if err := s.validate(ctx, w); err != nil {
		metrics.WagersTotal.WithLabelValues("rejected", w.tierID).Inc()
		return nil, err
	}

	admission, err := s.risk.Admit(ctx, w.settings, req.UserID, req.BetAmount)
	if err != nil {
		metrics.WagersTotal.WithLabelValues("rejected", w.tierID).Inc()
		return nil, err
	}
	w.admission = admission
	if err := w.advance(model.StateAdmitted); err != nil {
		admission.Release(ctx)
		return nil, err
	}

	// An admitted wager runs to completion or reversal even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	res, err := s.settle(ctx, w)
	if err != nil {
		w.admission.Release(ctx)
		if w.state != model.StateSettled {
			_ = w.advance(model.StateReversed)
		}
		metrics.WagersTotal.WithLabelValues(string(model.StateReversed), w.tierID).Inc()
		log.Info().
			Err(err).
			Str("idempotency_key", req.IdempotencyKey).
			Int64("user_id", req.UserID).
			Str("tier", w.tierID).
			Msg("Wager reversed")
		return nil, err
	}
	return res, nil
}

// validate resolves defaults and rejects requests that can never be played.
func (s *WagerService) validate(ctx context.Context, w *wager) error {
	if w.req.BetAmount <= 0 {
		return apperrors.NewValidation("bet amount must be positive", nil)
	}
	if _, err := s.identity.CheckIdentity(ctx, w.req.UserID); err != nil {
		return err
	}

	w.tierID = w.req.Tier
	if w.tierID == "" {
		w.tierID = w.settings.DefaultTier
	}
	tier, ok := w.settings.Tier(w.tierID)
	if !ok {
		return apperrors.NewValidation(fmt.Sprintf("tier %q is not available", w.tierID), nil)
	}
	w.tier = tier

	w.diceCount = w.req.DiceCount
	if w.diceCount == 0 {
		w.diceCount = w.settings.DefaultDiceCount
	}
	if w.diceCount < 1 || w.diceCount > w.settings.MaxDiceCount {
		return apperrors.NewValidation(fmt.Sprintf("dice count must be between 1 and %d", w.settings.MaxDiceCount), nil)
	}
	if !dice.Representable(tier.Probability, w.diceCount) {
		return apperrors.NewValidation("dice count too low for tier", nil)
	}

	if s.halts.Halted(w.tierID) {
		e := apperrors.NewFatal(fmt.Sprintf("tier %q is halted after audit failures", w.tierID), nil)
		e.Reason = apperrors.ReasonTierHalted
		return e
	}
	return nil
}

func (s *WagerService) settle(ctx context.Context, w *wager) (*WagerResult, error) {
	if err := s.decide(ctx, w); err != nil {
		return nil, err
	}

	var err error
	w.quote, err = s.payouts.Quote(w.settings, w.tier, w.req.BetAmount, w.outcome.IsWin, s.stream(w, dice.LabelMultiplier))
	if err != nil {
		return nil, apperrors.New(apperrors.ErrInternal, "failed to price wager", err)
	}

	if err := s.risk.Project(ctx, w.settings, w.admission, w.quote.Net()); err != nil {
		return nil, err
	}

	rec, replayed, err := s.settler.Settle(ctx, settlement.Settlement{
		Request:   w.req,
		Settings:  w.settings,
		Tier:      w.tierID,
		DiceCount: w.diceCount,
		Outcome:   w.outcome,
		Quote:     w.quote,
		HourKey:   w.admission.HourKey,
		HourStart: w.admission.HourStart,
		Day:       w.admission.Day,
	})
	if err != nil {
		return nil, classifySettleErr(err)
	}
	if replayed {
		// Settled elsewhere under the same key, so this attempt's reservations are surplus.
		w.admission.Release(ctx)
		metrics.WagersTotal.WithLabelValues("replayed", w.tierID).Inc()
		return &WagerResult{Record: rec, Replayed: true}, nil
	}

	if err := w.advance(model.StateSettled); err != nil {
		return nil, err
	}
	w.admission.Commit()
	if err := w.advance(model.StateCompleted); err != nil {
		return nil, err
	}
	metrics.WagersTotal.WithLabelValues(string(model.StateCompleted), w.tierID).Inc()

	if s.cfg.LargeWinThreshold > 0 && rec.Net() >= s.cfg.LargeWinThreshold {
		s.notifier.LargeWin(ctx, rec)
	}

	log.Info().
		Str("wager_id", rec.ID).
		Int64("user_id", rec.UserID).
		Str("tier", rec.Tier).
		Bool("win", rec.IsWin).
		Str("applied_mode", string(rec.AppliedMode)).
		Int64("net", rec.Net()).
		Msg("Wager completed")
	return &WagerResult{Record: rec}, nil
}

// stream returns the randomness source for one purpose of the wager. Seeded
// settings make every draw a function of (seed, nonce, label).
func (s *WagerService) stream(w *wager, label string) dice.Stream {
	if w.settings.Manipulation.Seeded() {
		return dice.NewSeededStream(w.settings.Manipulation.Seed, w.outcome.Nonce, label)
	}
	return dice.NewCryptoStream()
}

// decide rolls the dice, applies manipulation and writes the audit entry.
func (s *WagerService) decide(ctx context.Context, w *wager) error {
	m := w.settings.Manipulation

	var nonce uint64
	if m.Seeded() {
		nonce = dice.NonceFromKey(w.req.IdempotencyKey)
	} else {
		var err error
		if nonce, err = dice.NewNonce(); err != nil {
			return apperrors.NewTransient("entropy source unavailable", err)
		}
	}
	w.outcome.Nonce = nonce

	faces, err := dice.Generate(w.diceCount, m.Seed, nonce)
	if err != nil {
		return apperrors.NewTransient("failed to roll dice", err)
	}
	cutoff := dice.Cutoff(w.tier.Probability, w.diceCount)
	naturalWin, err := dice.IsWin(faces, cutoff)
	if err != nil {
		return apperrors.New(apperrors.ErrInternal, "failed to evaluate roll", err)
	}

	decision, err := manipulation.Resolve(manipulation.Input{
		Settings:   m,
		Tier:       w.tierID,
		DiceCount:  w.diceCount,
		Cutoff:     cutoff,
		Faces:      faces,
		NaturalWin: naturalWin,
	}, s.stream(w, dice.LabelDecision))
	if err != nil {
		return apperrors.New(apperrors.ErrInternal, "failed to resolve outcome", err)
	}

	w.outcome = decision.Outcome
	w.outcome.Nonce = nonce
	w.outcome.SeedUsed = m.Seed

	if w.outcome.Manipulated() {
		metrics.ManipulatedOutcomes.WithLabelValues(string(w.outcome.Mode), strconv.FormatBool(decision.Changed)).Inc()
		if err := s.writeAudit(ctx, w, decision); err != nil {
			return err
		}
	}
	return w.advance(model.StateOutcomeDetermined)
}

// writeAudit records a manipulated decision. The wager fails closed when the
// entry cannot be written.
func (s *WagerService) writeAudit(ctx context.Context, w *wager, d manipulation.Decision) error {
	entry := &model.AuditEntry{
		ID:              uuid.NewString(),
		WagerKey:        w.req.IdempotencyKey,
		UserID:          w.req.UserID,
		Tier:            w.tierID,
		Mode:            w.outcome.Mode,
		Parameters:      d.Parameters,
		NaturalFaces:    w.outcome.NaturalFaces,
		NaturalWin:      w.outcome.NaturalWin,
		DisplayedFaces:  w.outcome.Faces,
		DecidedWin:      w.outcome.IsWin,
		Changed:         d.Changed,
		SettingsVersion: w.settings.Version,
		CreatedAt:       s.now(),
	}

	auditCtx, cancel := context.WithTimeout(ctx, s.cfg.AuditTimeout)
	defer cancel()

	if err := s.audit.Insert(auditCtx, entry); err != nil {
		metrics.AuditFailures.WithLabelValues(w.tierID).Inc()
		log.Error().Err(err).Str("idempotency_key", w.req.IdempotencyKey).Str("tier", w.tierID).Msg("Audit write failed")

		if w.settings.Manipulation.LogManipulations {
			failures, halted := s.halts.Failure(w.tierID)
			if halted {
				s.notifier.TierHalted(ctx, w.tierID, failures)
				e := apperrors.NewFatal(fmt.Sprintf("tier %q halted after %d audit failures", w.tierID, failures), err)
				e.Reason = apperrors.ReasonTierHalted
				return e
			}
		}
		return apperrors.NewTransient("failed to write audit entry", err)
	}

	s.halts.Success(w.tierID)
	s.notifier.Manipulated(ctx, entry)
	return nil
}

func classifySettleErr(err error) error {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, settlement.ErrInsufficientBalance):
		return apperrors.NewValidation("insufficient balance", err)
	case errors.Is(err, repository.ErrUserNotFound):
		return apperrors.New(apperrors.ErrNotFound, "user not found", err)
	case errors.Is(err, repository.ErrNegativeBalance):
		return apperrors.NewValidation("insufficient balance", err)
	default:
		return apperrors.NewTransient("settlement failed", err)
	}
}
