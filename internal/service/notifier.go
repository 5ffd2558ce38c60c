package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"dice-wager-engine/internal/model"
)

// Notifier receives operational events worth a human's attention.
type Notifier interface {
	Manipulated(ctx context.Context, entry *model.AuditEntry)
	LargeWin(ctx context.Context, rec *model.GameRecord)
	AutoShutdown(ctx context.Context, reason string, bucket model.RiskBucket)
	TierHalted(ctx context.Context, tier string, failures int)
}

// LogNotifier writes every event to the structured log.
type LogNotifier struct{}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (LogNotifier) Manipulated(ctx context.Context, entry *model.AuditEntry) {
	log.Info().
		Str("wager_key", entry.WagerKey).
		Int64("user_id", entry.UserID).
		Str("tier", entry.Tier).
		Str("mode", string(entry.Mode)).
		Bool("natural_win", entry.NaturalWin).
		Bool("decided_win", entry.DecidedWin).
		Bool("changed", entry.Changed).
		Msg("Manipulated outcome")
}

func (LogNotifier) LargeWin(ctx context.Context, rec *model.GameRecord) {
	log.Warn().
		Str("wager_id", rec.ID).
		Int64("user_id", rec.UserID).
		Str("tier", rec.Tier).
		Int64("net", rec.Net()).
		Str("multiplier", rec.Multiplier.StringFixed(2)).
		Msg("Large win")
}

func (LogNotifier) AutoShutdown(ctx context.Context, reason string, bucket model.RiskBucket) {
	log.Error().
		Str("reason", reason).
		Str("bucket", bucket.Key).
		Int64("total_win", bucket.TotalWin).
		Int64("total_loss", bucket.TotalLoss).
		Msg("Game disabled by risk manager")
}

func (LogNotifier) TierHalted(ctx context.Context, tier string, failures int) {
	log.Error().
		Str("tier", tier).
		Int("consecutive_failures", failures).
		Msg("Tier halted after audit failures")
}
