package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"dice-wager-engine/internal/model"
	"dice-wager-engine/internal/pkg/apperrors"
	"dice-wager-engine/internal/repository"
	"dice-wager-engine/internal/risk"
)

// RecordQuery reads settled wagers.
type RecordQuery interface {
	GetByID(ctx context.Context, id string) (*model.GameRecord, error)
	List(ctx context.Context, f model.RecordFilter) ([]*model.GameRecord, error)
	DailyStats(ctx context.Context, dayStart time.Time) (*model.DailyHouseStats, error)
}

// AuditQuery reads the audit trail.
type AuditQuery interface {
	List(ctx context.Context, f model.AuditFilter) ([]*model.AuditEntry, error)
}

// RankingQuery computes per-user daily results.
type RankingQuery interface {
	GetDailyRanking(ctx context.Context, dayStart time.Time) ([]*model.DailyRank, error)
}

// BucketQuery reads persisted hour buckets.
type BucketQuery interface {
	ListBuckets(ctx context.Context, from, to time.Time) ([]model.RiskBucket, error)
}

// DailyReport summarises one day.
type DailyReport struct {
	Day     string                 `json:"day"`
	Stats   *model.DailyHouseStats `json:"stats"`
	Winners []*model.DailyRank     `json:"winners"`
	Losers  []*model.DailyRank     `json:"losers"`
}

// ReportingService answers admin queries over records and risk windows.
type ReportingService struct {
	records RecordQuery
	audit   AuditQuery
	ranking RankingQuery
	buckets BucketQuery
	risk    *risk.Manager
	clock   risk.Clock
	topN    int
}

// NewReportingService creates a new ReportingService instance.
func NewReportingService(records RecordQuery, audit AuditQuery, ranking RankingQuery, buckets BucketQuery, riskMgr *risk.Manager, topN int) *ReportingService {
	if topN <= 0 {
		topN = 10
	}
	return &ReportingService{
		records: records,
		audit:   audit,
		ranking: ranking,
		buckets: buckets,
		risk:    riskMgr,
		clock:   riskMgr.Clock(),
		topN:    topN,
	}
}

// Record returns one settled wager.
func (s *ReportingService) Record(ctx context.Context, id string) (*model.GameRecord, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("wager %s not found", id), "failed to load wager")
	}
	return rec, nil
}

// Records lists settled wagers, newest first.
func (s *ReportingService) Records(ctx context.Context, f model.RecordFilter) ([]*model.GameRecord, error) {
	recs, err := s.records.List(ctx, f)
	if err != nil {
		return nil, apperrors.NewTransient("failed to list wagers", err)
	}
	return recs, nil
}

// Audit lists manipulated decisions, newest first.
func (s *ReportingService) Audit(ctx context.Context, f model.AuditFilter) ([]*model.AuditEntry, error) {
	entries, err := s.audit.List(ctx, f)
	if err != nil {
		return nil, apperrors.NewTransient("failed to list audit entries", err)
	}
	return entries, nil
}

// HourlyBuckets lists persisted hour buckets in [from, to).
func (s *ReportingService) HourlyBuckets(ctx context.Context, from, to time.Time) ([]model.RiskBucket, error) {
	if !to.After(from) {
		return nil, apperrors.NewValidation("to must be after from", nil)
	}
	buckets, err := s.buckets.ListBuckets(ctx, from, to)
	if err != nil {
		return nil, apperrors.NewTransient("failed to list risk buckets", err)
	}
	return buckets, nil
}

// CurrentHour returns the live totals of the current hour, including
// reservations of wagers still in flight.
func (s *ReportingService) CurrentHour(ctx context.Context) (model.RiskBucket, error) {
	b, err := s.risk.CurrentHour(ctx)
	if err != nil {
		return model.RiskBucket{}, apperrors.NewTransient("risk store unavailable", err)
	}
	return b, nil
}

// DailyReport returns house totals and the biggest winners and losers of the
// day containing date, in the engine timezone.
func (s *ReportingService) DailyReport(ctx context.Context, date time.Time) (*DailyReport, error) {
	dayStart := s.clock.DayStart(date)

	stats, err := s.records.DailyStats(ctx, dayStart)
	if err != nil {
		return nil, apperrors.NewTransient("failed to load daily stats", err)
	}
	ranks, err := s.ranking.GetDailyRanking(ctx, dayStart)
	if err != nil {
		return nil, apperrors.NewTransient("failed to load daily ranking", err)
	}

	var winners, losers []*model.DailyRank
	for _, r := range ranks {
		switch {
		case r.NetProfit > 0:
			winners = append(winners, r)
		case r.NetProfit < 0:
			losers = append(losers, r)
		}
	}
	sort.SliceStable(winners, func(i, j int) bool { return winners[i].NetProfit > winners[j].NetProfit })
	sort.SliceStable(losers, func(i, j int) bool { return losers[i].NetProfit < losers[j].NetProfit })

	return &DailyReport{
		Day:     s.clock.Day(date),
		Stats:   stats,
		Winners: head(winners, s.topN),
		Losers:  head(losers, s.topN),
	}, nil
}

func head(ranks []*model.DailyRank, n int) []*model.DailyRank {
	if len(ranks) > n {
		return ranks[:n]
	}
	if ranks == nil {
		return []*model.DailyRank{}
	}
	return ranks
}

func notFoundOr(err error, notFound, transient string) error {
	if errors.Is(err, repository.ErrRecordNotFound) {
		return apperrors.New(apperrors.ErrNotFound, notFound, err)
	}
	return apperrors.NewTransient(transient, err)
}

// Location is the timezone days are cut in.
func (s *ReportingService) Location() *time.Location {
	return s.clock.Location()
}
