package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dice-wager-engine/internal/model"
	"dice-wager-engine/internal/pkg/apperrors"
)

func TestReportingService_DailyReport(t *testing.T) {
	h := newHarness(t, manipulate(model.ModeFixedLoss))
	ctx := context.Background()
	h.fund(t, playerID, 10000)
	h.fund(t, playerID+1, 10000)

	for i := 0; i < 3; i++ {
		_, err := play(h, fmt.Sprintf("r-%d", i), 100)
		require.NoError(t, err)
	}

	report, err := h.reporting.DailyReport(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, today(), report.Day)
	assert.Equal(t, int64(3), report.Stats.Wagers)
	assert.Equal(t, int64(0), report.Stats.Wins)
	assert.Equal(t, int64(300), report.Stats.HouseProfit)

	assert.Empty(t, report.Winners)
	require.Len(t, report.Losers, 1)
	assert.Equal(t, playerID, report.Losers[0].UserID)
	assert.Equal(t, int64(-300), report.Losers[0].NetProfit)
}

func TestReportingService_RecordsAndAudit(t *testing.T) {
	h := newHarness(t, manipulate(model.ModeFixedWin))
	ctx := context.Background()
	h.fund(t, playerID, 10000)

	res, err := play(h, "lookup", 100)
	require.NoError(t, err)

	rec, err := h.reporting.Record(ctx, res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Record.ID, rec.ID)

	_, err = h.reporting.Record(ctx, "00000000-0000-0000-0000-000000000000")
	requireKind(t, err, apperrors.ErrNotFound)

	uid := playerID
	recs, err := h.reporting.Records(ctx, model.RecordFilter{UserID: &uid})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	entries, err := h.reporting.Audit(ctx, model.AuditFilter{Mode: model.ModeFixedWin})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "lookup", entries[0].WagerKey)
	assert.True(t, entries[0].DecidedWin)

	_, err = h.reporting.HourlyBuckets(ctx, time.Now(), time.Now().Add(-time.Hour))
	requireKind(t, err, apperrors.ErrValidation)
}
