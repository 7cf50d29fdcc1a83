package trading

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/spreadbook/internal/types"
)

func TestMoveToCompletedRollsBackOnConstraintFailure(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	_, err := svc.Open(ctx, bullPut())
	require.NoError(t, err)

	// bypass the service checks so the completed_trades CHECK rejects the row
	_, err = svc.DB().MoveToCompleted(ctx, 1, func(active *types.ActiveTrade) (*types.CompletedTrade, error) {
		return &types.CompletedTrade{
			Symbol:         active.Symbol,
			TradeType:      active.TradeType,
			SpreadType:     active.SpreadType,
			EntryDate:      active.EntryDate,
			ExpirationDate: active.ExpirationDate,
			CloseDate:      date("2025-04-20").Time,
			EntryCredit:    active.NetCredit,
			ExitDebit:      dec("-1.00"),
			NumContracts:   active.NumContracts,
			ExitType:       types.ExitClosedEarly,
			CreatedAt:      active.CreatedAt,
		}, nil
	})
	require.Error(t, err)

	record, err := svc.GetTrade(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, record.Active)
	assert.Nil(t, record.Completed)

	history, err := svc.History(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestMoveToCompletedRollsBackOnBuildError(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	_, err := svc.Open(ctx, bullPut())
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = svc.DB().MoveToCompleted(ctx, 1, func(*types.ActiveTrade) (*types.CompletedTrade, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = svc.DB().GetActive(ctx, 1)
	assert.NoError(t, err)
}

func TestInsertRejectsInconsistentSpreadType(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	trade := &types.ActiveTrade{
		Symbol:         "AAPL",
		TradeType:      types.StrategyBullPut,
		EntryDate:      date("2025-04-06").Time,
		ExpirationDate: date("2025-05-16").Time,
		NetCredit:      dec("-0.30"),
		NumContracts:   1,
		Status:         types.StatusOpen,
		SpreadType:     types.SpreadCredit,
	}
	_, err := svc.DB().InsertActive(ctx, trade)
	assert.ErrorIs(t, err, ErrValidation)

	active, err := svc.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestUpdateStatusSameStatusIsNoop(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	_, err := svc.Open(ctx, bullPut())
	require.NoError(t, err)

	trade, err := svc.DB().UpdateStatus(ctx, 1, types.StatusOpen)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOpen, trade.Status)

	history, err := svc.History(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = svc.DB().UpdateStatus(ctx, 42, types.StatusClosing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHistoryRowPerTransition(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	var ids []int64
	for i := 0; i < 3; i++ {
		trade, err := svc.Open(ctx, ironCondor())
		require.NoError(t, err)
		ids = append(ids, trade.TradeID)
	}

	_, err := svc.MarkClosing(ctx, ids[0])
	require.NoError(t, err)
	_, err = svc.MarkExpired(ctx, ids[1])
	require.NoError(t, err)
	_, err = svc.MarkClosing(ctx, ids[1])
	require.ErrorIs(t, err, ErrInvalidTransition)

	for i, want := range []int{1, 1, 0} {
		history, err := svc.History(ctx, ids[i])
		require.NoError(t, err)
		assert.Len(t, history, want, "trade %d", ids[i])
	}
}

func TestStoreQueries(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	store := svc.DB()

	_, err := svc.Open(ctx, bullPut())
	require.NoError(t, err)
	condor, err := svc.Open(ctx, ironCondor())
	require.NoError(t, err)
	debit, err := svc.Open(ctx, bullCall())
	require.NoError(t, err)

	bySymbol, err := store.GetActiveBySymbol(ctx, "SPY")
	require.NoError(t, err)
	require.Len(t, bySymbol, 1)
	assert.Equal(t, condor.TradeID, bySymbol[0].TradeID)

	has, err := svc.HasActive(ctx, "AAPL", types.StrategyBullPut)
	require.NoError(t, err)
	assert.True(t, has)
	has, err = svc.HasActive(ctx, "AAPL", types.StrategyBearCall)
	require.NoError(t, err)
	assert.False(t, has)

	expiring, err := store.GetExpiringBetween(ctx, date("2025-05-01").Time, date("2025-05-31").Time)
	require.NoError(t, err)
	assert.Len(t, expiring, 2)

	_, err = svc.MarkExpired(ctx, debit.TradeID)
	require.NoError(t, err)
	open, err := svc.ListOpen(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	expired, err := store.GetActiveByStatus(ctx, types.StatusExpired)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, debit.TradeID, expired[0].TradeID)

	past, err := svc.ExpiredAsOf(ctx, date("2025-05-17T09:00:00Z").Time)
	require.NoError(t, err)
	assert.Len(t, past, 2)
	past, err = svc.ExpiredAsOf(ctx, date("2025-05-16T23:00:00Z").Time)
	require.NoError(t, err)
	assert.Empty(t, past)

	for _, id := range []int64{1, condor.TradeID} {
		_, err := svc.Close(ctx, id, types.CloseRequest{
			CloseDate: date("2025-04-25"), ExitDebit: dec("0.05"), ExitType: types.ExitClosedEarly,
		})
		require.NoError(t, err)
	}

	from := date("2025-04-24").Time
	to := date("2025-04-26").Time
	completed, err := svc.ListCompleted(ctx, &from, &to, 0)
	require.NoError(t, err)
	assert.Len(t, completed, 2)

	later := date("2025-04-30").Time
	completed, err = svc.ListCompleted(ctx, &later, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, completed)

	active, history, err := svc.ListBySymbol(ctx, "AAPL", 1)
	require.NoError(t, err)
	assert.Empty(t, active)
	require.Len(t, history, 1)
	assert.True(t, dec("25.00").Equal(history[0].ActualProfitLoss))

	assert.WithinDuration(t, testNow, history[0].CompletedAt, time.Second)
}
