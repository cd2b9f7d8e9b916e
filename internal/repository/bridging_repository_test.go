package repository

import (
	"context"
	"testing"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBridging(hash string) *model.BridgingRecord {
	return &model.BridgingRecord{
		TxnHash:             hash,
		OriginChainID:       "421614",
		OriginChainAddress:  "0xorigin",
		DestChainID:         "11155111",
		DestChainAddress:    "0xdest",
		AbtcAmount:          10000,
		BridgingGasFee:      300,
		Status:              model.BridgingStatusMintedToDest,
		YieldProviderStatus: model.YieldStatusWithdrawn,
	}
}

func TestBridgingRepository_ListSettlementEligible(t *testing.T) {
	repo := NewBridgingRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newBridging("b-1")))

	withRemarks := newBridging("b-2")
	withRemarks.Remarks = "gas mismatch"
	require.NoError(t, repo.Create(ctx, withRemarks))

	notMinted := newBridging("b-3")
	notMinted.Status = model.BridgingStatusPendingMint
	require.NoError(t, repo.Create(ctx, notMinted))

	notWithdrawn := newBridging("b-4")
	notWithdrawn.YieldProviderStatus = model.YieldStatusWithdrawing
	require.NoError(t, repo.Create(ctx, notWithdrawn))

	require.NoError(t, repo.Create(ctx, newBridging("b-5")))

	var records []*model.BridgingRecord
	err := repo.Transaction(ctx, func(txCtx context.Context) error {
		var err error
		records, err = repo.ListSettlementEligible(txCtx, 0)
		return err
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "b-1", records[0].TxnHash)
	assert.Equal(t, "b-5", records[1].TxnHash)

	limited, err := repo.ListSettlementEligible(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestBridgingRepository_ListByTreasuryTxnHash(t *testing.T) {
	repo := NewBridgingRepository(setupTestDB(t))
	ctx := context.Background()

	for _, h := range []string{"z", "a", "m"} {
		r := newBridging(h)
		r.TreasuryBtcTxnHash = "settle-1"
		require.NoError(t, repo.Create(ctx, r))
	}
	other := newBridging("other")
	other.TreasuryBtcTxnHash = "settle-2"
	require.NoError(t, repo.Create(ctx, other))

	records, err := repo.ListByTreasuryTxnHash(ctx, "settle-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "a", records[0].TxnHash)
	assert.Equal(t, "m", records[1].TxnHash)
	assert.Equal(t, "z", records[2].TxnHash)
}

func TestBridgingRepository_ChainFilter(t *testing.T) {
	repo := NewBridgingRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newBridging("b-1")))
	r := newBridging("b-2")
	r.OriginChainID = "NEAR_TESTNET"
	r.DestChainID = "NEAR_TESTNET"
	require.NoError(t, repo.Create(ctx, r))

	list, err := repo.List(ctx, &ListFilter{ChainID: "NEAR_TESTNET"}, nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b-2", list[0].TxnHash)
}

func TestBridgingRepository_Update_RejectsCounterRegression(t *testing.T) {
	repo := NewBridgingRepository(setupTestDB(t))
	ctx := context.Background()

	record := newBridging("b-count")
	require.NoError(t, repo.Create(ctx, record))
	record.VerifiedCount = 2
	record.MintedTxnHashVerifiedCount = 1
	require.NoError(t, repo.Update(ctx, record))

	stale, err := repo.GetByTxnHash(ctx, "b-count")
	require.NoError(t, err)
	stale.MintedTxnHashVerifiedCount = 0
	assert.ErrorIs(t, repo.Update(ctx, stale), ErrCounterRegression)

	stale.MintedTxnHashVerifiedCount = 1
	stale.VerifiedCount = 1
	assert.ErrorIs(t, repo.Update(ctx, stale), ErrCounterRegression)

	got, err := repo.GetByTxnHash(ctx, "b-count")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), got.VerifiedCount)
	assert.Equal(t, uint32(1), got.MintedTxnHashVerifiedCount)
}
