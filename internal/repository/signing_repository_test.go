package repository

import (
	"context"
	"testing"
	"time"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigningRepository_Lifecycle(t *testing.T) {
	repo := NewSigningRepository(setupTestDB(t))
	ctx := context.Background()

	req := &model.SigningRequest{
		RequestID:   "req-1",
		EventType:   model.EventTypeDeposit,
		EventID:     "btc-1",
		ChainID:     "421614",
		PayloadKind: model.PayloadKindEVMTx,
		Payload:     "0x02",
		PayloadHash: "0xhash",
		Path:        "m/44'/60'/0'/0/0",
		KeyVersion:  1,
	}
	require.NoError(t, repo.Create(ctx, req))

	pending, err := repo.ListPendingBefore(ctx, time.Now().Add(time.Minute).UnixMilli(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	got, err := repo.GetByRequestID(ctx, "req-1")
	require.NoError(t, err)
	got.Status = model.SigningStatusSigned
	got.Signature = "0xsig"
	require.NoError(t, repo.Update(ctx, got))

	pending, err = repo.ListPendingBefore(ctx, time.Now().Add(time.Minute).UnixMilli(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	byEvent, err := repo.ListByEvent(ctx, model.EventTypeDeposit, "btc-1")
	require.NoError(t, err)
	require.Len(t, byEvent, 1)
	assert.Equal(t, model.SigningStatusSigned, byEvent[0].Status)

	_, err = repo.GetByRequestID(ctx, "nope")
	assert.ErrorIs(t, err, ErrSigningRequestNotFound)
}

func TestSettlementRepository_Lifecycle(t *testing.T) {
	repo := NewSettlementRepository(setupTestDB(t))
	ctx := context.Background()

	batch := &model.SettlementBatch{
		BatchID:     "batch-1",
		BtcTxnHash:  "txid-1",
		MerkleRoot:  "root",
		RecordCount: 2,
		Psbt:        "cHNidP8=",
	}
	require.NoError(t, repo.Create(ctx, batch))

	got, err := repo.GetByTxnHash(ctx, "txid-1")
	require.NoError(t, err)
	assert.Equal(t, model.SettlementBatchStatusBuilt, got.Status)

	got.Status = model.SettlementBatchStatusConfirmed
	require.NoError(t, repo.Update(ctx, got))

	list, err := repo.List(ctx, &Pagination{Page: 1, PageSize: 5})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.SettlementBatchStatusConfirmed, list[0].Status)

	_, err = repo.GetByTxnHash(ctx, "txid-2")
	assert.ErrorIs(t, err, ErrSettlementBatchNotFound)
}
