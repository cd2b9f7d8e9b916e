package service

import (
	"context"
	"errors"
	"testing"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/btc"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/config"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/contract"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	bizerrors "github.com/eidos-exchange/eidos/eidos-bridge/pkg/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// toYieldDeposited 两个验证者确认后推进到 20
func toYieldDeposited(t *testing.T, env *testEnv, hash string, yieldGas uint64) {
	ctx := context.Background()
	env.grant(t, "validator-a", testBtcChain)
	env.grant(t, "validator-b", testBtcChain)
	require.True(t, env.attestDeposit(t, "validator-a", hash, PhaseDepositConfirm))
	require.True(t, env.attestDeposit(t, "validator-b", hash, PhaseDepositConfirm))
	_, err := env.deposit.BeginYieldDeposit(ctx, hash, "yield-"+hash)
	require.NoError(t, err)
	rec, err := env.deposit.ConfirmYieldDeposit(ctx, hash, yieldGas)
	require.NoError(t, err)
	require.Equal(t, model.DepositStatusYieldDeposited, rec.Status)
}

func TestDepositService_Create(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	valid := CreateDepositRequest{
		BtcTxnHash:       "btc-create",
		BtcSenderAddress: testTreasury,
		ReceivingChainID: testEVMChain,
		ReceivingAddress: testReceiver,
		BtcAmount:        100000,
		Status:           model.DepositStatusPendingMempool,
	}

	invalid := []struct {
		name   string
		mutate func(r *CreateDepositRequest)
	}{
		{"empty hash", func(r *CreateDepositRequest) { r.BtcTxnHash = "" }},
		{"empty sender", func(r *CreateDepositRequest) { r.BtcSenderAddress = "" }},
		{"empty receiver", func(r *CreateDepositRequest) { r.ReceivingAddress = "" }},
		{"zero amount", func(r *CreateDepositRequest) { r.BtcAmount = 0 }},
		{"bad status", func(r *CreateDepositRequest) { r.Status = model.DepositStatusMinted }},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := env.deposit.Create(ctx, &req)
			assert.True(t, bizerrors.IsValidation(err), "got %v", err)
		})
	}

	unknown := valid
	unknown.ReceivingChainID = "UNKNOWN"
	_, err := env.deposit.Create(ctx, &unknown)
	assert.True(t, bizerrors.IsPrecondition(err))

	rec, err := env.deposit.Create(ctx, &valid)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), rec.ProtocolFee)
	assert.Equal(t, uint64(1000), rec.MintingFee)
	assert.Equal(t, model.DepositStatusPendingMempool, rec.Status)

	_, err = env.deposit.Create(ctx, &valid)
	assert.ErrorIs(t, err, bizerrors.ErrConflict)

	rec, err = env.deposit.MarkDeposited(ctx, "btc-create")
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusDeposited, rec.Status)
	_, err = env.deposit.MarkDeposited(ctx, "btc-create")
	assert.ErrorIs(t, err, ErrStatusMismatch)

	_, err = env.deposit.Get(ctx, "btc-none")
	assert.ErrorIs(t, err, bizerrors.ErrNotFound)
}

func TestDepositService_EVMMintFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newDeposit(t, "btc-evm", 100000, testEVMChain, testReceiver)
	toYieldDeposited(t, env, "btc-evm", 300)

	env.signer.On("RequestSignature", mock.Anything, mock.AnythingOfType("*model.SigningRequest")).Return(nil).Once()

	req, err := env.deposit.RequestMint(ctx, "btc-evm")
	require.NoError(t, err)
	assert.Equal(t, model.PayloadKindEVMTx, req.Kind)
	// 100000 - 200 协议费 - 1000 铸造费 - 300 收益 gas
	assert.Equal(t, uint64(98500), req.NetAmount)
	assert.Equal(t, model.DepositStatusPendingMint, env.reloadDeposit(t, "btc-evm").Status)
	env.signer.AssertExpectations(t)

	tx, err := contract.DecodeTx(req.Payload)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAsset), *tx.To())
	assert.Equal(t, uint64(150000), tx.Gas())
	assert.Equal(t, contract.SigningHash(tx).Hex(), req.PayloadHash)
	args, err := contract.ABTC().Methods["mintDeposit"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, "btc-evm", args[2])

	signing, err := env.signing.Get(ctx, req.SigningRequestID)
	require.NoError(t, err)
	assert.Equal(t, model.SigningStatusPending, signing.Status)
	assert.Equal(t, "bitcoin-1", signing.Path)
	assert.Equal(t, uint32(1), signing.KeyVersion)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hash := contract.SigningHash(tx)
	sig, err := crypto.Sign(hash[:], key)
	require.NoError(t, err)

	signed, err := env.signing.Resume(ctx, req.SigningRequestID, sig, "")
	require.NoError(t, err)
	assert.Equal(t, model.SigningStatusSigned, signed.Status)
	signedTx, err := contract.DecodeTx(signed.SignedPayload)
	require.NoError(t, err)
	sender, err := contract.Sender(signedTx)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)

	_, err = env.signing.Resume(ctx, req.SigningRequestID, sig, "")
	assert.ErrorIs(t, err, ErrSigningResolved)

	_, err = env.deposit.SetMintedTxnHash(ctx, "btc-evm", signed.TxHash)
	require.NoError(t, err)
	_, err = env.deposit.SetMintedTxnHash(ctx, "btc-evm", "0xother")
	assert.ErrorIs(t, err, ErrMintedTxnHashSet)

	_, err = env.deposit.ConfirmMint(ctx, "btc-evm")
	assert.ErrorIs(t, err, ErrQuorumNotReached)

	env.grant(t, "validator-a", testEVMChain)
	env.grant(t, "validator-b", testEVMChain)
	assert.True(t, env.attestDeposit(t, "validator-a", "btc-evm", PhaseDepositMint))
	assert.True(t, env.attestDeposit(t, "validator-b", "btc-evm", PhaseDepositMint))

	rec, err := env.deposit.ConfirmMint(ctx, "btc-evm")
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusMinted, rec.Status)
	assert.Equal(t, uint32(2), rec.MintedTxnHashVerifiedCount)

	attestors, err := env.quorum.Attestors(ctx, model.CompoundKey("btc-evm", signed.TxHash, ","))
	require.NoError(t, err)
	assert.Len(t, attestors, 2)
}

func TestDepositService_NEARMint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newDeposit(t, "btc-near", 100000, testNEARChain, "alice.testnet")
	toYieldDeposited(t, env, "btc-near", 0)

	env.signer.On("RequestSignature", mock.Anything, mock.Anything).Return(nil).Once()
	req, err := env.deposit.RequestMint(ctx, "btc-near")
	require.NoError(t, err)
	assert.Equal(t, model.PayloadKindJSONMint, req.Kind)
	assert.Contains(t, req.Payload, `"receiver_id":"alice.testnet"`)
	// 100000 - 200 - 500
	assert.Contains(t, req.Payload, `"amount":"99300"`)
	assert.Contains(t, req.Payload, `"method":"mint_deposit"`)
	env.signer.AssertExpectations(t)
	env.ledger.AssertNotCalled(t, "Mint", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	env.ledger.On("Mint", mock.Anything, "alice.testnet", uint64(99300), "SIGNET,btc-near").Return(nil).Once()
	out, err := env.signing.Resume(ctx, req.SigningRequestID, []byte("near-signature"), "")
	require.NoError(t, err)
	assert.Equal(t, model.SigningStatusSigned, out.Status)
	env.ledger.AssertExpectations(t)

	// 已记账后不可回滚重签
	_, err = env.deposit.SetRemarks(ctx, "btc-near", "explorer lagging")
	require.NoError(t, err)
	_, err = env.deposit.Rollback(ctx, "btc-near")
	assert.ErrorIs(t, err, ErrMintIssued)
	assert.Equal(t, model.DepositStatusPendingMint, env.reloadDeposit(t, "btc-near").Status)
}

func TestDepositService_NEARMintIssuedOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newDeposit(t, "btc-once", 100000, testNEARChain, "alice.testnet")
	toYieldDeposited(t, env, "btc-once", 0)

	// 投递失败后重试
	env.signer.On("RequestSignature", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
	_, err := env.deposit.RequestMint(ctx, "btc-once")
	assert.ErrorIs(t, err, bizerrors.ErrSigningFailed)
	env.signer.On("RequestSignature", mock.Anything, mock.Anything).Return(nil)
	req, err := env.deposit.RequestMint(ctx, "btc-once")
	require.NoError(t, err)

	// 签名失败, 回滚后重新发起
	_, err = env.signing.Resume(ctx, req.SigningRequestID, nil, "mpc timeout")
	require.NoError(t, err)
	_, err = env.deposit.Rollback(ctx, "btc-once")
	require.NoError(t, err)
	req, err = env.deposit.RequestMint(ctx, "btc-once")
	require.NoError(t, err)

	// 账本写入失败: 请求保持 PENDING, 重投后成功
	env.ledger.On("Mint", mock.Anything, "alice.testnet", uint64(99300), "SIGNET,btc-once").Return(errors.New("rpc unavailable")).Once()
	_, err = env.signing.Resume(ctx, req.SigningRequestID, []byte("near-signature"), "")
	assert.ErrorIs(t, err, bizerrors.ErrSigningFailed)
	stored, err := env.signing.Get(ctx, req.SigningRequestID)
	require.NoError(t, err)
	assert.Equal(t, model.SigningStatusPending, stored.Status)

	env.ledger.On("Mint", mock.Anything, "alice.testnet", uint64(99300), "SIGNET,btc-once").Return(nil).Once()
	_, err = env.signing.Resume(ctx, req.SigningRequestID, []byte("near-signature"), "")
	require.NoError(t, err)
	_, err = env.signing.Resume(ctx, req.SigningRequestID, []byte("near-signature"), "")
	assert.ErrorIs(t, err, ErrSigningResolved)

	env.ledger.AssertExpectations(t)
	env.ledger.AssertNumberOfCalls(t, "Mint", 2)
}

func TestDepositService_RequestMintPreconditions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.chains.Upsert(config.ChainConfig{
		ChainID:             "FREE",
		NetworkType:         config.NetworkTypeEVM,
		ValidatorsThreshold: 1,
		AssetAddress:        testAsset,
		EVMChainID:          1,
	}))
	env.newDeposit(t, "btc-free", 10000, "FREE", testReceiver)
	toYieldDeposited(t, env, "btc-free", 0)
	_, err := env.deposit.RequestMint(ctx, "btc-free")
	assert.ErrorIs(t, err, ErrZeroMintingFee)
	assert.True(t, bizerrors.IsValidation(err))

	env.newDeposit(t, "btc-remarks", 10000, testEVMChain, testReceiver)
	toYieldDeposited(t, env, "btc-remarks", 0)
	_, err = env.deposit.SetRemarks(ctx, "btc-remarks", "manual hold")
	require.NoError(t, err)
	_, err = env.deposit.RequestMint(ctx, "btc-remarks")
	assert.ErrorIs(t, err, ErrRemarksPresent)

	// 签名投递失败: 事务回滚, 状态与签名请求均不落库
	env.newDeposit(t, "btc-publish", 10000, testEVMChain, testReceiver)
	toYieldDeposited(t, env, "btc-publish", 0)
	env.signer.On("RequestSignature", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
	_, err = env.deposit.RequestMint(ctx, "btc-publish")
	assert.ErrorIs(t, err, bizerrors.ErrSigningFailed)
	assert.Equal(t, bizerrors.TierExternal, bizerrors.TierOf(err))
	assert.Equal(t, model.DepositStatusYieldDeposited, env.reloadDeposit(t, "btc-publish").Status)
	reqs, err := env.signing.ListByEvent(ctx, model.EventTypeDeposit, "btc-publish")
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestDepositService_SigningFailureThenRollback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newDeposit(t, "btc-fail", 100000, testEVMChain, testReceiver)
	toYieldDeposited(t, env, "btc-fail", 0)
	env.signer.On("RequestSignature", mock.Anything, mock.Anything).Return(nil)

	req, err := env.deposit.RequestMint(ctx, "btc-fail")
	require.NoError(t, err)

	out, err := env.signing.Resume(ctx, req.SigningRequestID, nil, "mpc timeout")
	require.NoError(t, err)
	assert.Equal(t, model.SigningStatusFailed, out.Status)

	rec := env.reloadDeposit(t, "btc-fail")
	assert.Equal(t, model.DepositStatusPendingMint, rec.Status)
	assert.Equal(t, "signing failed: mpc timeout", rec.Remarks)

	rec, err = env.deposit.Rollback(ctx, "btc-fail")
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusYieldDeposited, rec.Status)
	assert.Empty(t, rec.Remarks)
	assert.Equal(t, uint32(1), rec.RetryCount)

	// 重新发起铸造
	_, err = env.deposit.RequestMint(ctx, "btc-fail")
	require.NoError(t, err)
	_, err = env.deposit.SetMintedTxnHash(ctx, "btc-fail", "0xminted")
	require.NoError(t, err)
	_, err = env.deposit.SetRemarks(ctx, "btc-fail", "mint stuck")
	require.NoError(t, err)
	_, err = env.deposit.Rollback(ctx, "btc-fail")
	assert.ErrorIs(t, err, ErrMintedTxnHashSet)
}

func TestDepositService_RollbackUntilRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.grant(t, "validator-a", testBtcChain)
	env.grant(t, "validator-b", testBtcChain)
	env.newDeposit(t, "btc-refund", 100000, testEVMChain, testReceiver)
	require.True(t, env.attestDeposit(t, "validator-a", "btc-refund", PhaseDepositConfirm))
	require.True(t, env.attestDeposit(t, "validator-b", "btc-refund", PhaseDepositConfirm))

	_, err := env.deposit.Rollback(ctx, "btc-refund")
	assert.ErrorIs(t, err, ErrRemarksRequired)

	_, err = env.deposit.SetRemarks(ctx, "btc-refund", "stuck at deposited")
	require.NoError(t, err)
	_, err = env.deposit.Rollback(ctx, "btc-refund")
	assert.ErrorIs(t, err, ErrNoRollback)

	// MaxRetryCount = 2
	for i := 1; i <= 2; i++ {
		_, err := env.deposit.SetRemarks(ctx, "btc-refund", "")
		require.NoError(t, err)
		_, err = env.deposit.BeginYieldDeposit(ctx, "btc-refund", "yield-tx")
		require.NoError(t, err)
		_, err = env.deposit.SetRemarks(ctx, "btc-refund", "yield provider rejected")
		require.NoError(t, err)

		rec, err := env.deposit.Rollback(ctx, "btc-refund")
		require.NoError(t, err)
		assert.Equal(t, model.DepositStatusDeposited, rec.Status)
		assert.Empty(t, rec.YieldProviderTxnHash)
		assert.Empty(t, rec.Remarks)
		assert.Equal(t, uint32(i), rec.RetryCount)
	}

	_, err = env.deposit.SetRemarks(ctx, "btc-refund", "still stuck")
	require.NoError(t, err)
	rec, err := env.deposit.Rollback(ctx, "btc-refund")
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusRefunding, rec.Status)

	stuck, err := env.deposit.ListStuckForRefund(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, stuck)

	_, err = env.deposit.BuildRefund(ctx, "btc-refund", []btc.UTXO{{TxID: "aa", Value: 1000, Address: testChange}}, 2)
	assert.True(t, bizerrors.IsValidation(err))
	var insufficient *btc.InsufficientFundsError
	assert.True(t, errors.As(err, &insufficient))

	payload, err := env.deposit.BuildRefund(ctx, "btc-refund", []btc.UTXO{
		{TxID: "0000000000000000000000000000000000000000000000000000000000000001", Vout: 0, Value: 60000, Address: testChange},
		{TxID: "0000000000000000000000000000000000000000000000000000000000000002", Vout: 1, Value: 50000, Address: testChange},
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(100000), payload.Amount)
	assert.Equal(t, payload.InputTotal, payload.Amount+payload.Fee+payload.Change)

	rec, err = env.deposit.ConfirmRefund(ctx, "btc-refund", payload.TxID)
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusRefunded, rec.Status)
	assert.Equal(t, payload.TxID, rec.RefundTxnID)

	_, err = env.deposit.SetRemarks(ctx, "btc-refund", "late")
	assert.ErrorIs(t, err, ErrStatusMismatch)
}

func TestDepositService_InvalidDestination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newDeposit(t, "btc-bad-dest", 10000, testEVMChain, "0xnot-an-address")
	toYieldDeposited(t, env, "btc-bad-dest", 0)

	env.signer.On("RequestSignature", mock.Anything, mock.Anything).Return(nil).Maybe()
	_, err := env.deposit.RequestMint(ctx, "btc-bad-dest")
	assert.True(t, bizerrors.IsValidation(err))

	_, err = env.deposit.SetRemarks(ctx, "btc-bad-dest", "invalid receiving address")
	require.NoError(t, err)

	_, err = env.deposit.Rollback(ctx, "btc-bad-dest")
	assert.ErrorIs(t, err, ErrInvalidDestination)

	rec, err := env.deposit.MarkRefundable(ctx, "btc-bad-dest")
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusRefunding, rec.Status)

	env.newDeposit(t, "btc-good-dest", 10000, testEVMChain, testReceiver)
	_, err = env.deposit.SetRemarks(ctx, "btc-good-dest", "operator check")
	require.NoError(t, err)
	_, err = env.deposit.MarkRefundable(ctx, "btc-good-dest")
	assert.ErrorIs(t, err, ErrDestinationValid)
}

func TestDepositService_RejectsIllegalTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newDeposit(t, "btc-skip", 100000, testEVMChain, testReceiver)

	_, err := env.deposit.mutate(ctx, "btc-skip", func(_ context.Context, rec *model.DepositRecord) error {
		rec.Status = model.DepositStatusMinted
		return nil
	})
	assert.ErrorIs(t, err, ErrStatusMismatch)
	assert.True(t, bizerrors.IsPrecondition(err))
	assert.Equal(t, model.DepositStatusDeposited, env.reloadDeposit(t, "btc-skip").Status)
}
