package service

import (
	"context"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/btc"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/contract"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/repository"
	bizerrors "github.com/eidos-exchange/eidos/eidos-bridge/pkg/errors"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/lock"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/logger"
	"go.uber.org/zap"
)

// CreateDepositRequest 登记 BTC 充值
type CreateDepositRequest struct {
	BtcTxnHash       string              `json:"btc_txn_hash"`
	BtcSenderAddress string              `json:"btc_sender_address"`
	ReceivingChainID string              `json:"receiving_chain_id"`
	ReceivingAddress string              `json:"receiving_address"`
	BtcAmount        uint64              `json:"btc_amount"`
	Status           model.DepositStatus `json:"status"` // 0 或 10
	Timestamp        int64               `json:"timestamp"`
}

// DepositService BTC 充值状态机
//
//	0 → 10 → 11 → 20 → 21 → 30
//	10/11 重试耗尽 → 40 → 50
type DepositService struct {
	repo    repository.DepositRepository
	chains  ChainRegistry
	params  ParamRegistry
	builder *btc.Builder
	locker  lock.Locker
	minter  *minter
}

// NewDepositService 创建充值服务
func NewDepositService(
	repo repository.DepositRepository,
	chains ChainRegistry,
	params ParamRegistry,
	signing *SigningService,
	oracle TxOracle,
	builder *btc.Builder,
	locker lock.Locker,
) *DepositService {
	return &DepositService{
		repo:    repo,
		chains:  chains,
		params:  params,
		builder: builder,
		locker:  locker,
		minter:  &minter{signing: signing, oracle: oracle},
	}
}

// Create 登记充值
func (s *DepositService) Create(ctx context.Context, req *CreateDepositRequest) (*model.DepositRecord, error) {
	switch {
	case req.BtcTxnHash == "":
		return nil, bizerrors.Invalid("btc_txn_hash is required")
	case req.BtcSenderAddress == "":
		return nil, bizerrors.Invalid("btc_sender_address is required")
	case req.ReceivingChainID == "" || req.ReceivingAddress == "":
		return nil, bizerrors.Invalid("receiving chain and address are required")
	case req.BtcAmount == 0:
		return nil, bizerrors.Invalid("btc_amount must be positive")
	case req.Status != model.DepositStatusPendingMempool && req.Status != model.DepositStatusDeposited:
		return nil, bizerrors.Invalidf("initial status must be %d or %d", model.DepositStatusPendingMempool, model.DepositStatusDeposited)
	}

	chain, err := s.chains.GetChainConfig(ctx, req.ReceivingChainID)
	if err != nil {
		return nil, err
	}

	rec := &model.DepositRecord{
		BtcTxnHash:       req.BtcTxnHash,
		BtcSenderAddress: req.BtcSenderAddress,
		ReceivingChainID: req.ReceivingChainID,
		ReceivingAddress: req.ReceivingAddress,
		BtcAmount:        req.BtcAmount,
		ProtocolFee:      s.params.DepositProtocolFee(req.BtcAmount),
		MintingFee:       chain.MintingFee,
		Status:           req.Status,
		Timestamp:        req.Timestamp,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, mapError(err)
	}
	logger.Info("deposit created",
		zap.String("btc_txn_hash", rec.BtcTxnHash),
		zap.String("receiving_chain_id", rec.ReceivingChainID),
		zap.Uint64("btc_amount", rec.BtcAmount),
		zap.Stringer("status", rec.Status))
	return rec, nil
}

// Get 查询充值
func (s *DepositService) Get(ctx context.Context, btcTxnHash string) (*model.DepositRecord, error) {
	rec, err := s.repo.GetByTxnHash(ctx, btcTxnHash)
	return rec, mapError(err)
}

// List 分页查询
func (s *DepositService) List(ctx context.Context, filter *repository.ListFilter, page *repository.Pagination) ([]*model.DepositRecord, error) {
	recs, err := s.repo.List(ctx, filter, page)
	return recs, mapError(err)
}

// mutate 在事件锁与事务内读取、修改并保存记录
func (s *DepositService) mutate(ctx context.Context, btcTxnHash string, fn func(ctx context.Context, rec *model.DepositRecord) error) (*model.DepositRecord, error) {
	var (
		out      *model.DepositRecord
		from, to model.DepositStatus
	)
	err := withEventLock(ctx, s.locker, s.repo, model.EventTypeDeposit, btcTxnHash, func(ctx context.Context) error {
		rec, err := s.repo.GetByTxnHash(ctx, btcTxnHash, repository.ForUpdate)
		if err != nil {
			return err
		}
		from = rec.Status
		if err := fn(ctx, rec); err != nil {
			return err
		}
		if rec.Status != from && !from.CanTransitionTo(rec.Status) {
			return ErrStatusMismatch.
				WithDetail("from", from.String()).
				WithDetail("to", rec.Status.String())
		}
		if err := s.repo.Update(ctx, rec); err != nil {
			return err
		}
		to = rec.Status
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	if from != to {
		recordTransition(model.EventTypeDeposit, from, to)
		logger.Info("deposit status changed",
			zap.String("btc_txn_hash", btcTxnHash),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	}
	return out, nil
}

func expectDeposit(rec *model.DepositRecord, status model.DepositStatus) error {
	if rec.Status != status {
		return ErrStatusMismatch.
			WithDetail("expected", status.String()).
			WithDetail("actual", rec.Status.String())
	}
	return nil
}

// confirmQuorum 源链 (BTC) 确认数达到阈值
func (s *DepositService) confirmQuorum(ctx context.Context, rec *model.DepositRecord) error {
	return requireQuorum(ctx, s.chains, s.params.GetBtcChainID(), rec.VerifiedCount)
}

// MarkDeposited 内存池交易已确认 0 → 10
func (s *DepositService) MarkDeposited(ctx context.Context, btcTxnHash string) (*model.DepositRecord, error) {
	return s.mutate(ctx, btcTxnHash, func(ctx context.Context, rec *model.DepositRecord) error {
		if err := expectDeposit(rec, model.DepositStatusPendingMempool); err != nil {
			return err
		}
		if rec.Remarks != "" {
			return ErrRemarksPresent
		}
		rec.Status = model.DepositStatusDeposited
		return nil
	})
}

// BeginYieldDeposit 存入收益提供方 10 → 11
func (s *DepositService) BeginYieldDeposit(ctx context.Context, btcTxnHash, yieldTxnHash string) (*model.DepositRecord, error) {
	if yieldTxnHash == "" {
		return nil, bizerrors.Invalid("yield_provider_txn_hash is required")
	}
	return s.mutate(ctx, btcTxnHash, func(ctx context.Context, rec *model.DepositRecord) error {
		if err := expectDeposit(rec, model.DepositStatusDeposited); err != nil {
			return err
		}
		if rec.Remarks != "" {
			return ErrRemarksPresent
		}
		if rec.YieldProviderTxnHash != "" {
			return ErrYieldTxnHashSet
		}
		if err := s.confirmQuorum(ctx, rec); err != nil {
			return err
		}
		rec.YieldProviderTxnHash = yieldTxnHash
		rec.Status = model.DepositStatusPendingYield
		return nil
	})
}

// ConfirmYieldDeposit 收益提供方存入完成 11 → 20
func (s *DepositService) ConfirmYieldDeposit(ctx context.Context, btcTxnHash string, yieldGasFee uint64) (*model.DepositRecord, error) {
	return s.mutate(ctx, btcTxnHash, func(ctx context.Context, rec *model.DepositRecord) error {
		if err := expectDeposit(rec, model.DepositStatusPendingYield); err != nil {
			return err
		}
		if rec.Remarks != "" {
			return ErrRemarksPresent
		}
		rec.YieldProviderGasFee = yieldGasFee
		rec.Status = model.DepositStatusYieldDeposited
		return nil
	})
}

// RequestMint 构造目标链铸造载荷并发起签名 20 → 21
func (s *DepositService) RequestMint(ctx context.Context, btcTxnHash string) (*MintRequest, error) {
	var out *MintRequest
	_, err := s.mutate(ctx, btcTxnHash, func(ctx context.Context, rec *model.DepositRecord) error {
		if err := expectDeposit(rec, model.DepositStatusYieldDeposited); err != nil {
			return err
		}
		if rec.Remarks != "" {
			return ErrRemarksPresent
		}
		if rec.MintedTxnHash != "" {
			return ErrMintedTxnHashSet
		}
		if err := s.confirmQuorum(ctx, rec); err != nil {
			return err
		}
		if rec.MintingFee == 0 {
			return ErrZeroMintingFee
		}
		chain, err := s.chains.GetChainConfig(ctx, rec.ReceivingChainID)
		if err != nil {
			return err
		}

		req, err := s.minter.mint(ctx, &mintOrder{
			eventType:     model.EventTypeDeposit,
			eventID:       rec.BtcTxnHash,
			chain:         chain,
			receiver:      rec.ReceivingAddress,
			amount:        rec.NetAmount(),
			originChainID: s.params.GetBtcChainID(),
			originTxnHash: rec.BtcTxnHash,
			method:        contract.MethodMintDeposit,
			pack: func(to string, amount uint64) ([]byte, error) {
				return contract.PackMintDeposit(to, amount, rec.BtcTxnHash)
			},
		})
		if err != nil {
			return err
		}
		out = req
		rec.Status = model.DepositStatusPendingMint
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetMintedTxnHash 登记目标链铸造交易, 只能写一次
func (s *DepositService) SetMintedTxnHash(ctx context.Context, btcTxnHash, mintedTxnHash string) (*model.DepositRecord, error) {
	if mintedTxnHash == "" {
		return nil, bizerrors.Invalid("minted_txn_hash is required")
	}
	return s.mutate(ctx, btcTxnHash, func(ctx context.Context, rec *model.DepositRecord) error {
		if err := expectDeposit(rec, model.DepositStatusPendingMint); err != nil {
			return err
		}
		if rec.MintedTxnHash != "" {
			return ErrMintedTxnHashSet
		}
		rec.MintedTxnHash = mintedTxnHash
		return nil
	})
}

// ConfirmMint 铸造已被目标链验证者确认 21 → 30
func (s *DepositService) ConfirmMint(ctx context.Context, btcTxnHash string) (*model.DepositRecord, error) {
	return s.mutate(ctx, btcTxnHash, func(ctx context.Context, rec *model.DepositRecord) error {
		if err := expectDeposit(rec, model.DepositStatusPendingMint); err != nil {
			return err
		}
		if rec.Remarks != "" {
			return ErrRemarksPresent
		}
		if rec.MintedTxnHash == "" {
			return ErrMintedTxnHashMissing
		}
		if err := s.confirmQuorum(ctx, rec); err != nil {
			return err
		}
		if err := requireQuorum(ctx, s.chains, rec.ReceivingChainID, rec.MintedTxnHashVerifiedCount); err != nil {
			return err
		}
		rec.Status = model.DepositStatusMinted
		return nil
	})
}

// SetRemarks 记录异常, 非空 remarks 会阻止正向迁移
func (s *DepositService) SetRemarks(ctx context.Context, btcTxnHash, remarks string) (*model.DepositRecord, error) {
	return s.mutate(ctx, btcTxnHash, func(ctx context.Context, rec *model.DepositRecord) error {
		if rec.Status.IsTerminal() {
			return ErrStatusMismatch.WithDetail("actual", rec.Status.String())
		}
		rec.Remarks = truncate(remarks, maxRemarksLen)
		return nil
	})
}

// Rollback 回退一步并清空 remarks; 10/11 重试耗尽时转入退款
func (s *DepositService) Rollback(ctx context.Context, btcTxnHash string) (*model.DepositRecord, error) {
	return s.mutate(ctx, btcTxnHash, func(ctx context.Context, rec *model.DepositRecord) error {
		if rec.Remarks == "" {
			return ErrRemarksRequired
		}
		if rec.Status.IsRefundable() && rec.RetryCount >= s.params.GetMaxRetryCount() {
			rec.Status = model.DepositStatusRefunding
			metrics.RollbacksTotal.WithLabelValues(string(model.EventTypeDeposit)).Inc()
			logger.Warn("deposit retries exhausted, refunding",
				zap.String("btc_txn_hash", rec.BtcTxnHash),
				zap.Uint32("retry_count", rec.RetryCount),
				zap.String("remarks", rec.Remarks))
			return nil
		}

		chain, err := s.chains.GetChainConfig(ctx, rec.ReceivingChainID)
		if err != nil {
			return err
		}
		if invalidEVMDestination(chain, rec.ReceivingAddress) {
			return ErrInvalidDestination.WithDetail("receiving_address", rec.ReceivingAddress)
		}

		prev, ok := rec.Status.Previous()
		if !ok {
			return ErrNoRollback.WithDetail("status", rec.Status.String())
		}
		switch rec.Status {
		case model.DepositStatusPendingYield:
			rec.YieldProviderTxnHash = ""
		case model.DepositStatusPendingMint:
			if rec.MintedTxnHash != "" {
				return ErrMintedTxnHashSet
			}
			issued, err := s.minter.signing.MintIssued(ctx, model.EventTypeDeposit, rec.BtcTxnHash)
			if err != nil {
				return err
			}
			if issued {
				return ErrMintIssued
			}
		}
		rec.Status = prev
		rec.Remarks = ""
		rec.RetryCount++
		metrics.RollbacksTotal.WithLabelValues(string(model.EventTypeDeposit)).Inc()
		return nil
	})
}

// MarkRefundable 目标地址不合法时直接转入退款
func (s *DepositService) MarkRefundable(ctx context.Context, btcTxnHash string) (*model.DepositRecord, error) {
	return s.mutate(ctx, btcTxnHash, func(ctx context.Context, rec *model.DepositRecord) error {
		if rec.Remarks == "" {
			return ErrRemarksRequired
		}
		switch rec.Status {
		case model.DepositStatusDeposited, model.DepositStatusPendingYield, model.DepositStatusYieldDeposited:
		default:
			return ErrStatusMismatch.WithDetail("actual", rec.Status.String())
		}
		chain, err := s.chains.GetChainConfig(ctx, rec.ReceivingChainID)
		if err != nil {
			return err
		}
		if !invalidEVMDestination(chain, rec.ReceivingAddress) {
			return ErrDestinationValid
		}
		rec.Status = model.DepositStatusRefunding
		return nil
	})
}

// BuildRefund 构造退款交易, 金额为充值全额, 矿工费另行从 UTXO 支付
func (s *DepositService) BuildRefund(ctx context.Context, btcTxnHash string, utxos []btc.UTXO, feeRate uint64) (*btc.Payload, error) {
	rec, err := s.repo.GetByTxnHash(ctx, btcTxnHash)
	if err != nil {
		return nil, mapError(err)
	}
	if err := expectDeposit(rec, model.DepositStatusRefunding); err != nil {
		return nil, err
	}
	if rec.RefundTxnID != "" {
		return nil, ErrRefundTxnIDSet
	}
	payload, err := s.builder.BuildRefund(rec.BtcTxnHash, rec.BtcAmount, rec.BtcSenderAddress, utxos, feeRate)
	if err != nil {
		return nil, err
	}
	logger.Info("refund payload built",
		zap.String("btc_txn_hash", rec.BtcTxnHash),
		zap.String("txid", payload.TxID),
		zap.Uint64("amount", payload.Amount),
		zap.Uint64("fee", payload.Fee))
	return payload, nil
}

// ConfirmRefund 退款交易已广播 40 → 50
func (s *DepositService) ConfirmRefund(ctx context.Context, btcTxnHash, refundTxnID string) (*model.DepositRecord, error) {
	if refundTxnID == "" {
		return nil, bizerrors.Invalid("refund_txn_id is required")
	}
	return s.mutate(ctx, btcTxnHash, func(ctx context.Context, rec *model.DepositRecord) error {
		if err := expectDeposit(rec, model.DepositStatusRefunding); err != nil {
			return err
		}
		if rec.RefundTxnID != "" {
			return ErrRefundTxnIDSet
		}
		rec.RefundTxnID = refundTxnID
		rec.Status = model.DepositStatusRefunded
		return nil
	})
}

// ListStuckForRefund 重试耗尽、等待人工退款的记录
func (s *DepositService) ListStuckForRefund(ctx context.Context, limit int) ([]*model.DepositRecord, error) {
	recs, err := s.repo.ListStuckForRefund(ctx, s.params.GetMaxRetryCount(), limit)
	if err != nil {
		return nil, mapError(err)
	}
	return recs, nil
}
