package service

import (
	"context"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/contract"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/repository"
	bizerrors "github.com/eidos-exchange/eidos/eidos-bridge/pkg/errors"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/lock"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/logger"
	"go.uber.org/zap"
)

// CreateBridgingRequest 登记跨链转移
type CreateBridgingRequest struct {
	TxnHash            string               `json:"txn_hash"`
	OriginChainID      string               `json:"origin_chain_id"`
	OriginChainAddress string               `json:"origin_chain_address"`
	DestChainID        string               `json:"dest_chain_id"`
	DestChainAddress   string               `json:"dest_chain_address"`
	AbtcAmount         uint64               `json:"abtc_amount"`
	BridgingGasFee     uint64               `json:"bridging_gas_fee"`
	Status             model.BridgingStatus `json:"status"` // 0 或 10
	Timestamp          int64                `json:"timestamp"`
}

// AdvanceYieldRequest 推进收益轨道
type AdvanceYieldRequest struct {
	YieldProviderTxnHash string `json:"yield_provider_txn_hash"`
	YieldProviderGasFee  uint64 `json:"yield_provider_gas_fee"` // 进入 13 时写入
}

// BridgingService aBTC 跨链转移状态机 0 → 10 → 11 → 20
type BridgingService struct {
	repo   repository.BridgingRepository
	chains ChainRegistry
	params ParamRegistry
	locker lock.Locker
	minter *minter
}

// NewBridgingService 创建跨链服务
func NewBridgingService(
	repo repository.BridgingRepository,
	chains ChainRegistry,
	params ParamRegistry,
	signing *SigningService,
	oracle TxOracle,
	locker lock.Locker,
) *BridgingService {
	return &BridgingService{
		repo:   repo,
		chains: chains,
		params: params,
		locker: locker,
		minter: &minter{signing: signing, oracle: oracle},
	}
}

// Create 登记跨链转移
func (s *BridgingService) Create(ctx context.Context, req *CreateBridgingRequest) (*model.BridgingRecord, error) {
	switch {
	case req.TxnHash == "":
		return nil, bizerrors.Invalid("txn_hash is required")
	case req.OriginChainID == "" || req.OriginChainAddress == "":
		return nil, bizerrors.Invalid("origin chain and address are required")
	case req.DestChainID == "" || req.DestChainAddress == "":
		return nil, bizerrors.Invalid("destination chain and address are required")
	case req.OriginChainID == req.DestChainID:
		return nil, bizerrors.Invalid("origin and destination chain must differ")
	case req.AbtcAmount == 0:
		return nil, bizerrors.Invalid("abtc_amount must be positive")
	case req.BridgingGasFee == 0:
		return nil, ErrZeroBridgingGasFee
	case req.Status != model.BridgingStatusPendingBurn && req.Status != model.BridgingStatusBurnt:
		return nil, bizerrors.Invalidf("initial status must be %d or %d", model.BridgingStatusPendingBurn, model.BridgingStatusBurnt)
	}
	if _, err := s.chains.GetChainConfig(ctx, req.OriginChainID); err != nil {
		return nil, err
	}
	dest, err := s.chains.GetChainConfig(ctx, req.DestChainID)
	if err != nil {
		return nil, err
	}

	rec := &model.BridgingRecord{
		TxnHash:            req.TxnHash,
		OriginChainID:      req.OriginChainID,
		OriginChainAddress: req.OriginChainAddress,
		DestChainID:        req.DestChainID,
		DestChainAddress:   req.DestChainAddress,
		AbtcAmount:         req.AbtcAmount,
		ProtocolFee:        s.params.BridgingProtocolFee(req.AbtcAmount),
		MintingFee:         dest.MintingFee,
		BridgingGasFee:     req.BridgingGasFee,
		Status:             req.Status,
		Timestamp:          req.Timestamp,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, mapError(err)
	}
	logger.Info("bridging created",
		zap.String("txn_hash", rec.TxnHash),
		zap.String("origin_chain_id", rec.OriginChainID),
		zap.String("dest_chain_id", rec.DestChainID),
		zap.Uint64("abtc_amount", rec.AbtcAmount))
	return rec, nil
}

// Get 查询跨链转移
func (s *BridgingService) Get(ctx context.Context, txnHash string) (*model.BridgingRecord, error) {
	rec, err := s.repo.GetByTxnHash(ctx, txnHash)
	return rec, mapError(err)
}

// List 分页查询
func (s *BridgingService) List(ctx context.Context, filter *repository.ListFilter, page *repository.Pagination) ([]*model.BridgingRecord, error) {
	recs, err := s.repo.List(ctx, filter, page)
	return recs, mapError(err)
}

func (s *BridgingService) mutate(ctx context.Context, txnHash string, fn func(ctx context.Context, rec *model.BridgingRecord) error) (*model.BridgingRecord, error) {
	var (
		out      *model.BridgingRecord
		from, to model.BridgingStatus
	)
	err := withEventLock(ctx, s.locker, s.repo, model.EventTypeBridging, txnHash, func(ctx context.Context) error {
		rec, err := s.repo.GetByTxnHash(ctx, txnHash, repository.ForUpdate)
		if err != nil {
			return err
		}
		from = rec.Status
		if err := fn(ctx, rec); err != nil {
			return err
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
		recordTransition(model.EventTypeBridging, from, to)
		logger.Info("bridging status changed",
			zap.String("txn_hash", txnHash),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	}
	return out, nil
}

func expectBridging(rec *model.BridgingRecord, status model.BridgingStatus) error {
	if rec.Status != status {
		return ErrStatusMismatch.
			WithDetail("expected", status.String()).
			WithDetail("actual", rec.Status.String())
	}
	return nil
}

// MarkBurnt 源链销毁已确认 0 → 10
func (s *BridgingService) MarkBurnt(ctx context.Context, txnHash string) (*model.BridgingRecord, error) {
	return s.mutate(ctx, txnHash, func(ctx context.Context, rec *model.BridgingRecord) error {
		if err := expectBridging(rec, model.BridgingStatusPendingBurn); err != nil {
			return err
		}
		if rec.Remarks != "" {
			return ErrRemarksPresent
		}
		rec.Status = model.BridgingStatusBurnt
		return nil
	})
}

// BeginBridge 构造目标链铸造载荷并发起签名 10 → 11
func (s *BridgingService) BeginBridge(ctx context.Context, txnHash string) (*MintRequest, error) {
	var out *MintRequest
	_, err := s.mutate(ctx, txnHash, func(ctx context.Context, rec *model.BridgingRecord) error {
		if err := expectBridging(rec, model.BridgingStatusBurnt); err != nil {
			return err
		}
		if rec.Remarks != "" {
			return ErrRemarksPresent
		}
		if rec.DestTxnHash != "" {
			return ErrDestTxnHashSet
		}
		if err := requireQuorum(ctx, s.chains, rec.OriginChainID, rec.VerifiedCount); err != nil {
			return err
		}
		if rec.MintingFee == 0 {
			return ErrZeroMintingFee
		}
		dest, err := s.chains.GetChainConfig(ctx, rec.DestChainID)
		if err != nil {
			return err
		}

		req, err := s.minter.mint(ctx, &mintOrder{
			eventType:     model.EventTypeBridging,
			eventID:       rec.TxnHash,
			chain:         dest,
			receiver:      rec.DestChainAddress,
			amount:        rec.NetAmount(),
			originChainID: rec.OriginChainID,
			originTxnHash: rec.TxnHash,
			method:        contract.MethodMintBridge,
			pack: func(to string, amount uint64) ([]byte, error) {
				return contract.PackMintBridge(to, amount, rec.OriginChainID, rec.TxnHash)
			},
		})
		if err != nil {
			return err
		}
		out = req
		rec.Status = model.BridgingStatusPendingMint
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetDestTxnHash 登记目标链铸造交易, 只能写一次
func (s *BridgingService) SetDestTxnHash(ctx context.Context, txnHash, destTxnHash string) (*model.BridgingRecord, error) {
	if destTxnHash == "" {
		return nil, bizerrors.Invalid("dest_txn_hash is required")
	}
	return s.mutate(ctx, txnHash, func(ctx context.Context, rec *model.BridgingRecord) error {
		if err := expectBridging(rec, model.BridgingStatusPendingMint); err != nil {
			return err
		}
		if rec.DestTxnHash != "" {
			return ErrDestTxnHashSet
		}
		rec.DestTxnHash = destTxnHash
		return nil
	})
}

// ConfirmBridge 目标链验证者确认铸造 11 → 20, 记录实际 gas
func (s *BridgingService) ConfirmBridge(ctx context.Context, txnHash string, actualGasFee uint64) (*model.BridgingRecord, error) {
	return s.mutate(ctx, txnHash, func(ctx context.Context, rec *model.BridgingRecord) error {
		if err := expectBridging(rec, model.BridgingStatusPendingMint); err != nil {
			return err
		}
		if rec.Remarks != "" {
			return ErrRemarksPresent
		}
		if rec.DestTxnHash == "" {
			return ErrDestTxnHashMissing
		}
		if err := requireQuorum(ctx, s.chains, rec.DestChainID, rec.MintedTxnHashVerifiedCount); err != nil {
			return err
		}
		rec.ActualGasFee = actualGasFee
		rec.Status = model.BridgingStatusMintedToDest
		return nil
	})
}

// AdvanceYieldStatus 推进收益轨道 0 → 10 → 11 → 12 → 13 → 14, 之后由国库结算接管
func (s *BridgingService) AdvanceYieldStatus(ctx context.Context, txnHash string, req *AdvanceYieldRequest) (*model.BridgingRecord, error) {
	return s.mutate(ctx, txnHash, func(ctx context.Context, rec *model.BridgingRecord) error {
		if rec.YieldProviderStatus.OwnedBySettlement() {
			return ErrYieldOwnedBySettle.WithDetail("yield_provider_status", rec.YieldProviderStatus.String())
		}
		if rec.Remarks != "" {
			return ErrRemarksPresent
		}
		next, _ := rec.YieldProviderStatus.Next()
		if req.YieldProviderTxnHash != "" {
			if rec.YieldProviderTxnHash != "" && rec.YieldProviderTxnHash != req.YieldProviderTxnHash {
				return ErrYieldTxnHashSet
			}
			rec.YieldProviderTxnHash = req.YieldProviderTxnHash
		}
		if next == model.YieldStatusWithdrawing {
			rec.YieldProviderGasFee = req.YieldProviderGasFee
		}
		from := rec.YieldProviderStatus
		rec.YieldProviderStatus = next
		recordTransition(model.EventTypeBridging, from, next)
		return nil
	})
}

// SetRemarks 记录异常; 非空 remarks 同时阻止国库结算
func (s *BridgingService) SetRemarks(ctx context.Context, txnHash, remarks string) (*model.BridgingRecord, error) {
	return s.mutate(ctx, txnHash, func(ctx context.Context, rec *model.BridgingRecord) error {
		rec.Remarks = truncate(remarks, maxRemarksLen)
		return nil
	})
}

// Rollback 11 → 10, 仅在目标链交易哈希为空时
func (s *BridgingService) Rollback(ctx context.Context, txnHash string) (*model.BridgingRecord, error) {
	return s.mutate(ctx, txnHash, func(ctx context.Context, rec *model.BridgingRecord) error {
		if rec.Remarks == "" {
			return ErrRemarksRequired
		}
		prev, ok := rec.Status.Previous()
		if !ok {
			return ErrNoRollback.WithDetail("status", rec.Status.String())
		}
		if rec.DestTxnHash != "" {
			return ErrDestTxnHashSet
		}
		issued, err := s.minter.signing.MintIssued(ctx, model.EventTypeBridging, rec.TxnHash)
		if err != nil {
			return err
		}
		if issued {
			return ErrMintIssued
		}
		rec.Status = prev
		rec.Remarks = ""
		rec.RetryCount++
		metrics.RollbacksTotal.WithLabelValues(string(model.EventTypeBridging)).Inc()
		return nil
	})
}
