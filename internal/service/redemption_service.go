package service

import (
	"context"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/repository"
	bizerrors "github.com/eidos-exchange/eidos/eidos-bridge/pkg/errors"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/lock"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/logger"
	"go.uber.org/zap"
)

// CreateRedemptionRequest 登记 aBTC 赎回
type CreateRedemptionRequest struct {
	TxnHash               string `json:"txn_hash"`
	AbtcRedemptionAddress string `json:"abtc_redemption_address"`
	AbtcRedemptionChainID string `json:"abtc_redemption_chain_id"`
	BtcReceivingAddress   string `json:"btc_receiving_address"`
	AbtcAmount            uint64 `json:"abtc_amount"`
	Timestamp             int64  `json:"timestamp"`
}

// RedemptionService aBTC 赎回状态机 10 → 21 → 22 → 30
type RedemptionService struct {
	repo   repository.RedemptionRepository
	chains ChainRegistry
	params ParamRegistry
	locker lock.Locker
}

// NewRedemptionService 创建赎回服务
func NewRedemptionService(repo repository.RedemptionRepository, chains ChainRegistry, params ParamRegistry, locker lock.Locker) *RedemptionService {
	return &RedemptionService{repo: repo, chains: chains, params: params, locker: locker}
}

// Create 登记赎回, 初始状态为已销毁
func (s *RedemptionService) Create(ctx context.Context, req *CreateRedemptionRequest) (*model.RedemptionRecord, error) {
	switch {
	case req.TxnHash == "":
		return nil, bizerrors.Invalid("txn_hash is required")
	case req.AbtcRedemptionAddress == "" || req.AbtcRedemptionChainID == "":
		return nil, bizerrors.Invalid("redemption chain and address are required")
	case req.BtcReceivingAddress == "":
		return nil, bizerrors.Invalid("btc_receiving_address is required")
	case req.AbtcAmount == 0:
		return nil, bizerrors.Invalid("abtc_amount must be positive")
	}
	if _, err := s.chains.GetChainConfig(ctx, req.AbtcRedemptionChainID); err != nil {
		return nil, err
	}

	rec := &model.RedemptionRecord{
		TxnHash:               req.TxnHash,
		AbtcRedemptionAddress: req.AbtcRedemptionAddress,
		AbtcRedemptionChainID: req.AbtcRedemptionChainID,
		BtcReceivingAddress:   req.BtcReceivingAddress,
		AbtcAmount:            req.AbtcAmount,
		ProtocolFee:           s.params.RedemptionProtocolFee(req.AbtcAmount),
		Status:                model.RedemptionStatusBurnt,
		Timestamp:             req.Timestamp,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, mapError(err)
	}
	logger.Info("redemption created",
		zap.String("txn_hash", rec.TxnHash),
		zap.String("chain_id", rec.AbtcRedemptionChainID),
		zap.Uint64("abtc_amount", rec.AbtcAmount))
	return rec, nil
}

// Get 查询赎回
func (s *RedemptionService) Get(ctx context.Context, txnHash string) (*model.RedemptionRecord, error) {
	rec, err := s.repo.GetByTxnHash(ctx, txnHash)
	return rec, mapError(err)
}

// List 分页查询
func (s *RedemptionService) List(ctx context.Context, filter *repository.ListFilter, page *repository.Pagination) ([]*model.RedemptionRecord, error) {
	recs, err := s.repo.List(ctx, filter, page)
	return recs, mapError(err)
}

func (s *RedemptionService) mutate(ctx context.Context, txnHash string, fn func(ctx context.Context, rec *model.RedemptionRecord) error) (*model.RedemptionRecord, error) {
	var (
		out      *model.RedemptionRecord
		from, to model.RedemptionStatus
	)
	err := withEventLock(ctx, s.locker, s.repo, model.EventTypeRedemption, txnHash, func(ctx context.Context) error {
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
		recordTransition(model.EventTypeRedemption, from, to)
		logger.Info("redemption status changed",
			zap.String("txn_hash", txnHash),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	}
	return out, nil
}

// Advance 正向推进一步; 需 remarks 为空且确认数达到赎回链阈值
func (s *RedemptionService) Advance(ctx context.Context, txnHash string) (*model.RedemptionRecord, error) {
	return s.mutate(ctx, txnHash, func(ctx context.Context, rec *model.RedemptionRecord) error {
		next, ok := rec.Status.Next()
		if !ok {
			return ErrStatusMismatch.WithDetail("actual", rec.Status.String())
		}
		if rec.Remarks != "" {
			return ErrRemarksPresent
		}
		if err := requireQuorum(ctx, s.chains, rec.AbtcRedemptionChainID, rec.VerifiedCount); err != nil {
			return err
		}
		rec.Status = next
		return nil
	})
}

// SetCustodyTxnID 登记托管方 BTC 支付交易, 仅在 21 且只能写一次
func (s *RedemptionService) SetCustodyTxnID(ctx context.Context, txnHash, btcTxnHash string) (*model.RedemptionRecord, error) {
	if btcTxnHash == "" {
		return nil, bizerrors.Invalid("btc_txn_hash is required")
	}
	return s.mutate(ctx, txnHash, func(ctx context.Context, rec *model.RedemptionRecord) error {
		if rec.Status != model.RedemptionStatusPendingRedemption {
			return ErrStatusMismatch.
				WithDetail("expected", model.RedemptionStatusPendingRedemption.String()).
				WithDetail("actual", rec.Status.String())
		}
		if rec.BtcTxnHash != "" {
			return ErrCustodyTxnIDSet
		}
		rec.BtcTxnHash = btcTxnHash
		return nil
	})
}

// SetRemarks 记录异常
func (s *RedemptionService) SetRemarks(ctx context.Context, txnHash, remarks string) (*model.RedemptionRecord, error) {
	return s.mutate(ctx, txnHash, func(ctx context.Context, rec *model.RedemptionRecord) error {
		if rec.Status.IsTerminal() {
			return ErrStatusMismatch.WithDetail("actual", rec.Status.String())
		}
		rec.Remarks = truncate(remarks, maxRemarksLen)
		return nil
	})
}

// Rollback 回退一步并清空 remarks
func (s *RedemptionService) Rollback(ctx context.Context, txnHash string) (*model.RedemptionRecord, error) {
	return s.mutate(ctx, txnHash, func(ctx context.Context, rec *model.RedemptionRecord) error {
		if rec.Remarks == "" {
			return ErrRemarksRequired
		}
		prev, ok := rec.Status.Previous()
		if !ok {
			return ErrNoRollback.WithDetail("status", rec.Status.String())
		}
		if rec.Status == model.RedemptionStatusPendingRedemption && rec.BtcTxnHash != "" {
			return ErrCustodyTxnIDSet
		}
		rec.Status = prev
		rec.Remarks = ""
		rec.RetryCount++
		metrics.RollbacksTotal.WithLabelValues(string(model.EventTypeRedemption)).Inc()
		return nil
	})
}
