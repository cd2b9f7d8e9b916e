package service

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/btc"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/merkle"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/repository"
	bizerrors "github.com/eidos-exchange/eidos/eidos-bridge/pkg/errors"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/lock"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	settlementLockType model.EventType = "settlement"
	settlementLockID                   = "treasury"
)

// ErrBatchConfirmed 结算批次已确认
var ErrBatchConfirmed = bizerrors.Precondition("settlement batch already confirmed")

// SettlementService 跨链手续费的国库结算
//
// 将收益轨道已提取 (14) 且已铸造到目标链的记录打包为一笔 BTC 交易,
// OP_RETURN 携带记录 ID 的 Merkle 根, 记录推进到 20; 交易确认后推进到 30。
type SettlementService struct {
	bridgings    repository.BridgingRepository
	batches      repository.SettlementRepository
	params       ParamRegistry
	builder      *btc.Builder
	locker       lock.Locker
	defaultLimit int
	notifier     Notifier
}

// NewSettlementService 创建结算服务
func NewSettlementService(
	bridgings repository.BridgingRepository,
	batches repository.SettlementRepository,
	params ParamRegistry,
	builder *btc.Builder,
	locker lock.Locker,
	defaultLimit int,
) *SettlementService {
	if defaultLimit <= 0 {
		defaultLimit = 200
	}
	return &SettlementService{
		bridgings:    bridgings,
		batches:      batches,
		params:       params,
		builder:      builder,
		locker:       locker,
		defaultLimit: defaultLimit,
	}
}

// SetNotifier 设置结算事件广播
func (s *SettlementService) SetNotifier(n Notifier) {
	s.notifier = n
}

// BuildTreasurySettlement 构造国库结算交易
// 矿工费超过 gas 余量时不构造交易, 返回 nil 且记录不变
func (s *SettlementService) BuildTreasurySettlement(ctx context.Context, utxos []btc.UTXO, feeRate uint64, limit int) (*btc.SettlementPayload, error) {
	if feeRate == 0 {
		return nil, bizerrors.Invalid("fee_rate must be positive")
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}

	var payload *btc.SettlementPayload
	err := withEventLock(ctx, s.locker, s.batches, settlementLockType, settlementLockID, func(ctx context.Context) error {
		recs, err := s.bridgings.ListSettlementEligible(ctx, limit)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return btc.ErrNothingToSettle
		}

		items := make([]btc.SettlementItem, 0, len(recs))
		for _, r := range recs {
			items = append(items, btc.SettlementItem{
				EventID:      r.TxnHash,
				TreasuryFees: r.TreasuryFees(),
				YieldGasFee:  r.YieldProviderGasFee,
				GasHeadroom:  r.GasHeadroom(),
			})
		}

		p, err := s.builder.BuildTreasurySettlement(items, utxos, feeRate, s.params.GetTreasuryAddress())
		if errors.Is(err, btc.ErrInsufficientHeadroom) {
			metrics.SettlementBatchesTotal.WithLabelValues("skipped").Inc()
			logger.Warn("treasury settlement skipped", zap.Int("records", len(recs)), zap.Error(err))
			return nil
		}
		if err != nil {
			return err
		}

		for i, r := range recs {
			r.TreasuryBtcTxnHash = p.TxID
			r.TreasuryFeeShare = p.FeeShares[i]
			r.YieldProviderStatus = model.YieldStatusFeeSendingToTreasury
			if err := s.bridgings.Update(ctx, r); err != nil {
				return err
			}
		}

		if err := s.batches.Create(ctx, &model.SettlementBatch{
			BatchID:        uuid.NewString(),
			BtcTxnHash:     p.TxID,
			MerkleRoot:     p.MerkleRoot,
			RecordCount:    len(recs),
			InputTotal:     p.InputTotal,
			TreasuryAmount: p.Amount,
			Fee:            p.Fee,
			Change:         p.Change,
			Psbt:           p.Psbt,
			Status:         model.SettlementBatchStatusBuilt,
		}); err != nil {
			return err
		}
		payload = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}

	metrics.SettlementBatchesTotal.WithLabelValues("built").Inc()
	metrics.SettlementFee.Observe(float64(payload.Fee))
	logger.Info("treasury settlement built",
		zap.String("txid", payload.TxID),
		zap.String("merkle_root", payload.MerkleRoot),
		zap.Int("records", len(payload.EventIDs)),
		zap.Uint64("amount", payload.Amount),
		zap.Uint64("fee", payload.Fee),
		zap.Uint64("change", payload.Change))
	notify(ctx, s.notifier, &model.BridgeEvent{
		EventType: settlementLockType,
		EventID:   payload.TxID,
		Action:    "settlement_built",
		TxnHash:   payload.TxID,
		Detail:    payload.MerkleRoot,
	})
	return payload, nil
}

// ConfirmTreasurySettlement 结算交易已上链, 收益轨道 20 → 30
func (s *SettlementService) ConfirmTreasurySettlement(ctx context.Context, btcTxnHash string) (*model.SettlementBatch, error) {
	var out *model.SettlementBatch
	err := withEventLock(ctx, s.locker, s.batches, settlementLockType, settlementLockID, func(ctx context.Context) error {
		batch, err := s.batches.GetByTxnHash(ctx, btcTxnHash, repository.ForUpdate)
		if err != nil {
			return err
		}
		if batch.Status == model.SettlementBatchStatusConfirmed {
			return ErrBatchConfirmed.WithDetail("btc_txn_hash", btcTxnHash)
		}

		recs, err := s.bridgings.ListByTreasuryTxnHash(ctx, btcTxnHash)
		if err != nil {
			return err
		}
		for _, r := range recs {
			if r.YieldProviderStatus != model.YieldStatusFeeSendingToTreasury {
				continue
			}
			r.YieldProviderStatus = model.YieldStatusFeeSentToTreasury
			if err := s.bridgings.Update(ctx, r); err != nil {
				return err
			}
		}

		batch.Status = model.SettlementBatchStatusConfirmed
		batch.ConfirmedAt = time.Now().UnixMilli()
		if err := s.batches.Update(ctx, batch); err != nil {
			return err
		}
		out = batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.SettlementBatchesTotal.WithLabelValues("confirmed").Inc()
	logger.Info("treasury settlement confirmed",
		zap.String("txid", btcTxnHash),
		zap.Int("records", out.RecordCount))
	notify(ctx, s.notifier, &model.BridgeEvent{
		EventType: settlementLockType,
		EventID:   btcTxnHash,
		Action:    "settlement_confirmed",
		TxnHash:   btcTxnHash,
	})
	return out, nil
}

// MerkleMembership 结算批次成员校验结果
type MerkleMembership struct {
	Valid bool     `json:"valid"`
	Proof []string `json:"proof,omitempty"` // 自底向上的兄弟节点, 十六进制
}

// VerifyMerkle 校验 eventID 是否属于结算交易 btcTxnHash 且其根为 root, 通过时附带成员证明
func (s *SettlementService) VerifyMerkle(ctx context.Context, root, btcTxnHash, eventID string) (*MerkleMembership, error) {
	recs, err := s.bridgings.ListByTreasuryTxnHash(ctx, btcTxnHash)
	if err != nil {
		return nil, mapError(err)
	}
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.TxnHash)
	}
	proof, err := merkle.Proof(ids, eventID)
	if errors.Is(err, merkle.ErrNotMember) {
		return &MerkleMembership{}, nil
	}
	if err != nil {
		return nil, bizerrors.Wrap(bizerrors.ErrInternal, err)
	}
	claimed, err := hex.DecodeString(root)
	if err != nil || !merkle.VerifyProof(claimed, eventID, proof) {
		return &MerkleMembership{}, nil
	}
	out := &MerkleMembership{Valid: true, Proof: make([]string, len(proof))}
	for i, p := range proof {
		out.Proof[i] = hex.EncodeToString(p)
	}
	return out, nil
}

// GetBatch 查询结算批次
func (s *SettlementService) GetBatch(ctx context.Context, btcTxnHash string) (*model.SettlementBatch, error) {
	b, err := s.batches.GetByTxnHash(ctx, btcTxnHash)
	return b, mapError(err)
}

// ListBatches 分页查询结算批次
func (s *SettlementService) ListBatches(ctx context.Context, page *repository.Pagination) ([]*model.SettlementBatch, error) {
	batches, err := s.batches.List(ctx, page)
	return batches, mapError(err)
}
