package service

import (
	"context"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/repository"
	bizerrors "github.com/eidos-exchange/eidos/eidos-bridge/pkg/errors"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/logger"
	"go.uber.org/zap"
)

// ClearResult 批量清理结果
type ClearResult struct {
	Deposits    int64 `json:"deposits"`
	Redemptions int64 `json:"redemptions"`
	Bridgings   int64 `json:"bridgings"`
}

// AdminService 验证者授权与管理操作
type AdminService struct {
	auth        repository.AuthorizationRepository
	deposits    repository.DepositRepository
	redemptions repository.RedemptionRepository
	bridgings   repository.BridgingRepository
	chains      ChainRegistry
}

// NewAdminService 创建管理服务
func NewAdminService(
	auth repository.AuthorizationRepository,
	deposits repository.DepositRepository,
	redemptions repository.RedemptionRepository,
	bridgings repository.BridgingRepository,
	chains ChainRegistry,
) *AdminService {
	return &AdminService{
		auth:        auth,
		deposits:    deposits,
		redemptions: redemptions,
		bridgings:   bridgings,
		chains:      chains,
	}
}

// GrantChain 授权验证者对某链投票
func (s *AdminService) GrantChain(ctx context.Context, validatorID, chainID, grantedBy string) error {
	if validatorID == "" || chainID == "" {
		return bizerrors.Invalid("validator_id and chain_id are required")
	}
	if _, err := s.chains.GetChainConfig(ctx, chainID); err != nil {
		return err
	}
	if err := s.auth.GrantChain(ctx, validatorID, chainID, grantedBy); err != nil {
		return mapError(err)
	}
	logger.Info("validator chain granted",
		zap.String("validator_id", validatorID),
		zap.String("chain_id", chainID),
		zap.String("granted_by", grantedBy))
	return nil
}

// RevokeChain 撤销授权; 已提交的投票保留
func (s *AdminService) RevokeChain(ctx context.Context, validatorID, chainID string) error {
	removed, err := s.auth.RevokeChain(ctx, validatorID, chainID)
	if err != nil {
		return mapError(err)
	}
	if !removed {
		return bizerrors.ErrNotFound.WithMessagef("validator %s has no grant for chain %s", validatorID, chainID)
	}
	logger.Info("validator chain revoked", zap.String("validator_id", validatorID), zap.String("chain_id", chainID))
	return nil
}

// ListChains 验证者已授权的链
func (s *AdminService) ListChains(ctx context.Context, validatorID string) ([]string, error) {
	chains, err := s.auth.ListChains(ctx, validatorID)
	return chains, mapError(err)
}

// ListGrants 全部授权
func (s *AdminService) ListGrants(ctx context.Context) ([]*model.ValidatorChain, error) {
	grants, err := s.auth.ListGrants(ctx)
	return grants, mapError(err)
}

// ClearAttestations 清空投票记录 (测试环境重置)
func (s *AdminService) ClearAttestations(ctx context.Context) (int64, error) {
	n, err := s.auth.ClearAttestations(ctx)
	if err != nil {
		return 0, mapError(err)
	}
	logger.Warn("attestations cleared", zap.Int64("count", n))
	return n, nil
}

// ClearRecords 清空全部事件记录 (测试环境重置)
func (s *AdminService) ClearRecords(ctx context.Context) (*ClearResult, error) {
	res := &ClearResult{}
	err := s.deposits.Transaction(ctx, func(ctx context.Context) error {
		var err error
		if res.Deposits, err = s.deposits.DeleteAll(ctx); err != nil {
			return err
		}
		if res.Redemptions, err = s.redemptions.DeleteAll(ctx); err != nil {
			return err
		}
		res.Bridgings, err = s.bridgings.DeleteAll(ctx)
		return err
	})
	if err != nil {
		return nil, mapError(err)
	}
	logger.Warn("event records cleared",
		zap.Int64("deposits", res.Deposits),
		zap.Int64("redemptions", res.Redemptions),
		zap.Int64("bridgings", res.Bridgings))
	return res, nil
}
