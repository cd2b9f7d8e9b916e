package repository

import (
	"context"
	"errors"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDuplicateAttestation 同一验证者在同一 key 下重复验证
var ErrDuplicateAttestation = errors.New("duplicate attestation")

// AuthorizationRepository 验证者授权与验证记录仓储
type AuthorizationRepository interface {
	GrantChain(ctx context.Context, validatorID, chainID, grantedBy string) error
	RevokeChain(ctx context.Context, validatorID, chainID string) (bool, error)
	ListChains(ctx context.Context, validatorID string) ([]string, error)
	ListGrants(ctx context.Context) ([]*model.ValidatorChain, error)
	IsAuthorized(ctx context.Context, validatorID, chainID string) (bool, error)

	HasAttested(ctx context.Context, attestationKey, validatorID string) (bool, error)
	AddAttestation(ctx context.Context, attestation *model.Attestation) error
	ListAttestors(ctx context.Context, attestationKey string) ([]string, error)
	CountAttestors(ctx context.Context, attestationKey string) (int64, error)
	ClearAttestations(ctx context.Context) (int64, error)
}

type authorizationRepository struct {
	*Repository
}

// NewAuthorizationRepository 创建授权仓储
func NewAuthorizationRepository(db *gorm.DB) AuthorizationRepository {
	return &authorizationRepository{Repository: NewRepository(db)}
}

// GrantChain 幂等授权
func (r *authorizationRepository) GrantChain(ctx context.Context, validatorID, chainID, grantedBy string) error {
	grant := &model.ValidatorChain{
		ValidatorID: validatorID,
		ChainID:     chainID,
		GrantedBy:   grantedBy,
		CreatedAt:   nowMilli(),
	}
	return r.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(grant).Error
}

func (r *authorizationRepository) RevokeChain(ctx context.Context, validatorID, chainID string) (bool, error) {
	result := r.DB(ctx).
		Where("validator_id = ? AND chain_id = ?", validatorID, chainID).
		Delete(&model.ValidatorChain{})
	return result.RowsAffected > 0, result.Error
}

func (r *authorizationRepository) ListChains(ctx context.Context, validatorID string) ([]string, error) {
	var chains []string
	err := r.DB(ctx).Model(&model.ValidatorChain{}).
		Where("validator_id = ?", validatorID).
		Order("chain_id ASC").
		Pluck("chain_id", &chains).Error
	return chains, err
}

func (r *authorizationRepository) ListGrants(ctx context.Context) ([]*model.ValidatorChain, error) {
	var grants []*model.ValidatorChain
	err := r.DB(ctx).Order("validator_id ASC, chain_id ASC").Find(&grants).Error
	return grants, err
}

func (r *authorizationRepository) IsAuthorized(ctx context.Context, validatorID, chainID string) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&model.ValidatorChain{}).
		Where("validator_id = ? AND chain_id = ?", validatorID, chainID).
		Count(&count).Error
	return count > 0, err
}

func (r *authorizationRepository) HasAttested(ctx context.Context, attestationKey, validatorID string) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&model.Attestation{}).
		Where("attestation_key = ? AND validator_id = ?", attestationKey, validatorID).
		Count(&count).Error
	return count > 0, err
}

func (r *authorizationRepository) AddAttestation(ctx context.Context, attestation *model.Attestation) error {
	attestation.CreatedAt = nowMilli()
	err := r.DB(ctx).Create(attestation).Error
	if isDuplicateKeyError(err) {
		return ErrDuplicateAttestation
	}
	return err
}

func (r *authorizationRepository) ListAttestors(ctx context.Context, attestationKey string) ([]string, error) {
	var validators []string
	err := r.DB(ctx).Model(&model.Attestation{}).
		Where("attestation_key = ?", attestationKey).
		Order("id ASC").
		Pluck("validator_id", &validators).Error
	return validators, err
}

func (r *authorizationRepository) CountAttestors(ctx context.Context, attestationKey string) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&model.Attestation{}).
		Where("attestation_key = ?", attestationKey).
		Count(&count).Error
	return count, err
}

func (r *authorizationRepository) ClearAttestations(ctx context.Context) (int64, error) {
	result := r.DB(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Attestation{})
	return result.RowsAffected, result.Error
}
