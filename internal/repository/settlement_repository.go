package repository

import (
	"context"
	"errors"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"gorm.io/gorm"
)

// ErrSettlementBatchNotFound 结算批次不存在
var ErrSettlementBatchNotFound = errors.New("settlement batch not found")

// SettlementRepository 国库结算批次仓储
type SettlementRepository interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
	TransactionWithRetry(ctx context.Context, maxRetries int, fn func(ctx context.Context) error) error
	Create(ctx context.Context, batch *model.SettlementBatch) error
	GetByTxnHash(ctx context.Context, btcTxnHash string, opts ...*QueryOptions) (*model.SettlementBatch, error)
	Update(ctx context.Context, batch *model.SettlementBatch) error
	List(ctx context.Context, page *Pagination) ([]*model.SettlementBatch, error)
}

type settlementRepository struct {
	*Repository
}

// NewSettlementRepository 创建结算批次仓储
func NewSettlementRepository(db *gorm.DB) SettlementRepository {
	return &settlementRepository{Repository: NewRepository(db)}
}

func (r *settlementRepository) Create(ctx context.Context, batch *model.SettlementBatch) error {
	now := nowMilli()
	batch.CreatedAt = now
	batch.UpdatedAt = now
	return r.DB(ctx).Create(batch).Error
}

func (r *settlementRepository) GetByTxnHash(ctx context.Context, btcTxnHash string, opts ...*QueryOptions) (*model.SettlementBatch, error) {
	var batch model.SettlementBatch
	err := applyOptions(r.DB(ctx), opts).
		Where("btc_txn_hash = ?", btcTxnHash).
		First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSettlementBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *settlementRepository) Update(ctx context.Context, batch *model.SettlementBatch) error {
	batch.UpdatedAt = nowMilli()
	return r.DB(ctx).Save(batch).Error
}

func (r *settlementRepository) List(ctx context.Context, page *Pagination) ([]*model.SettlementBatch, error) {
	var batches []*model.SettlementBatch
	query := r.DB(ctx).Model(&model.SettlementBatch{})
	if page == nil {
		page = &Pagination{}
	}
	if err := query.Count(&page.Total).Error; err != nil {
		return nil, err
	}
	err := query.Order("id DESC").Offset(page.Offset()).Limit(page.Limit()).Find(&batches).Error
	return batches, err
}
