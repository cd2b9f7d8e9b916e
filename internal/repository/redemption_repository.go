package repository

import (
	"context"
	"errors"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"gorm.io/gorm"
)

var (
	ErrRedemptionNotFound  = errors.New("redemption record not found")
	ErrDuplicateRedemption = errors.New("duplicate redemption")
)

// RedemptionRepository 赎回记录仓储接口
type RedemptionRepository interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
	TransactionWithRetry(ctx context.Context, maxRetries int, fn func(ctx context.Context) error) error

	Create(ctx context.Context, record *model.RedemptionRecord) error
	GetByTxnHash(ctx context.Context, txnHash string, opts ...*QueryOptions) (*model.RedemptionRecord, error)
	Update(ctx context.Context, record *model.RedemptionRecord) error
	List(ctx context.Context, filter *ListFilter, page *Pagination) ([]*model.RedemptionRecord, error)
	DeleteAll(ctx context.Context) (int64, error)
}

type redemptionRepository struct {
	*Repository
}

// NewRedemptionRepository 创建赎回记录仓储
func NewRedemptionRepository(db *gorm.DB) RedemptionRepository {
	return &redemptionRepository{Repository: NewRepository(db)}
}

func (r *redemptionRepository) Create(ctx context.Context, record *model.RedemptionRecord) error {
	now := nowMilli()
	record.CreatedAt = now
	record.UpdatedAt = now
	record.Timestamp = now

	err := r.DB(ctx).Create(record).Error
	if isDuplicateKeyError(err) {
		return ErrDuplicateRedemption
	}
	return err
}

func (r *redemptionRepository) GetByTxnHash(ctx context.Context, txnHash string, opts ...*QueryOptions) (*model.RedemptionRecord, error) {
	var record model.RedemptionRecord
	err := applyOptions(r.DB(ctx), opts).
		Where("txn_hash = ?", txnHash).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRedemptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *redemptionRepository) Update(ctx context.Context, record *model.RedemptionRecord) error {
	now := nowMilli()
	record.UpdatedAt = now
	record.Timestamp = now
	return saveGuarded(r.DB(ctx), record, record.ID,
		counterGuard{"verified_count", record.VerifiedCount})
}

func (r *redemptionRepository) List(ctx context.Context, filter *ListFilter, page *Pagination) ([]*model.RedemptionRecord, error) {
	var records []*model.RedemptionRecord

	query := r.DB(ctx).Model(&model.RedemptionRecord{})
	if filter != nil {
		if filter.Status != nil {
			query = query.Where("status = ?", *filter.Status)
		}
		if filter.ChainID != "" {
			query = query.Where("abtc_redemption_chain_id = ?", filter.ChainID)
		}
		if filter.Stuck {
			query = query.Where("remarks <> ''")
		}
	}
	if page == nil {
		page = &Pagination{}
	}
	if err := query.Count(&page.Total).Error; err != nil {
		return nil, err
	}

	err := query.
		Order("id DESC").
		Offset(page.Offset()).
		Limit(page.Limit()).
		Find(&records).Error
	return records, err
}

func (r *redemptionRepository) DeleteAll(ctx context.Context) (int64, error) {
	result := r.DB(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.RedemptionRecord{})
	return result.RowsAffected, result.Error
}
