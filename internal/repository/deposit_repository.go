package repository

import (
	"context"
	"errors"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"gorm.io/gorm"
)

var (
	ErrDepositNotFound  = errors.New("deposit record not found")
	ErrDuplicateDeposit = errors.New("duplicate deposit")
)

// DepositRepository 充值记录仓储接口
type DepositRepository interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
	TransactionWithRetry(ctx context.Context, maxRetries int, fn func(ctx context.Context) error) error

	Create(ctx context.Context, record *model.DepositRecord) error
	GetByTxnHash(ctx context.Context, btcTxnHash string, opts ...*QueryOptions) (*model.DepositRecord, error)
	Update(ctx context.Context, record *model.DepositRecord) error
	List(ctx context.Context, filter *ListFilter, page *Pagination) ([]*model.DepositRecord, error)

	// ListStuckForRefund 停留在 10/11 且重试次数耗尽的记录
	ListStuckForRefund(ctx context.Context, maxRetry uint32, limit int) ([]*model.DepositRecord, error)
	DeleteAll(ctx context.Context) (int64, error)
}

type depositRepository struct {
	*Repository
}

// NewDepositRepository 创建充值记录仓储
func NewDepositRepository(db *gorm.DB) DepositRepository {
	return &depositRepository{Repository: NewRepository(db)}
}

func (r *depositRepository) Create(ctx context.Context, record *model.DepositRecord) error {
	now := nowMilli()
	record.CreatedAt = now
	record.UpdatedAt = now
	record.Timestamp = now

	err := r.DB(ctx).Create(record).Error
	if isDuplicateKeyError(err) {
		return ErrDuplicateDeposit
	}
	return err
}

func (r *depositRepository) GetByTxnHash(ctx context.Context, btcTxnHash string, opts ...*QueryOptions) (*model.DepositRecord, error) {
	var record model.DepositRecord
	err := applyOptions(r.DB(ctx), opts).
		Where("btc_txn_hash = ?", btcTxnHash).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDepositNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *depositRepository) Update(ctx context.Context, record *model.DepositRecord) error {
	now := nowMilli()
	record.UpdatedAt = now
	record.Timestamp = now
	return saveGuarded(r.DB(ctx), record, record.ID,
		counterGuard{"verified_count", record.VerifiedCount},
		counterGuard{"minted_txn_hash_verified_count", record.MintedTxnHashVerifiedCount})
}

func (r *depositRepository) List(ctx context.Context, filter *ListFilter, page *Pagination) ([]*model.DepositRecord, error) {
	var records []*model.DepositRecord

	query := r.DB(ctx).Model(&model.DepositRecord{})
	if filter != nil {
		if filter.Status != nil {
			query = query.Where("status = ?", *filter.Status)
		}
		if filter.ChainID != "" {
			query = query.Where("receiving_chain_id = ?", filter.ChainID)
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

func (r *depositRepository) ListStuckForRefund(ctx context.Context, maxRetry uint32, limit int) ([]*model.DepositRecord, error) {
	var records []*model.DepositRecord
	err := r.DB(ctx).
		Where("status IN ? AND retry_count >= ? AND remarks <> ''",
			[]model.DepositStatus{model.DepositStatusDeposited, model.DepositStatusPendingYield}, maxRetry).
		Order("id ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *depositRepository) DeleteAll(ctx context.Context) (int64, error) {
	result := r.DB(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.DepositRecord{})
	return result.RowsAffected, result.Error
}
