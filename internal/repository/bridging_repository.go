package repository

import (
	"context"
	"errors"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"gorm.io/gorm"
)

var (
	ErrBridgingNotFound  = errors.New("bridging record not found")
	ErrDuplicateBridging = errors.New("duplicate bridging")
)

// BridgingRepository 跨链转移记录仓储接口
type BridgingRepository interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
	TransactionWithRetry(ctx context.Context, maxRetries int, fn func(ctx context.Context) error) error

	Create(ctx context.Context, record *model.BridgingRecord) error
	GetByTxnHash(ctx context.Context, txnHash string, opts ...*QueryOptions) (*model.BridgingRecord, error)
	Update(ctx context.Context, record *model.BridgingRecord) error
	List(ctx context.Context, filter *ListFilter, page *Pagination) ([]*model.BridgingRecord, error)

	// ListSettlementEligible 收益轨道已提取、目标链已铸造且无异常的记录, 按 id 升序加锁读取
	ListSettlementEligible(ctx context.Context, limit int) ([]*model.BridgingRecord, error)
	// ListByTreasuryTxnHash 被同一笔国库结算交易打包的记录
	ListByTreasuryTxnHash(ctx context.Context, btcTxnHash string) ([]*model.BridgingRecord, error)
	DeleteAll(ctx context.Context) (int64, error)
}

type bridgingRepository struct {
	*Repository
}

// NewBridgingRepository 创建跨链转移记录仓储
func NewBridgingRepository(db *gorm.DB) BridgingRepository {
	return &bridgingRepository{Repository: NewRepository(db)}
}

func (r *bridgingRepository) Create(ctx context.Context, record *model.BridgingRecord) error {
	now := nowMilli()
	record.CreatedAt = now
	record.UpdatedAt = now
	record.Timestamp = now

	err := r.DB(ctx).Create(record).Error
	if isDuplicateKeyError(err) {
		return ErrDuplicateBridging
	}
	return err
}

func (r *bridgingRepository) GetByTxnHash(ctx context.Context, txnHash string, opts ...*QueryOptions) (*model.BridgingRecord, error) {
	var record model.BridgingRecord
	err := applyOptions(r.DB(ctx), opts).
		Where("txn_hash = ?", txnHash).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBridgingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *bridgingRepository) Update(ctx context.Context, record *model.BridgingRecord) error {
	now := nowMilli()
	record.UpdatedAt = now
	record.Timestamp = now
	return saveGuarded(r.DB(ctx), record, record.ID,
		counterGuard{"verified_count", record.VerifiedCount},
		counterGuard{"minted_txn_hash_verified_count", record.MintedTxnHashVerifiedCount})
}

func (r *bridgingRepository) List(ctx context.Context, filter *ListFilter, page *Pagination) ([]*model.BridgingRecord, error) {
	var records []*model.BridgingRecord

	query := r.DB(ctx).Model(&model.BridgingRecord{})
	if filter != nil {
		if filter.Status != nil {
			query = query.Where("status = ?", *filter.Status)
		}
		if filter.ChainID != "" {
			query = query.Where("origin_chain_id = ? OR dest_chain_id = ?", filter.ChainID, filter.ChainID)
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

func (r *bridgingRepository) ListSettlementEligible(ctx context.Context, limit int) ([]*model.BridgingRecord, error) {
	var records []*model.BridgingRecord
	query := ForUpdate.ApplyLock(r.DB(ctx)).
		Where("yield_provider_status = ? AND status = ? AND (remarks = '' OR remarks IS NULL)",
			model.YieldStatusWithdrawn, model.BridgingStatusMintedToDest).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&records).Error
	return records, err
}

func (r *bridgingRepository) ListByTreasuryTxnHash(ctx context.Context, btcTxnHash string) ([]*model.BridgingRecord, error) {
	var records []*model.BridgingRecord
	err := r.DB(ctx).
		Where("treasury_btc_txn_hash = ?", btcTxnHash).
		Order("txn_hash ASC").
		Find(&records).Error
	return records, err
}

func (r *bridgingRepository) DeleteAll(ctx context.Context) (int64, error) {
	result := r.DB(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.BridgingRecord{})
	return result.RowsAffected, result.Error
}
