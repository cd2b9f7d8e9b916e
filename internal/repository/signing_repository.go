package repository

import (
	"context"
	"errors"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"gorm.io/gorm"
)

// ErrSigningRequestNotFound 签名请求不存在
var ErrSigningRequestNotFound = errors.New("signing request not found")

// SigningRepository 签名请求仓储
type SigningRepository interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
	TransactionWithRetry(ctx context.Context, maxRetries int, fn func(ctx context.Context) error) error
	Create(ctx context.Context, req *model.SigningRequest) error
	GetByRequestID(ctx context.Context, requestID string, opts ...*QueryOptions) (*model.SigningRequest, error)
	Update(ctx context.Context, req *model.SigningRequest) error
	ListPendingBefore(ctx context.Context, before int64, limit int) ([]*model.SigningRequest, error)
	ListByEvent(ctx context.Context, eventType model.EventType, eventID string) ([]*model.SigningRequest, error)
}

type signingRepository struct {
	*Repository
}

// NewSigningRepository 创建签名请求仓储
func NewSigningRepository(db *gorm.DB) SigningRepository {
	return &signingRepository{Repository: NewRepository(db)}
}

func (r *signingRepository) Create(ctx context.Context, req *model.SigningRequest) error {
	now := nowMilli()
	req.CreatedAt = now
	req.UpdatedAt = now
	return r.DB(ctx).Create(req).Error
}

func (r *signingRepository) GetByRequestID(ctx context.Context, requestID string, opts ...*QueryOptions) (*model.SigningRequest, error) {
	var req model.SigningRequest
	err := applyOptions(r.DB(ctx), opts).
		Where("request_id = ?", requestID).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSigningRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *signingRepository) Update(ctx context.Context, req *model.SigningRequest) error {
	req.UpdatedAt = nowMilli()
	return r.DB(ctx).Save(req).Error
}

func (r *signingRepository) ListPendingBefore(ctx context.Context, before int64, limit int) ([]*model.SigningRequest, error) {
	var reqs []*model.SigningRequest
	err := r.DB(ctx).
		Where("status = ? AND created_at < ?", model.SigningStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&reqs).Error
	return reqs, err
}

func (r *signingRepository) ListByEvent(ctx context.Context, eventType model.EventType, eventID string) ([]*model.SigningRequest, error) {
	var reqs []*model.SigningRequest
	err := r.DB(ctx).
		Where("event_type = ? AND event_id = ?", eventType, eventID).
		Order("id ASC").
		Find(&reqs).Error
	return reqs, err
}
