package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgreSQL 错误码
// 参考: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgErrUniqueViolation      = "23505"
	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"
	pgErrConnectionFailure    = "08006"
	pgErrConnectionException  = "08000"
	pgErrTooManyConnections   = "53300"
	pgErrCannotConnectNow     = "57P03"
)

// ErrCounterRegression 验证计数只能增加, 更新时检测到回退
var ErrCounterRegression = errors.New("verified count regression")

// Repository 基础仓储
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建基础仓储
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type txKey struct{}

// DB 返回 ctx 中的事务, 不在事务中时返回普通连接
func (r *Repository) DB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Transaction 执行事务, 嵌套调用复用外层事务
func (r *Repository) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// TransactionWithRetry 对序列化失败/死锁等可重试错误进行指数退避重试; 已在事务中时不重试
func (r *Repository) TransactionWithRetry(ctx context.Context, maxRetries int, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	if maxRetries <= 0 {
		maxRetries = 1
	}
	var err error
	for i := 0; i < maxRetries; i++ {
		err = r.Transaction(ctx, fn)
		if err == nil || !isRetryableError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(1<<uint(i)) * 50 * time.Millisecond):
		}
	}
	return err
}

func isRetryableError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgErrSerializationFailure, pgErrDeadlockDetected,
		pgErrConnectionFailure, pgErrConnectionException,
		pgErrTooManyConnections, pgErrCannotConnectNow:
		return true
	}
	return false
}

// isDuplicateKeyError 兼容 postgres 与 sqlite
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}

// Pagination 分页参数
type Pagination struct {
	Page     int   `json:"page" form:"page"`
	PageSize int   `json:"page_size" form:"page_size"`
	Total    int64 `json:"total"`
}

// Offset 计算偏移量
func (p *Pagination) Offset() int {
	if p.Page <= 0 {
		p.Page = 1
	}
	return (p.Page - 1) * p.Limit()
}

// Limit 返回限制数量
func (p *Pagination) Limit() int {
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
	return p.PageSize
}

// QueryOptions 查询选项
type QueryOptions struct {
	ForUpdate bool
}

// ForUpdate 行锁选项
var ForUpdate = &QueryOptions{ForUpdate: true}

// ApplyLock 应用锁选项, sqlite 驱动会忽略该子句
func (o *QueryOptions) ApplyLock(db *gorm.DB) *gorm.DB {
	if o == nil || !o.ForUpdate {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func applyOptions(db *gorm.DB, opts []*QueryOptions) *gorm.DB {
	for _, o := range opts {
		db = o.ApplyLock(db)
	}
	return db
}

// ListFilter 记录列表过滤条件
type ListFilter struct {
	Status  *int8  `form:"status"`
	ChainID string `form:"chain_id"`
	Stuck   bool   `form:"stuck"` // 仅返回 remarks 非空的记录
}

// counterGuard 更新时不得回退的计数列
type counterGuard struct {
	column string
	value  uint32
}

// saveGuarded 全字段更新, 各验证计数不得小于库中值
func saveGuarded(db *gorm.DB, record interface{}, id int64, guards ...counterGuard) error {
	query := db.Model(record).Where("id = ?", id)
	for _, g := range guards {
		query = query.Where(g.column+" <= ?", g.value)
	}
	result := query.
		Select("*").
		Omit("id", "created_at").
		Updates(record)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCounterRegression
	}
	return nil
}

func nowMilli() int64 {
	return time.Now().UnixMilli()
}
