// Package service 跨链事件的验证与状态机
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/blockchain"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/config"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/repository"
	bizerrors "github.com/eidos-exchange/eidos/eidos-bridge/pkg/errors"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/lock"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/logger"
	"go.uber.org/zap"
)

// 二级错误: 前置条件不满足, 记录不变
var (
	ErrRemarksPresent       = bizerrors.Precondition("record has remarks")
	ErrRemarksRequired      = bizerrors.Precondition("remarks must be set before rollback")
	ErrStatusMismatch       = bizerrors.Precondition("record status does not allow this operation")
	ErrQuorumNotReached     = bizerrors.Precondition("verified count below validators threshold")
	ErrNoRollback           = bizerrors.Precondition("status has no rollback target")
	ErrMintedTxnHashSet     = bizerrors.Precondition("minted txn hash already set")
	ErrMintIssued           = bizerrors.Precondition("destination mint already issued")
	ErrMintedTxnHashMissing = bizerrors.Precondition("minted txn hash not set")
	ErrYieldTxnHashSet      = bizerrors.Precondition("yield provider txn hash already set")
	ErrDestTxnHashSet       = bizerrors.Precondition("destination txn hash already set")
	ErrDestTxnHashMissing   = bizerrors.Precondition("destination txn hash not set")
	ErrCustodyTxnIDSet      = bizerrors.Precondition("custody txn id already set")
	ErrInvalidDestination   = bizerrors.Precondition("destination address is invalid, refund instead")
	ErrDestinationValid     = bizerrors.Precondition("destination address is valid, rollback instead")
	ErrRefundTxnIDSet       = bizerrors.Precondition("refund txn id already set")
	ErrYieldOwnedBySettle   = bizerrors.Precondition("yield status is advanced by treasury settlement")
	ErrSigningResolved      = bizerrors.Precondition("signing request already resolved")
)

// 一级错误: 输入不合法
var (
	ErrZeroMintingFee     = bizerrors.Invalid("minting fee must be positive")
	ErrZeroBridgingGasFee = bizerrors.Invalid("bridging gas fee must be positive")
	ErrUnsupportedNetwork = bizerrors.Invalid("unsupported destination network type")
)

// ChainRegistry 链配置查询
type ChainRegistry interface {
	GetChainConfig(ctx context.Context, chainID string) (*config.ChainConfig, error)
}

// ParamRegistry 全局桥参数
type ParamRegistry interface {
	GetMPCContract() string
	GetTreasuryAddress() string
	GetMaxRetryCount() uint32
	GetKeyVersion() uint32
	GetBtcChainID() string
	GetKeyDelimiter() string
	DepositProtocolFee(amount uint64) uint64
	RedemptionProtocolFee(amount uint64) uint64
	BridgingProtocolFee(amount uint64) uint64
}

// Signer 外部门限签名服务, 结果异步回调 SigningService.Resume
type Signer interface {
	RequestSignature(ctx context.Context, req *model.SigningRequest) error
}

// TokenLedger 账户模型链的 aBTC 账本
type TokenLedger interface {
	Mint(ctx context.Context, receiver string, amount uint64, provenance string) error
}

// TxOracle EVM 交易参数
type TxOracle interface {
	TxDefaults(ctx context.Context, chainID string) (*blockchain.TxDefaults, error)
}

// Notifier 对外广播桥事件
type Notifier interface {
	PublishBridgeEvent(ctx context.Context, evt *model.BridgeEvent) error
}

// notify 广播失败只记录日志
func notify(ctx context.Context, n Notifier, evt *model.BridgeEvent) {
	if n == nil {
		return
	}
	evt.Timestamp = time.Now().UnixMilli()
	if err := n.PublishBridgeEvent(ctx, evt); err != nil {
		logger.Warn("publish bridge event failed",
			zap.String("event_id", evt.EventID),
			zap.String("action", evt.Action),
			zap.Error(err))
	}
}

func lockKey(eventType model.EventType, eventID string) string {
	return string(eventType) + ":" + eventID
}

// eventTxAttempts 事件事务遇到序列化失败或死锁时的最大尝试次数
const eventTxAttempts = 3

// txRunner 可重试的数据库事务
type txRunner interface {
	TransactionWithRetry(ctx context.Context, maxRetries int, fn func(ctx context.Context) error) error
}

// withEventLock 事件锁 + 数据库事务
func withEventLock(ctx context.Context, locker lock.Locker, tx txRunner,
	eventType model.EventType, eventID string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := locker.WithLock(ctx, lockKey(eventType, eventID), func(ctx context.Context) error {
		metrics.LockWaitDuration.Observe(time.Since(start).Seconds())
		return tx.TransactionWithRetry(ctx, eventTxAttempts, fn)
	})
	return mapError(err)
}

// mapError 仓储/锁错误映射为业务错误
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var be *bizerrors.Error
	if errors.As(err, &be) {
		return err
	}
	switch {
	case errors.Is(err, repository.ErrDepositNotFound),
		errors.Is(err, repository.ErrRedemptionNotFound),
		errors.Is(err, repository.ErrBridgingNotFound),
		errors.Is(err, repository.ErrSigningRequestNotFound),
		errors.Is(err, repository.ErrSettlementBatchNotFound):
		return bizerrors.Wrap(bizerrors.ErrNotFound, err)
	case errors.Is(err, repository.ErrDuplicateDeposit),
		errors.Is(err, repository.ErrDuplicateRedemption),
		errors.Is(err, repository.ErrDuplicateBridging):
		return bizerrors.Wrap(bizerrors.ErrConflict, err)
	case errors.Is(err, lock.ErrLockAcquireFailed):
		return bizerrors.Wrap(bizerrors.ErrLockFailed, err)
	}
	return bizerrors.Wrap(bizerrors.ErrInternal, err)
}

func recordTransition(eventType model.EventType, from, to fmt.Stringer) {
	metrics.StateTransitionsTotal.WithLabelValues(string(eventType), from.String(), to.String()).Inc()
}

// threshold 链的验证者阈值
func threshold(ctx context.Context, chains ChainRegistry, chainID string) (uint32, error) {
	cfg, err := chains.GetChainConfig(ctx, chainID)
	if err != nil {
		return 0, err
	}
	return cfg.ValidatorsThreshold, nil
}

// requireQuorum 计数未达阈值返回 ErrQuorumNotReached
func requireQuorum(ctx context.Context, chains ChainRegistry, chainID string, count uint32) error {
	t, err := threshold(ctx, chains, chainID)
	if err != nil {
		return err
	}
	if count < t {
		return ErrQuorumNotReached.
			WithDetail("chain_id", chainID).
			WithDetail("verified", fmt.Sprint(count)).
			WithDetail("threshold", fmt.Sprint(t))
	}
	return nil
}
