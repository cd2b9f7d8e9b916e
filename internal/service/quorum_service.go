package service

import (
	"context"
	"errors"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/lock"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/logger"
	"go.uber.org/zap"
)

// Phase 验证阶段
type Phase string

const (
	PhaseDepositConfirm    Phase = "deposit_confirm"    // BTC 充值已确认 (status 10)
	PhaseDepositMint       Phase = "deposit_mint"       // 目标链已铸造 (status 21)
	PhaseRedemptionConfirm Phase = "redemption_confirm" // aBTC 已销毁 (status 10/11)
	PhaseBridgingConfirm   Phase = "bridging_confirm"   // 源链已销毁 (status 10)
	PhaseBridgingMint      Phase = "bridging_mint"      // 目标链已铸造 (status 11)
)

// EventType 阶段所属事件类型
func (p Phase) EventType() model.EventType {
	switch p {
	case PhaseDepositConfirm, PhaseDepositMint:
		return model.EventTypeDeposit
	case PhaseRedemptionConfirm:
		return model.EventTypeRedemption
	default:
		return model.EventTypeBridging
	}
}

// Valid 是否为已知阶段
func (p Phase) Valid() bool {
	switch p {
	case PhaseDepositConfirm, PhaseDepositMint, PhaseRedemptionConfirm, PhaseBridgingConfirm, PhaseBridgingMint:
		return true
	}
	return false
}

// 拒绝原因
const (
	reasonInvalid      = "invalid_candidate"
	reasonNotFound     = "not_found"
	reasonUnauthorized = "unauthorized"
	reasonDuplicate    = "already_attested"
	reasonMismatch     = "content_mismatch"
	reasonStatus       = "status_mismatch"
)

// Attestable 验证者提交的观测记录
type Attestable interface {
	EventID() string
}

// attestTarget 某阶段下一条记录的验证上下文
type attestTarget struct {
	chainID  string
	key      string
	mismatch string
	statusOK bool
	counter  *uint32
	save     func(ctx context.Context) error
}

// QuorumService 验证者多签计数
type QuorumService struct {
	deposits    repository.DepositRepository
	redemptions repository.RedemptionRepository
	bridgings   repository.BridgingRepository
	auth        repository.AuthorizationRepository
	params      ParamRegistry
	locker      lock.Locker
}

// NewQuorumService 创建验证服务
func NewQuorumService(
	deposits repository.DepositRepository,
	redemptions repository.RedemptionRepository,
	bridgings repository.BridgingRepository,
	auth repository.AuthorizationRepository,
	params ParamRegistry,
	locker lock.Locker,
) *QuorumService {
	return &QuorumService{
		deposits:    deposits,
		redemptions: redemptions,
		bridgings:   bridgings,
		auth:        auth,
		params:      params,
		locker:      locker,
	}
}

// Attest 验证者对一条记录的观测投票
//
// 前置条件依次为: 记录存在, 验证者有该链权限, 未在同一 key 下投过票,
// 观测内容与记录逐字段一致, 记录处于该阶段期望的状态。
// 任一不满足返回 false 且记录不变; error 仅表示基础设施故障。
func (s *QuorumService) Attest(ctx context.Context, validatorID string, candidate Attestable, phase Phase) (bool, error) {
	eventType := phase.EventType()
	if validatorID == "" || candidate == nil || candidate.EventID() == "" || !phase.Valid() {
		s.reject(eventType, phase, validatorID, "", reasonInvalid)
		return false, nil
	}
	eventID := candidate.EventID()

	var accepted bool
	err := withEventLock(ctx, s.locker, s.deposits, eventType, eventID, func(ctx context.Context) error {
		target, reason, err := s.load(ctx, candidate, phase)
		if err != nil {
			return err
		}
		if reason == "" {
			reason, err = s.check(ctx, validatorID, target)
			if err != nil {
				return err
			}
		}
		if reason == reasonMismatch {
			s.reject(eventType, phase, validatorID, eventID, reason, zap.String("field", target.mismatch))
			return nil
		}
		if reason != "" {
			s.reject(eventType, phase, validatorID, eventID, reason)
			return nil
		}

		*target.counter++
		if err := s.auth.AddAttestation(ctx, &model.Attestation{
			AttestationKey: target.key,
			ValidatorID:    validatorID,
			EventType:      eventType,
			Phase:          string(phase),
		}); err != nil {
			return err
		}
		if err := target.save(ctx); err != nil {
			return err
		}
		accepted = true
		return nil
	})
	if errors.Is(err, repository.ErrDuplicateAttestation) {
		// 并发写入的唯一键冲突, 事务已回滚
		s.reject(eventType, phase, validatorID, eventID, reasonDuplicate)
		return false, nil
	}
	if err != nil {
		metrics.AttestationsTotal.WithLabelValues(string(eventType), "error", "").Inc()
		logger.Error("attestation failed",
			zap.String("phase", string(phase)),
			zap.String("event_id", eventID),
			zap.String("validator_id", validatorID),
			zap.Error(err))
		return false, err
	}
	if accepted {
		metrics.AttestationsTotal.WithLabelValues(string(eventType), "accepted", "").Inc()
		logger.Info("attestation accepted",
			zap.String("phase", string(phase)),
			zap.String("event_id", eventID),
			zap.String("validator_id", validatorID))
	}
	return accepted, nil
}

func (s *QuorumService) check(ctx context.Context, validatorID string, t *attestTarget) (string, error) {
	ok, err := s.auth.IsAuthorized(ctx, validatorID, t.chainID)
	if err != nil {
		return "", err
	}
	if !ok {
		return reasonUnauthorized, nil
	}
	attested, err := s.auth.HasAttested(ctx, t.key, validatorID)
	if err != nil {
		return "", err
	}
	if attested {
		return reasonDuplicate, nil
	}
	if t.mismatch != "" {
		return reasonMismatch, nil
	}
	if !t.statusOK {
		return reasonStatus, nil
	}
	return "", nil
}

func (s *QuorumService) reject(eventType model.EventType, phase Phase, validatorID, eventID, reason string, fields ...zap.Field) {
	metrics.AttestationsTotal.WithLabelValues(string(eventType), "rejected", reason).Inc()
	logger.Warn("attestation rejected", append([]zap.Field{
		zap.String("phase", string(phase)),
		zap.String("event_id", eventID),
		zap.String("validator_id", validatorID),
		zap.String("reason", reason),
	}, fields...)...)
}

// load 加锁读取记录并构造验证上下文
func (s *QuorumService) load(ctx context.Context, candidate Attestable, phase Phase) (*attestTarget, string, error) {
	delim := s.params.GetKeyDelimiter()

	switch c := candidate.(type) {
	case *model.DepositRecord:
		if phase != PhaseDepositConfirm && phase != PhaseDepositMint {
			return nil, reasonInvalid, nil
		}
		rec, err := s.deposits.GetByTxnHash(ctx, c.BtcTxnHash, repository.ForUpdate)
		if errors.Is(err, repository.ErrDepositNotFound) {
			return nil, reasonNotFound, nil
		}
		if err != nil {
			return nil, "", err
		}
		t := &attestTarget{mismatch: rec.MismatchField(c), save: func(ctx context.Context) error {
			return s.deposits.Update(ctx, rec)
		}}
		if phase == PhaseDepositConfirm {
			t.chainID = s.params.GetBtcChainID()
			t.key = rec.BtcTxnHash
			t.statusOK = rec.Status == model.DepositStatusDeposited
			t.counter = &rec.VerifiedCount
		} else {
			t.chainID = rec.ReceivingChainID
			t.key = model.CompoundKey(rec.BtcTxnHash, rec.MintedTxnHash, delim)
			t.statusOK = rec.Status == model.DepositStatusPendingMint && rec.MintedTxnHash != ""
			t.counter = &rec.MintedTxnHashVerifiedCount
		}
		return t, "", nil

	case *model.RedemptionRecord:
		if phase != PhaseRedemptionConfirm {
			return nil, reasonInvalid, nil
		}
		rec, err := s.redemptions.GetByTxnHash(ctx, c.TxnHash, repository.ForUpdate)
		if errors.Is(err, repository.ErrRedemptionNotFound) {
			return nil, reasonNotFound, nil
		}
		if err != nil {
			return nil, "", err
		}
		return &attestTarget{
			chainID:  rec.AbtcRedemptionChainID,
			key:      rec.TxnHash,
			mismatch: rec.MismatchField(c),
			statusOK: rec.Status.AwaitsAttestation(),
			counter:  &rec.VerifiedCount,
			save: func(ctx context.Context) error {
				return s.redemptions.Update(ctx, rec)
			},
		}, "", nil

	case *model.BridgingRecord:
		if phase != PhaseBridgingConfirm && phase != PhaseBridgingMint {
			return nil, reasonInvalid, nil
		}
		rec, err := s.bridgings.GetByTxnHash(ctx, c.TxnHash, repository.ForUpdate)
		if errors.Is(err, repository.ErrBridgingNotFound) {
			return nil, reasonNotFound, nil
		}
		if err != nil {
			return nil, "", err
		}
		t := &attestTarget{mismatch: rec.MismatchField(c), save: func(ctx context.Context) error {
			return s.bridgings.Update(ctx, rec)
		}}
		if phase == PhaseBridgingConfirm {
			t.chainID = rec.OriginChainID
			t.key = rec.TxnHash
			t.statusOK = rec.Status == model.BridgingStatusBurnt
			t.counter = &rec.VerifiedCount
		} else {
			t.chainID = rec.DestChainID
			t.key = model.CompoundKey(rec.TxnHash, rec.DestTxnHash, delim)
			t.statusOK = rec.Status == model.BridgingStatusPendingMint && rec.DestTxnHash != ""
			t.counter = &rec.MintedTxnHashVerifiedCount
		}
		return t, "", nil
	}
	return nil, reasonInvalid, nil
}

// Attestors 已对 key 投票的验证者
func (s *QuorumService) Attestors(ctx context.Context, attestationKey string) ([]string, error) {
	validators, err := s.auth.ListAttestors(ctx, attestationKey)
	return validators, mapError(err)
}
