package service

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/contract"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/repository"
	bizerrors "github.com/eidos-exchange/eidos/eidos-bridge/pkg/errors"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/lock"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxRemarksLen   = 512
	sweepBatchSize  = 100
	expiredFailure  = "signing request expired"
	remarksPrefix   = "signing failed: "
	defaultSignWait = 10 * time.Minute
)

// BeginRequest 发起签名的参数
type BeginRequest struct {
	EventType   model.EventType
	EventID     string
	ChainID     string
	Kind        model.PayloadKind
	Payload     string
	PayloadHash string
	Path        string
}

// SignedPayload 签名结果
type SignedPayload struct {
	RequestID     string              `json:"request_id"`
	EventType     model.EventType     `json:"event_type"`
	EventID       string              `json:"event_id"`
	ChainID       string              `json:"chain_id"`
	Kind          model.PayloadKind   `json:"payload_kind"`
	Status        model.SigningStatus `json:"status"`
	SignedPayload string              `json:"signed_payload,omitempty"` // EVM: 0x 前缀的已签名原始交易
	TxHash        string              `json:"txn_hash,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
}

// SigningService 两阶段外部签名
//
// Begin 落库并投递签名请求后立即返回; 签名服务通过 Kafka 或 HTTP 回调 Resume。
// 失败时请求置为 FAILED, 事件记录写入 remarks, 状态不变, 等待人工回滚。
type SigningService struct {
	requests    repository.SigningRepository
	deposits    repository.DepositRepository
	redemptions repository.RedemptionRepository
	bridgings   repository.BridgingRepository
	chains      ChainRegistry
	params      ParamRegistry
	signer      Signer
	ledger      TokenLedger
	locker      lock.Locker
	timeout     time.Duration
	notifier    Notifier
}

// NewSigningService 创建签名服务
func NewSigningService(
	requests repository.SigningRepository,
	deposits repository.DepositRepository,
	redemptions repository.RedemptionRepository,
	bridgings repository.BridgingRepository,
	chains ChainRegistry,
	params ParamRegistry,
	signer Signer,
	ledger TokenLedger,
	locker lock.Locker,
	timeout time.Duration,
) *SigningService {
	if timeout <= 0 {
		timeout = defaultSignWait
	}
	return &SigningService{
		requests:    requests,
		deposits:    deposits,
		redemptions: redemptions,
		bridgings:   bridgings,
		chains:      chains,
		params:      params,
		signer:      signer,
		ledger:      ledger,
		locker:      locker,
		timeout:     timeout,
	}
}

// SetNotifier 设置签名结果广播
func (s *SigningService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Begin 持久化并投递签名请求, 须在调用方的事件锁与事务内执行
func (s *SigningService) Begin(ctx context.Context, req *BeginRequest) (*model.SigningRequest, error) {
	r := &model.SigningRequest{
		RequestID:   uuid.NewString(),
		EventType:   req.EventType,
		EventID:     req.EventID,
		ChainID:     req.ChainID,
		PayloadKind: req.Kind,
		Payload:     req.Payload,
		PayloadHash: req.PayloadHash,
		Path:        req.Path,
		KeyVersion:  s.params.GetKeyVersion(),
		Status:      model.SigningStatusPending,
	}
	if err := s.requests.Create(ctx, r); err != nil {
		return nil, err
	}
	if err := s.signer.RequestSignature(ctx, r); err != nil {
		metrics.SigningRequestsTotal.WithLabelValues("publish_failed").Inc()
		return nil, bizerrors.Wrapf(bizerrors.ErrSigningFailed, err, "publish signing request %s", r.RequestID)
	}
	metrics.SigningRequestsTotal.WithLabelValues("requested").Inc()
	logger.Info("signing requested",
		zap.String("request_id", r.RequestID),
		zap.String("event_type", string(r.EventType)),
		zap.String("event_id", r.EventID),
		zap.String("chain_id", r.ChainID),
		zap.String("payload_hash", r.PayloadHash))
	return r, nil
}

// Resume 处理签名结果; failure 非空或签名为空视为失败
func (s *SigningService) Resume(ctx context.Context, requestID string, signature []byte, failure string) (*SignedPayload, error) {
	pending, err := s.requests.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, mapError(err)
	}

	var (
		out       *SignedPayload
		resultErr error
	)
	err = withEventLock(ctx, s.locker, s.requests, pending.EventType, pending.EventID, func(ctx context.Context) error {
		req, err := s.requests.GetByRequestID(ctx, requestID, repository.ForUpdate)
		if err != nil {
			return err
		}
		if req.Status != model.SigningStatusPending {
			return ErrSigningResolved.WithDetail("request_id", requestID)
		}

		if failure == "" && len(signature) == 0 {
			failure = "empty signature"
		}
		if failure == "" {
			out, failure = s.apply(ctx, req, signature)
		}

		req.ResolvedAt = time.Now().UnixMilli()
		if failure != "" {
			req.Status = model.SigningStatusFailed
			req.FailureReason = truncate(failure, maxRemarksLen)
			if err := s.requests.Update(ctx, req); err != nil {
				return err
			}
			if err := s.setRemarks(ctx, req.EventType, req.EventID, remarksPrefix+failure); err != nil {
				return err
			}
			out = &SignedPayload{
				RequestID:     req.RequestID,
				EventType:     req.EventType,
				EventID:       req.EventID,
				ChainID:       req.ChainID,
				Kind:          req.PayloadKind,
				Status:        req.Status,
				FailureReason: req.FailureReason,
			}
			if len(signature) > 0 {
				resultErr = bizerrors.ErrSigningFailed.WithMessage(failure)
			}
			return nil
		}

		req.Status = model.SigningStatusSigned
		req.Signature = hex.EncodeToString(signature)
		req.SignedPayload = out.SignedPayload
		if err := s.requests.Update(ctx, req); err != nil {
			return err
		}
		// 账本铸造放在事务最后一步; 失败则整体回滚, 请求保持 PENDING 可重投
		if req.PayloadKind == model.PayloadKindJSONMint {
			return s.issueMint(ctx, req)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.SigningRequestsTotal.WithLabelValues(strings.ToLower(out.Status.String())).Inc()
	metrics.SigningLatency.Observe(time.Since(time.UnixMilli(pending.CreatedAt)).Seconds())
	if out.Status == model.SigningStatusFailed {
		logger.Warn("signing failed",
			zap.String("request_id", requestID),
			zap.String("event_id", out.EventID),
			zap.String("reason", out.FailureReason))
	} else {
		logger.Info("signing completed",
			zap.String("request_id", requestID),
			zap.String("event_id", out.EventID),
			zap.String("txn_hash", out.TxHash))
	}
	notify(ctx, s.notifier, &model.BridgeEvent{
		EventType: out.EventType,
		EventID:   out.EventID,
		Action:    "signing_" + strings.ToLower(out.Status.String()),
		TxnHash:   out.TxHash,
		Detail:    out.FailureReason,
	})
	return out, resultErr
}

// apply 将签名附加到载荷, 返回失败原因而不是错误
func (s *SigningService) apply(ctx context.Context, req *model.SigningRequest, signature []byte) (*SignedPayload, string) {
	out := &SignedPayload{
		RequestID: req.RequestID,
		EventType: req.EventType,
		EventID:   req.EventID,
		ChainID:   req.ChainID,
		Kind:      req.PayloadKind,
		Status:    model.SigningStatusSigned,
	}

	switch req.PayloadKind {
	case model.PayloadKindEVMTx:
		tx, err := contract.DecodeTx(req.Payload)
		if err != nil {
			return nil, "decode payload: " + err.Error()
		}
		signed, err := contract.ApplySignature(tx, signature)
		if err != nil {
			return nil, err.Error()
		}
		sender, err := contract.Sender(signed)
		if err != nil {
			return nil, "recover sender: " + err.Error()
		}
		if chain, err := s.chains.GetChainConfig(ctx, req.ChainID); err == nil && chain.SignerAddress != "" &&
			sender != common.HexToAddress(chain.SignerAddress) {
			return nil, "signature from unexpected signer " + sender.Hex()
		}
		raw, err := contract.EncodeTx(signed)
		if err != nil {
			return nil, err.Error()
		}
		out.SignedPayload = raw
		out.TxHash = signed.Hash().Hex()
	default:
		out.SignedPayload = req.Payload
		out.TxHash = req.PayloadHash
	}
	return out, ""
}

// issueMint 按已签名的 JSON 铸造指令记账, 来源为 (来源链, 来源交易) 复合键
func (s *SigningService) issueMint(ctx context.Context, req *model.SigningRequest) error {
	instr, err := contract.DecodeMintInstruction(req.Payload)
	if err != nil {
		return bizerrors.Wrapf(bizerrors.ErrInternal, err, "decode mint instruction of request %s", req.RequestID)
	}
	amount, err := instr.AmountValue()
	if err != nil {
		return bizerrors.Wrapf(bizerrors.ErrInternal, err, "mint amount of request %s", req.RequestID)
	}
	provenance := model.CompoundKey(instr.OriginChainID, instr.OriginTxnHash, s.params.GetKeyDelimiter())
	if err := s.ledger.Mint(ctx, instr.ReceiverID, amount, provenance); err != nil {
		return bizerrors.Wrapf(bizerrors.ErrSigningFailed, err, "ledger mint for %s", provenance)
	}
	logger.Info("ledger mint issued",
		zap.String("request_id", req.RequestID),
		zap.String("receiver", instr.ReceiverID),
		zap.Uint64("amount", amount),
		zap.String("provenance", provenance))
	return nil
}

// MintIssued 事件是否已有签名完成的账本铸造
func (s *SigningService) MintIssued(ctx context.Context, eventType model.EventType, eventID string) (bool, error) {
	reqs, err := s.requests.ListByEvent(ctx, eventType, eventID)
	if err != nil {
		return false, err
	}
	for _, r := range reqs {
		if r.PayloadKind == model.PayloadKindJSONMint && r.Status == model.SigningStatusSigned {
			return true, nil
		}
	}
	return false, nil
}

// setRemarks 签名失败写入事件记录备注, 状态不变
func (s *SigningService) setRemarks(ctx context.Context, eventType model.EventType, eventID, remarks string) error {
	remarks = truncate(remarks, maxRemarksLen)
	switch eventType {
	case model.EventTypeDeposit:
		rec, err := s.deposits.GetByTxnHash(ctx, eventID, repository.ForUpdate)
		if err != nil {
			return err
		}
		rec.Remarks = remarks
		return s.deposits.Update(ctx, rec)
	case model.EventTypeRedemption:
		rec, err := s.redemptions.GetByTxnHash(ctx, eventID, repository.ForUpdate)
		if err != nil {
			return err
		}
		rec.Remarks = remarks
		return s.redemptions.Update(ctx, rec)
	case model.EventTypeBridging:
		rec, err := s.bridgings.GetByTxnHash(ctx, eventID, repository.ForUpdate)
		if err != nil {
			return err
		}
		rec.Remarks = remarks
		return s.bridgings.Update(ctx, rec)
	}
	return nil
}

// SweepExpired 将超时未返回的签名请求按失败处理
func (s *SigningService) SweepExpired(ctx context.Context) (int, error) {
	before := time.Now().Add(-s.timeout).UnixMilli()
	reqs, err := s.requests.ListPendingBefore(ctx, before, sweepBatchSize)
	if err != nil {
		return 0, mapError(err)
	}

	swept := 0
	for _, r := range reqs {
		if _, err := s.Resume(ctx, r.RequestID, nil, expiredFailure); err != nil {
			if bizerrors.IsPrecondition(err) {
				continue
			}
			logger.Error("sweep signing request failed", zap.String("request_id", r.RequestID), zap.Error(err))
			continue
		}
		metrics.SigningRequestsTotal.WithLabelValues("expired").Inc()
		swept++
	}
	if swept > 0 {
		logger.Warn("expired signing requests swept", zap.Int("count", swept))
	}
	return swept, nil
}

// Get 查询签名请求
func (s *SigningService) Get(ctx context.Context, requestID string) (*model.SigningRequest, error) {
	r, err := s.requests.GetByRequestID(ctx, requestID)
	return r, mapError(err)
}

// ListByEvent 事件的签名请求历史
func (s *SigningService) ListByEvent(ctx context.Context, eventType model.EventType, eventID string) ([]*model.SigningRequest, error) {
	reqs, err := s.requests.ListByEvent(ctx, eventType, eventID)
	return reqs, mapError(err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
