package handler

import (
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/middleware"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/service"
	"github.com/gin-gonic/gin"
)

// AttestationHandler 验证者提交
type AttestationHandler struct {
	quorum *service.QuorumService
}

// NewAttestationHandler 创建验证者提交处理器
func NewAttestationHandler(quorum *service.QuorumService) *AttestationHandler {
	return &AttestationHandler{quorum: quorum}
}

// AttestationResult 提交结果; accepted=false 表示候选被拒绝且记录不变
type AttestationResult struct {
	Accepted bool `json:"accepted"`
}

// phases 路由段到验证阶段
var phases = map[string]service.Phase{
	"deposit":       service.PhaseDepositConfirm,
	"deposit-mint":  service.PhaseDepositMint,
	"redemption":    service.PhaseRedemptionConfirm,
	"bridging":      service.PhaseBridgingConfirm,
	"bridging-mint": service.PhaseBridgingMint,
}

// Attest 提交验证者观测到的记录副本
// POST /api/v1/attestations/:phase
func (h *AttestationHandler) Attest(c *gin.Context) {
	phase, ok := phases[c.Param("phase")]
	if !ok {
		BadRequest(c, "unknown attestation phase: "+c.Param("phase"))
		return
	}

	var candidate service.Attestable
	switch phase.EventType() {
	case model.EventTypeDeposit:
		candidate = &model.DepositRecord{}
	case model.EventTypeRedemption:
		candidate = &model.RedemptionRecord{}
	default:
		candidate = &model.BridgingRecord{}
	}
	if !bindJSON(c, candidate) {
		return
	}

	accepted, err := h.quorum.Attest(c.Request.Context(), middleware.GetValidatorID(c), candidate, phase)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, AttestationResult{Accepted: accepted})
}

// Attestors 已对 key 投票的验证者
// GET /api/v1/attestations?key=
func (h *AttestationHandler) Attestors(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		BadRequest(c, "key is required")
		return
	}
	validators, err := h.quorum.Attestors(c.Request.Context(), key)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, validators)
}
