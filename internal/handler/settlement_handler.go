package handler

import (
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/btc"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/service"
	"github.com/gin-gonic/gin"
)

// SettlementHandler 国库结算接口
type SettlementHandler struct {
	settlement *service.SettlementService
}

// NewSettlementHandler 创建国库结算处理器
func NewSettlementHandler(settlement *service.SettlementService) *SettlementHandler {
	return &SettlementHandler{settlement: settlement}
}

// TreasurySettlementRequest 国库结算构造参数
type TreasurySettlementRequest struct {
	UTXOs   []btc.UTXO `json:"utxos" binding:"required,min=1"`
	FeeRate uint64     `json:"fee_rate" binding:"required"`
	Limit   int        `json:"limit"`
}

// VerifyMerkleQuery Merkle 校验参数
type VerifyMerkleQuery struct {
	Root    string `form:"root" binding:"required"`
	TxID    string `form:"txid" binding:"required"`
	EventID string `form:"event_id" binding:"required"`
}

// BuildTreasury 构造国库结算交易; 手续费超过 gas 余量时不构造
// POST /api/v1/settlement/treasury
func (h *SettlementHandler) BuildTreasury(c *gin.Context) {
	var req TreasurySettlementRequest
	if !bindJSON(c, &req) {
		return
	}
	payload, err := h.settlement.BuildTreasurySettlement(c.Request.Context(), req.UTXOs, req.FeeRate, req.Limit)
	if err != nil {
		Error(c, err)
		return
	}
	if payload == nil {
		SuccessWithMessage(c, "settlement skipped: fee exceeds bridging gas headroom", nil)
		return
	}
	Success(c, payload)
}

// Confirm 结算交易已上链
// POST /api/v1/settlement/:txid/confirm
func (h *SettlementHandler) Confirm(c *gin.Context) {
	batch, err := h.settlement.ConfirmTreasurySettlement(c.Request.Context(), c.Param("txid"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, batch)
}

// Verify 校验记录是否属于某次结算
// GET /api/v1/settlement/verify?root=&txid=&event_id=
func (h *SettlementHandler) Verify(c *gin.Context) {
	var q VerifyMerkleQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	membership, err := h.settlement.VerifyMerkle(c.Request.Context(), q.Root, q.TxID, q.EventID)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, membership)
}

// GetBatch 查询结算批次
func (h *SettlementHandler) GetBatch(c *gin.Context) {
	batch, err := h.settlement.GetBatch(c.Request.Context(), c.Param("txid"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, batch)
}

// ListBatches 分页查询结算批次
func (h *SettlementHandler) ListBatches(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}
	batches, err := h.settlement.ListBatches(c.Request.Context(), page)
	if err != nil {
		Error(c, err)
		return
	}
	SuccessPaged(c, batches, page)
}
