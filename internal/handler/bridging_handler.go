package handler

import (
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/service"
	"github.com/gin-gonic/gin"
)

// BridgingHandler 跨链转移接口
type BridgingHandler struct {
	bridgings *service.BridgingService
}

// NewBridgingHandler 创建跨链转移处理器
func NewBridgingHandler(bridgings *service.BridgingService) *BridgingHandler {
	return &BridgingHandler{bridgings: bridgings}
}

// DestTxnRequest 目标链铸造交易
type DestTxnRequest struct {
	DestTxnHash string `json:"dest_txn_hash" binding:"required"`
}

// ConfirmBridgeRequest 目标链铸造实际花费
type ConfirmBridgeRequest struct {
	ActualGasFee uint64 `json:"actual_gas_fee"`
}

func (h *BridgingHandler) respond(c *gin.Context, rec *model.BridgingRecord, err error) {
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, rec)
}

// Create 登记跨链转移
func (h *BridgingHandler) Create(c *gin.Context) {
	var req service.CreateBridgingRequest
	if !bindJSON(c, &req) {
		return
	}
	rec, err := h.bridgings.Create(c.Request.Context(), &req)
	h.respond(c, rec, err)
}

// Get 查询跨链转移
func (h *BridgingHandler) Get(c *gin.Context) {
	rec, err := h.bridgings.Get(c.Request.Context(), c.Param("hash"))
	h.respond(c, rec, err)
}

// List 分页查询跨链转移
func (h *BridgingHandler) List(c *gin.Context) {
	var filter repository.ListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	page, ok := bindPage(c)
	if !ok {
		return
	}
	recs, err := h.bridgings.List(c.Request.Context(), &filter, page)
	if err != nil {
		Error(c, err)
		return
	}
	SuccessPaged(c, recs, page)
}

// MarkBurnt 0 → 10
func (h *BridgingHandler) MarkBurnt(c *gin.Context) {
	rec, err := h.bridgings.MarkBurnt(c.Request.Context(), c.Param("hash"))
	h.respond(c, rec, err)
}

// Bridge 10 → 11, 返回待签名的目标链铸造载荷
func (h *BridgingHandler) Bridge(c *gin.Context) {
	req, err := h.bridgings.BeginBridge(c.Request.Context(), c.Param("hash"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, req)
}

// SetDestTxn 登记目标链铸造交易
func (h *BridgingHandler) SetDestTxn(c *gin.Context) {
	var req DestTxnRequest
	if !bindJSON(c, &req) {
		return
	}
	rec, err := h.bridgings.SetDestTxnHash(c.Request.Context(), c.Param("hash"), req.DestTxnHash)
	h.respond(c, rec, err)
}

// Confirm 11 → 20
func (h *BridgingHandler) Confirm(c *gin.Context) {
	var req ConfirmBridgeRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	rec, err := h.bridgings.ConfirmBridge(c.Request.Context(), c.Param("hash"), req.ActualGasFee)
	h.respond(c, rec, err)
}

// AdvanceYield 推进收益轨道
func (h *BridgingHandler) AdvanceYield(c *gin.Context) {
	var req service.AdvanceYieldRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	rec, err := h.bridgings.AdvanceYieldStatus(c.Request.Context(), c.Param("hash"), &req)
	h.respond(c, rec, err)
}

// SetRemarks 记录或清除异常
func (h *BridgingHandler) SetRemarks(c *gin.Context) {
	var req RemarksRequest
	if !bindJSON(c, &req) {
		return
	}
	rec, err := h.bridgings.SetRemarks(c.Request.Context(), c.Param("hash"), req.Remarks)
	h.respond(c, rec, err)
}

// Rollback 11 → 10
func (h *BridgingHandler) Rollback(c *gin.Context) {
	rec, err := h.bridgings.Rollback(c.Request.Context(), c.Param("hash"))
	h.respond(c, rec, err)
}
