package handler

import (
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/service"
	"github.com/gin-gonic/gin"
)

// RedemptionHandler 赎回接口
type RedemptionHandler struct {
	redemptions *service.RedemptionService
}

// NewRedemptionHandler 创建赎回处理器
func NewRedemptionHandler(redemptions *service.RedemptionService) *RedemptionHandler {
	return &RedemptionHandler{redemptions: redemptions}
}

// CustodyTxnRequest 托管方 BTC 支付交易
type CustodyTxnRequest struct {
	BtcTxnHash string `json:"btc_txn_hash" binding:"required"`
}

func (h *RedemptionHandler) respond(c *gin.Context, rec *model.RedemptionRecord, err error) {
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, rec)
}

// Create 登记赎回
func (h *RedemptionHandler) Create(c *gin.Context) {
	var req service.CreateRedemptionRequest
	if !bindJSON(c, &req) {
		return
	}
	rec, err := h.redemptions.Create(c.Request.Context(), &req)
	h.respond(c, rec, err)
}

// Get 查询赎回
func (h *RedemptionHandler) Get(c *gin.Context) {
	rec, err := h.redemptions.Get(c.Request.Context(), c.Param("hash"))
	h.respond(c, rec, err)
}

// List 分页查询赎回
func (h *RedemptionHandler) List(c *gin.Context) {
	var filter repository.ListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	page, ok := bindPage(c)
	if !ok {
		return
	}
	recs, err := h.redemptions.List(c.Request.Context(), &filter, page)
	if err != nil {
		Error(c, err)
		return
	}
	SuccessPaged(c, recs, page)
}

// Advance 正向推进一步
func (h *RedemptionHandler) Advance(c *gin.Context) {
	rec, err := h.redemptions.Advance(c.Request.Context(), c.Param("hash"))
	h.respond(c, rec, err)
}

// SetCustodyTxn 登记托管方支付交易
func (h *RedemptionHandler) SetCustodyTxn(c *gin.Context) {
	var req CustodyTxnRequest
	if !bindJSON(c, &req) {
		return
	}
	rec, err := h.redemptions.SetCustodyTxnID(c.Request.Context(), c.Param("hash"), req.BtcTxnHash)
	h.respond(c, rec, err)
}

// SetRemarks 记录或清除异常
func (h *RedemptionHandler) SetRemarks(c *gin.Context) {
	var req RemarksRequest
	if !bindJSON(c, &req) {
		return
	}
	rec, err := h.redemptions.SetRemarks(c.Request.Context(), c.Param("hash"), req.Remarks)
	h.respond(c, rec, err)
}

// Rollback 回退一步
func (h *RedemptionHandler) Rollback(c *gin.Context) {
	rec, err := h.redemptions.Rollback(c.Request.Context(), c.Param("hash"))
	h.respond(c, rec, err)
}
