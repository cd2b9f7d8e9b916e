package handler

import (
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/btc"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// DepositHandler 充值接口
type DepositHandler struct {
	deposits *service.DepositService
}

// NewDepositHandler 创建充值处理器
func NewDepositHandler(deposits *service.DepositService) *DepositHandler {
	return &DepositHandler{deposits: deposits}
}

// DepositView 充值记录及净额
type DepositView struct {
	*model.DepositRecord
	NetAmount    uint64          `json:"net_amount"`
	NetAmountBTC decimal.Decimal `json:"net_amount_btc"`
}

func depositView(rec *model.DepositRecord) *DepositView {
	return &DepositView{DepositRecord: rec, NetAmount: rec.NetAmount(), NetAmountBTC: SatsToBTC(rec.NetAmount())}
}

// YieldRequest 收益存入请求
type YieldRequest struct {
	YieldTxnHash string `json:"yield_txn_hash" binding:"required"`
}

// YieldConfirmRequest 收益存入确认
type YieldConfirmRequest struct {
	YieldGasFee uint64 `json:"yield_gas_fee"`
}

// MintedHashRequest 目标链铸造交易
type MintedHashRequest struct {
	MintedTxnHash string `json:"minted_txn_hash" binding:"required"`
}

// RemarksRequest 异常备注, 空字符串表示清除
type RemarksRequest struct {
	Remarks string `json:"remarks"`
}

// RefundRequest 退款交易构造参数
type RefundRequest struct {
	UTXOs   []btc.UTXO `json:"utxos" binding:"required,min=1"`
	FeeRate uint64     `json:"fee_rate" binding:"required"`
}

// RefundConfirmRequest 退款交易已广播
type RefundConfirmRequest struct {
	RefundTxnID string `json:"refund_txn_id" binding:"required"`
}

func (h *DepositHandler) respond(c *gin.Context, rec *model.DepositRecord, err error) {
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, depositView(rec))
}

// Create 登记充值
// POST /api/v1/deposits
func (h *DepositHandler) Create(c *gin.Context) {
	var req service.CreateDepositRequest
	if !bindJSON(c, &req) {
		return
	}
	rec, err := h.deposits.Create(c.Request.Context(), &req)
	h.respond(c, rec, err)
}

// Get 查询充值
// GET /api/v1/deposits/:hash
func (h *DepositHandler) Get(c *gin.Context) {
	rec, err := h.deposits.Get(c.Request.Context(), c.Param("hash"))
	h.respond(c, rec, err)
}

// List 分页查询充值
// GET /api/v1/deposits?status=&chain_id=&stuck=&page=&page_size=
func (h *DepositHandler) List(c *gin.Context) {
	var filter repository.ListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	page, ok := bindPage(c)
	if !ok {
		return
	}
	recs, err := h.deposits.List(c.Request.Context(), &filter, page)
	if err != nil {
		Error(c, err)
		return
	}
	views := make([]*DepositView, 0, len(recs))
	for _, r := range recs {
		views = append(views, depositView(r))
	}
	SuccessPaged(c, views, page)
}

// MarkDeposited 0 → 10
func (h *DepositHandler) MarkDeposited(c *gin.Context) {
	rec, err := h.deposits.MarkDeposited(c.Request.Context(), c.Param("hash"))
	h.respond(c, rec, err)
}

// BeginYield 10 → 11
func (h *DepositHandler) BeginYield(c *gin.Context) {
	var req YieldRequest
	if !bindJSON(c, &req) {
		return
	}
	rec, err := h.deposits.BeginYieldDeposit(c.Request.Context(), c.Param("hash"), req.YieldTxnHash)
	h.respond(c, rec, err)
}

// ConfirmYield 11 → 20
func (h *DepositHandler) ConfirmYield(c *gin.Context) {
	var req YieldConfirmRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	rec, err := h.deposits.ConfirmYieldDeposit(c.Request.Context(), c.Param("hash"), req.YieldGasFee)
	h.respond(c, rec, err)
}

// RequestMint 20 → 21, 返回待签名的铸造载荷
func (h *DepositHandler) RequestMint(c *gin.Context) {
	req, err := h.deposits.RequestMint(c.Request.Context(), c.Param("hash"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, req)
}

// SetMintedHash 登记目标链铸造交易
func (h *DepositHandler) SetMintedHash(c *gin.Context) {
	var req MintedHashRequest
	if !bindJSON(c, &req) {
		return
	}
	rec, err := h.deposits.SetMintedTxnHash(c.Request.Context(), c.Param("hash"), req.MintedTxnHash)
	h.respond(c, rec, err)
}

// ConfirmMint 21 → 30
func (h *DepositHandler) ConfirmMint(c *gin.Context) {
	rec, err := h.deposits.ConfirmMint(c.Request.Context(), c.Param("hash"))
	h.respond(c, rec, err)
}

// SetRemarks 记录或清除异常
func (h *DepositHandler) SetRemarks(c *gin.Context) {
	var req RemarksRequest
	if !bindJSON(c, &req) {
		return
	}
	rec, err := h.deposits.SetRemarks(c.Request.Context(), c.Param("hash"), req.Remarks)
	h.respond(c, rec, err)
}

// Rollback 回退一步, 重试耗尽时转入退款
func (h *DepositHandler) Rollback(c *gin.Context) {
	rec, err := h.deposits.Rollback(c.Request.Context(), c.Param("hash"))
	h.respond(c, rec, err)
}

// MarkRefundable 目标地址无效时直接转入退款
func (h *DepositHandler) MarkRefundable(c *gin.Context) {
	rec, err := h.deposits.MarkRefundable(c.Request.Context(), c.Param("hash"))
	h.respond(c, rec, err)
}

// BuildRefund 构造退款交易
func (h *DepositHandler) BuildRefund(c *gin.Context) {
	var req RefundRequest
	if !bindJSON(c, &req) {
		return
	}
	payload, err := h.deposits.BuildRefund(c.Request.Context(), c.Param("hash"), req.UTXOs, req.FeeRate)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, payload)
}

// ConfirmRefund 40 → 50
func (h *DepositHandler) ConfirmRefund(c *gin.Context) {
	var req RefundConfirmRequest
	if !bindJSON(c, &req) {
		return
	}
	rec, err := h.deposits.ConfirmRefund(c.Request.Context(), c.Param("hash"), req.RefundTxnID)
	h.respond(c, rec, err)
}
