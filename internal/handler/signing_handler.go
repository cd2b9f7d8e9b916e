package handler

import (
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/service"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
)

// SigningHandler 签名回调接口
type SigningHandler struct {
	signing *service.SigningService
}

// NewSigningHandler 创建签名回调处理器
func NewSigningHandler(signing *service.SigningService) *SigningHandler {
	return &SigningHandler{signing: signing}
}

// SigningResultRequest 签名结果; signature 为 0x 前缀的 65 字节 hex
type SigningResultRequest struct {
	Signature     string `json:"signature"`
	FailureReason string `json:"failure_reason"`
}

// Result 签名服务回调
// POST /api/v1/signing/:id/result
func (h *SigningHandler) Result(c *gin.Context) {
	var req SigningResultRequest
	if !bindJSON(c, &req) {
		return
	}
	var sig []byte
	if req.Signature != "" {
		var err error
		if sig, err = hexutil.Decode(req.Signature); err != nil {
			BadRequest(c, "invalid signature: "+err.Error())
			return
		}
	}
	out, err := h.signing.Resume(c.Request.Context(), c.Param("id"), sig, req.FailureReason)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, out)
}

// Get 查询签名请求
func (h *SigningHandler) Get(c *gin.Context) {
	req, err := h.signing.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, req)
}

// ListByEvent 事件的签名请求历史
// GET /api/v1/signing?event_type=&event_id=
func (h *SigningHandler) ListByEvent(c *gin.Context) {
	eventType := model.EventType(c.Query("event_type"))
	eventID := c.Query("event_id")
	if eventType == "" || eventID == "" {
		BadRequest(c, "event_type and event_id are required")
		return
	}
	reqs, err := h.signing.ListByEvent(c.Request.Context(), eventType, eventID)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, reqs)
}
