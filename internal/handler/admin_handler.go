package handler

import (
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/service"
	"github.com/gin-gonic/gin"
)

// AdminHandler 管理接口
type AdminHandler struct {
	admin *service.AdminService
}

// NewAdminHandler 创建管理处理器
func NewAdminHandler(admin *service.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// GrantChain 授权验证者
// POST /admin/validators/:id/chains/:chain
func (h *AdminHandler) GrantChain(c *gin.Context) {
	if err := h.admin.GrantChain(c.Request.Context(), c.Param("id"), c.Param("chain"), c.ClientIP()); err != nil {
		Error(c, err)
		return
	}
	SuccessWithMessage(c, "granted", nil)
}

// RevokeChain 撤销授权
// DELETE /admin/validators/:id/chains/:chain
func (h *AdminHandler) RevokeChain(c *gin.Context) {
	if err := h.admin.RevokeChain(c.Request.Context(), c.Param("id"), c.Param("chain")); err != nil {
		Error(c, err)
		return
	}
	SuccessWithMessage(c, "revoked", nil)
}

// ListChains 验证者已授权的链
func (h *AdminHandler) ListChains(c *gin.Context) {
	chains, err := h.admin.ListChains(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, chains)
}

// ListGrants 全部授权
func (h *AdminHandler) ListGrants(c *gin.Context) {
	grants, err := h.admin.ListGrants(c.Request.Context())
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, grants)
}

// ClearAttestations 清空投票记录
func (h *AdminHandler) ClearAttestations(c *gin.Context) {
	n, err := h.admin.ClearAttestations(c.Request.Context())
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, gin.H{"deleted": n})
}

// ClearRecords 清空事件记录
func (h *AdminHandler) ClearRecords(c *gin.Context) {
	res, err := h.admin.ClearRecords(c.Request.Context())
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, res)
}
