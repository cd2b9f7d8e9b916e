// Package router HTTP 路由
package router

import (
	"context"
	"net/http"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/handler"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers 所有处理器
type Handlers struct {
	Attestation *handler.AttestationHandler
	Deposit     *handler.DepositHandler
	Redemption  *handler.RedemptionHandler
	Bridging    *handler.BridgingHandler
	Settlement  *handler.SettlementHandler
	Signing     *handler.SigningHandler
	Admin       *handler.AdminHandler
}

// HealthCheck 依赖健康检查
type HealthCheck func(ctx context.Context) error

// New 创建 gin 引擎并注册中间件和路由
func New(h *Handlers, adminKey string, health HealthCheck) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.RequestID(), middleware.Logger(), middleware.Metrics())
	SetupRouter(r, h, adminKey, health)
	return r
}

// SetupRouter 设置路由
func SetupRouter(r *gin.Engine, h *Handlers, adminKey string, health HealthCheck) {
	r.GET("/health", func(c *gin.Context) {
		if health != nil {
			if err := health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		// 验证者提交
		attestations := v1.Group("/attestations")
		{
			attestations.POST("/:phase", middleware.ValidatorID(), h.Attestation.Attest)
			attestations.GET("", h.Attestation.Attestors)
		}

		deposits := v1.Group("/deposits")
		{
			deposits.POST("", h.Deposit.Create)
			deposits.GET("", h.Deposit.List)
			deposits.GET("/:hash", h.Deposit.Get)
			deposits.POST("/:hash/deposited", h.Deposit.MarkDeposited)
			deposits.POST("/:hash/yield", h.Deposit.BeginYield)
			deposits.POST("/:hash/yield-confirm", h.Deposit.ConfirmYield)
			deposits.POST("/:hash/mint", h.Deposit.RequestMint)
			deposits.POST("/:hash/minted-hash", h.Deposit.SetMintedHash)
			deposits.POST("/:hash/mint-confirm", h.Deposit.ConfirmMint)
			deposits.POST("/:hash/remarks", h.Deposit.SetRemarks)
			deposits.POST("/:hash/rollback", h.Deposit.Rollback)
			deposits.POST("/:hash/refundable", h.Deposit.MarkRefundable)
			deposits.POST("/:hash/refund", h.Deposit.BuildRefund)
			deposits.POST("/:hash/refund-confirm", h.Deposit.ConfirmRefund)
		}

		redemptions := v1.Group("/redemptions")
		{
			redemptions.POST("", h.Redemption.Create)
			redemptions.GET("", h.Redemption.List)
			redemptions.GET("/:hash", h.Redemption.Get)
			redemptions.POST("/:hash/advance", h.Redemption.Advance)
			redemptions.POST("/:hash/custody-txn", h.Redemption.SetCustodyTxn)
			redemptions.POST("/:hash/remarks", h.Redemption.SetRemarks)
			redemptions.POST("/:hash/rollback", h.Redemption.Rollback)
		}

		bridgings := v1.Group("/bridgings")
		{
			bridgings.POST("", h.Bridging.Create)
			bridgings.GET("", h.Bridging.List)
			bridgings.GET("/:hash", h.Bridging.Get)
			bridgings.POST("/:hash/burnt", h.Bridging.MarkBurnt)
			bridgings.POST("/:hash/bridge", h.Bridging.Bridge)
			bridgings.POST("/:hash/dest-hash", h.Bridging.SetDestTxn)
			bridgings.POST("/:hash/confirm", h.Bridging.Confirm)
			bridgings.POST("/:hash/yield-status", h.Bridging.AdvanceYield)
			bridgings.POST("/:hash/remarks", h.Bridging.SetRemarks)
			bridgings.POST("/:hash/rollback", h.Bridging.Rollback)
		}

		settlement := v1.Group("/settlement")
		{
			settlement.POST("/treasury", h.Settlement.BuildTreasury)
			settlement.GET("/verify", h.Settlement.Verify)
			settlement.GET("", h.Settlement.ListBatches)
			settlement.GET("/:txid", h.Settlement.GetBatch)
			settlement.POST("/:txid/confirm", h.Settlement.Confirm)
		}

		signing := v1.Group("/signing")
		{
			signing.GET("", h.Signing.ListByEvent)
			signing.GET("/:id", h.Signing.Get)
			signing.POST("/:id/result", h.Signing.Result)
		}
	}

	// 管理接口 (X-Admin-Key)
	admin := r.Group("/admin")
	admin.Use(middleware.AdminKey(adminKey))
	{
		admin.GET("/validators", h.Admin.ListGrants)
		admin.GET("/validators/:id/chains", h.Admin.ListChains)
		admin.POST("/validators/:id/chains/:chain", h.Admin.GrantChain)
		admin.DELETE("/validators/:id/chains/:chain", h.Admin.RevokeChain)
		admin.DELETE("/attestations", h.Admin.ClearAttestations)
		admin.DELETE("/records", h.Admin.ClearRecords)
	}
}
