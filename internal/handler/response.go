// Package handler 提供 HTTP 请求处理
package handler

import (
	"math/big"
	"net/http"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/repository"
	bizerrors "github.com/eidos-exchange/eidos/eidos-bridge/pkg/errors"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CodeSuccess 成功响应码
const CodeSuccess = "SUCCESS"

// Response 统一响应结构
type Response struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Data    interface{}       `json:"data,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// PagedResponse 分页响应
type PagedResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
	Meta    PageMeta    `json:"meta"`
}

// PageMeta 分页元数据
type PageMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: CodeSuccess, Message: "success", Data: data})
}

// SuccessWithMessage 成功响应带消息
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: CodeSuccess, Message: message, Data: data})
}

// SuccessPaged 分页成功响应
func SuccessPaged(c *gin.Context, data interface{}, page *repository.Pagination) {
	c.JSON(http.StatusOK, PagedResponse{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
		Meta: PageMeta{
			Page:     page.Page,
			PageSize: page.PageSize,
			Total:    page.Total,
		},
	})
}

// Error 业务错误响应, HTTP 状态由错误决定
func Error(c *gin.Context, err error) {
	be := bizerrors.FromError(err)
	if be.Tier == bizerrors.TierInternal || be.Tier == bizerrors.TierExternal {
		logger.WithContext(c.Request.Context()).Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(be.HTTPStatus, Response{Code: be.Code, Message: be.Message, Details: be.Details})
}

// BadRequest 请求参数错误
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{Code: bizerrors.CodeInvalidRequest, Message: message})
}

// bindPage 解析分页参数
func bindPage(c *gin.Context) (*repository.Pagination, bool) {
	var page repository.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return nil, false
	}
	page.Offset()
	return &page, true
}

// bindJSON 解析请求体, 失败时写入 400
func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return false
	}
	return true
}

// SatsToBTC sats 转 BTC 展示值
func SatsToBTC(sats uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(sats), -8)
}

// bindOptionalJSON 请求体可为空
func bindOptionalJSON(c *gin.Context, v interface{}) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	return bindJSON(c, v)
}
