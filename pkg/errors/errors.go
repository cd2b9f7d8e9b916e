// Package errors 桥接服务业务错误
//
// 错误分三级:
//   - 输入校验失败 (INVALID_REQUEST / INSUFFICIENT_FUNDS): 立即中止, 不做任何修改
//   - 前置条件不满足 (PRECONDITION_FAILED / NOT_FOUND / UNAUTHORIZED): 记录日志, 无副作用
//   - 外部依赖失败 (SIGNING_FAILED): 仅当前续体失败, 记录保持 pending
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Tier 错误级别
type Tier int8

const (
	TierInternal     Tier = 0
	TierValidation   Tier = 1
	TierPrecondition Tier = 2
	TierExternal     Tier = 3
)

// Error 业务错误
type Error struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Tier       Tier              `json:"-"`
	HTTPStatus int               `json:"-"`
	GRPCCode   codes.Code        `json:"-"`
	Cause      error             `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较; PRECONDITION_FAILED 共用一个码, 需同时比较消息
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Code != t.Code {
		return false
	}
	return e.Code != CodePreconditionFailed || e.Message == t.Message
}

// WithDetail 添加单个详情
func (e *Error) WithDetail(key, value string) *Error {
	n := e.clone()
	if n.Details == nil {
		n.Details = make(map[string]string, 1)
	}
	n.Details[key] = value
	return n
}

// WithMessage 替换错误消息
func (e *Error) WithMessage(message string) *Error {
	n := e.clone()
	n.Message = message
	return n
}

// WithMessagef 格式化替换错误消息
func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

func (e *Error) clone() *Error {
	n := *e
	if e.Details != nil {
		n.Details = make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			n.Details[k] = v
		}
	}
	return &n
}

// MarshalJSON 实现 json.Marshaler
func (e *Error) MarshalJSON() ([]byte, error) {
	type alias Error
	return json.Marshal(&struct {
		*alias
		Error string `json:"error,omitempty"`
	}{
		alias: (*alias)(e),
		Error: e.Error(),
	})
}

// NewWithStatus 创建带状态码的错误
func NewWithStatus(code, message string, tier Tier, httpStatus int, grpcCode codes.Code) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Tier:       tier,
		HTTPStatus: httpStatus,
		GRPCCode:   grpcCode,
	}
}

// Precondition 创建前置条件错误, 错误码共用 PRECONDITION_FAILED, 消息区分具体原因
func Precondition(message string) *Error {
	return NewWithStatus(CodePreconditionFailed, message, TierPrecondition, http.StatusConflict, codes.FailedPrecondition)
}

// Invalid 创建输入校验错误
func Invalid(message string) *Error {
	return ErrInvalidRequest.WithMessage(message)
}

// Invalidf 格式化创建输入校验错误
func Invalidf(format string, args ...interface{}) *Error {
	return ErrInvalidRequest.WithMessagef(format, args...)
}

// Wrap 包装底层原因
func Wrap(err *Error, cause error) *Error {
	n := err.clone()
	n.Cause = cause
	return n
}

// Wrapf 包装底层原因并补充信息
func Wrapf(err *Error, cause error, format string, args ...interface{}) *Error {
	n := Wrap(err, cause)
	n.Message = fmt.Sprintf("%s: %s", err.Message, fmt.Sprintf(format, args...))
	return n
}

// FromError 从标准错误转换, 未知错误归为内部错误
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var bizErr *Error
	if errors.As(err, &bizErr) {
		return bizErr
	}
	return Wrap(ErrInternal, err)
}

// TierOf 返回错误级别
func TierOf(err error) Tier {
	var bizErr *Error
	if errors.As(err, &bizErr) {
		return bizErr.Tier
	}
	return TierInternal
}

// IsPrecondition 是否为前置条件不满足 (二级错误)
func IsPrecondition(err error) bool {
	return TierOf(err) == TierPrecondition
}

// IsValidation 是否为输入校验失败 (一级错误)
func IsValidation(err error) bool {
	return TierOf(err) == TierValidation
}

// 错误码
const (
	CodeInternal           = "INTERNAL_ERROR"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeInsufficientFunds  = "INSUFFICIENT_FUNDS"
	CodeNotFound           = "NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeConflict           = "CONFLICT"
	CodePreconditionFailed = "PRECONDITION_FAILED"
	CodeSigningFailed      = "SIGNING_FAILED"
	CodeLockFailed         = "LOCK_FAILED"
)

// 通用错误
var (
	ErrInternal          = NewWithStatus(CodeInternal, "内部错误", TierInternal, http.StatusInternalServerError, codes.Internal)
	ErrInvalidRequest    = NewWithStatus(CodeInvalidRequest, "请求参数无效", TierValidation, http.StatusBadRequest, codes.InvalidArgument)
	ErrInsufficientFunds = NewWithStatus(CodeInsufficientFunds, "UTXO 余额不足", TierValidation, http.StatusUnprocessableEntity, codes.InvalidArgument)
	ErrNotFound          = NewWithStatus(CodeNotFound, "记录不存在", TierPrecondition, http.StatusNotFound, codes.NotFound)
	ErrUnauthorized      = NewWithStatus(CodeUnauthorized, "验证者未授权", TierPrecondition, http.StatusForbidden, codes.PermissionDenied)
	ErrConflict          = NewWithStatus(CodeConflict, "记录已存在", TierValidation, http.StatusConflict, codes.AlreadyExists)
	ErrSigningFailed     = NewWithStatus(CodeSigningFailed, "外部签名失败", TierExternal, http.StatusBadGateway, codes.Unavailable)
	ErrLockFailed        = NewWithStatus(CodeLockFailed, "获取事件锁失败", TierInternal, http.StatusServiceUnavailable, codes.Unavailable)
)
