// Package apperr 定义了跨模块共享的错误分类。
// 业务错误通过 fmt.Errorf("%w: ...") 包装这里的哨兵错误，
// 上层用 errors.Is 判断类别并映射为HTTP状态码。
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrValidation 表示输入在任何写入之前被拒绝
	ErrValidation = errors.New("validation failed")
	// ErrNotFound 表示目标实体不存在
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated 表示请求没有可解析的用户身份
	ErrUnauthenticated = errors.New("user not authenticated")
	// ErrRateLimited 表示用户在时间窗口内的操作次数超限
	ErrRateLimited = errors.New("rate limited")
)

// Status 将错误映射为HTTP状态码。
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError 报告错误是否由调用方的输入导致。
func IsClientError(err error) bool {
	return Status(err) < http.StatusInternalServerError
}
