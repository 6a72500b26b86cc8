package client

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"

	"github.com/pkg/errors"
)

var (
	// ErrNetworkUnavailable 传输层失败（连接失败、5xx、429）。换新 nonce 重新签名后可重试。
	ErrNetworkUnavailable = stderrors.New("hl: 网络不可用")
	// ErrRequestTimedOut 请求超时。已签名的载荷不会被自动重发。
	ErrRequestTimedOut = stderrors.New("hl: 请求超时")
)

// APIError 非 2xx 的 HTTP 响应
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hl: http %d: %s", e.StatusCode, e.Body)
}

// Unwrap 5xx / 429 视为网络不可用，其余（4xx）是业务错误
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500 {
		return ErrNetworkUnavailable
	}
	return nil
}

// classifyTransportError 把底层错误归类为 ErrRequestTimedOut / ErrNetworkUnavailable，保留原始信息
func classifyTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrapf(ErrRequestTimedOut, "%s: %v", op, err)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrapf(ErrRequestTimedOut, "%s: %v", op, err)
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.Wrap(err, op)
	}
	return errors.Wrapf(ErrNetworkUnavailable, "%s: %v", op, err)
}
