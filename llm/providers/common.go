package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/chatflow/types"
)

// MapHTTPError 将 HTTP 状态码映射为带有合适重试标记的错误
func MapHTTPError(status int, msg string, provider string) *types.Error {
	msg = fmt.Sprintf("%s: %s", provider, msg)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewError(types.ErrUnauthorized, msg).WithHTTPStatus(status)
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithHTTPStatus(status).WithRetryable(true)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return types.NewError(types.ErrUpstreamTimeout, msg).WithHTTPStatus(status).WithRetryable(true)
	case status >= 500:
		// 含 529 模型过载
		return types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(status).WithRetryable(true)
	case status >= 400:
		return types.NewError(types.ErrInvalidRequest, msg).WithHTTPStatus(status)
	default:
		return types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(status)
	}
}

// ReadErrorMessage 读取响应体中的错误消息
// 尝试解析 JSON 错误响应，失败则回退到原始文本
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64*1024))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// TransportError 网络层错误；调用方取消不重试
func TransportError(err error, provider string) *types.Error {
	if errors.Is(err, context.Canceled) {
		return types.Errorf(types.ErrUpstreamError, "%s: request canceled", provider).WithCause(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.Errorf(types.ErrUpstreamTimeout, "%s: request timed out", provider).
			WithCause(err).WithRetryable(true)
	}
	return types.Errorf(types.ErrUpstreamError, "%s: %v", provider, err).
		WithCause(err).WithHTTPStatus(http.StatusBadGateway).WithRetryable(true)
}

// SpeakerPrefix 为带 Name 的 user 消息加上 "name: " 前缀，用于不支持 name 字段的后端
func SpeakerPrefix(m types.Message) string {
	if m.Name == "" || m.Role != types.RoleUser {
		return m.Content
	}
	return m.Name + ": " + m.Content
}
