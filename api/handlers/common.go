package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/advisorflow/types"
)

// maxBodyBytes 限制请求体大小，防止超大载荷。
const maxBodyBytes = 1 << 20 // 1 MiB

// errorBody 是错误响应的统一载荷。
type errorBody struct {
	Code      types.ErrorCode `json:"code"`
	Message   string          `json:"message"`
	Retryable bool            `json:"retryable,omitempty"`
}

// writeJSON 写出 JSON 响应。
func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to write JSON response", zap.Error(err))
	}
}

// writeError 将领域错误映射为 HTTP 响应。
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Code: types.ErrInternalError, Message: "internal error"}

	var domainErr *types.Error
	if errors.As(err, &domainErr) {
		body.Code = domainErr.Code
		body.Message = domainErr.Message
		body.Retryable = domainErr.Retryable
		if domainErr.HTTPStatus != 0 {
			status = domainErr.HTTPStatus
		} else {
			status = statusForCode(domainErr.Code)
		}
	}

	logger.Warn("request failed",
		zap.Int("status", status),
		zap.String("code", string(body.Code)),
		zap.Error(err),
	)
	writeJSON(w, logger, status, map[string]errorBody{"error": body})
}

// statusForCode 是错误码到 HTTP 状态码的兜底映射。
func statusForCode(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidRequest, types.ErrValidationFailed:
		return http.StatusBadRequest
	case types.ErrAuthentication, types.ErrUnauthorized:
		return http.StatusUnauthorized
	case types.ErrForbidden:
		return http.StatusForbidden
	case types.ErrNotFound:
		return http.StatusNotFound
	case types.ErrConflict, types.ErrAlreadyAssigned:
		return http.StatusConflict
	case types.ErrQueueFull:
		return http.StatusTooManyRequests
	case types.ErrTransientInfra, types.ErrTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON 读取并解析请求体，拒绝未知字段与超大请求。
func decodeJSON(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer body.Close()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return types.NewError(types.ErrInvalidRequest, "request body is empty").
				WithHTTPStatus(http.StatusBadRequest)
		}
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("malformed request body: %v", err)).
			WithHTTPStatus(http.StatusBadRequest).WithCause(err)
	}
	return nil
}

// methodNotAllowed 写出 405 响应。
func methodNotAllowed(w http.ResponseWriter, logger *zap.Logger, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, logger, types.NewError(types.ErrInvalidRequest, "method not allowed").
		WithHTTPStatus(http.StatusMethodNotAllowed))
}
