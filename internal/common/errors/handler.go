// internal/common/errors/handler.go
package errors

import (
	"net/http"
)

// ErrorResponse is the JSON body returned to clients when a request fails.
// CorrelationID lets operators find the matching log line without exposing
// internal detail.
type ErrorResponse struct {
	Error         string                 `json:"error"`
	Details       interface{}            `json:"details,omitempty"`
	Remaining     *int                   `json:"remaining,omitempty"`
	CorrelationID string                 `json:"correlationId"`
	Metadata      map[string]interface{} `json:"-"`
}

// HTTPStatus maps an error code onto the gateway's response status.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeUpstreamTimeout, ErrCodeUpstreamCallFailed, ErrCodeUpstreamBadPayload:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ClientLabel maps an error code onto the stable string clients branch on.
func ClientLabel(code ErrorCode) string {
	switch code {
	case ErrCodeInvalidRequest:
		return "invalid_body"
	case ErrCodeRateLimited:
		return "rate_limited"
	case ErrCodeUpstreamTimeout, ErrCodeUpstreamCallFailed, ErrCodeUpstreamBadPayload:
		return "upstream_unavailable"
	default:
		return "internal_error"
	}
}

// ToResponse builds the client-facing body for an error. Internal details are
// only included for validation failures, where they are the point.
func ToResponse(err error, correlationID string) (int, *ErrorResponse) {
	stdErr := Normalize(err)

	resp := &ErrorResponse{
		Error:         ClientLabel(stdErr.Code),
		CorrelationID: correlationID,
	}

	switch stdErr.Code {
	case ErrCodeInvalidRequest:
		resp.Details = stdErr.Details
	case ErrCodeRateLimited:
		if v, ok := stdErr.Metadata["remaining"].(int); ok {
			resp.Remaining = &v
		}
	}

	return HTTPStatus(stdErr.Code), resp
}
