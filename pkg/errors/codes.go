package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
)

// Engine Error Codes
const (
	ErrCodeNotInitialized        ErrorCode = "ENG_001"
	ErrCodeShapeMismatch         ErrorCode = "ENG_002"
	ErrCodeTrainingFailure       ErrorCode = "ENG_003"
	ErrCodePredictionFailure     ErrorCode = "ENG_004"
	ErrCodeModelArtifactNotFound ErrorCode = "ENG_005"
	ErrCodeInvalidFeature        ErrorCode = "ENG_006"
	ErrCodeDisposed              ErrorCode = "ENG_007"
)

// Infrastructure Error Codes
const (
	ErrCodeStorageError   ErrorCode = "INFRA_001"
	ErrCodeMessagingError ErrorCode = "INFRA_002"
	ErrCodeImageLoadError ErrorCode = "INFRA_003"
)

// Short aliases used at call sites.
const (
	CodeUnknown      = ErrorCode("UNKNOWN")
	CodeOK           = ErrorCode("OK")
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeNotFound     = ErrCodeNotFound
	CodeConflict     = ErrCodeConflict
	CodeRateLimit    = ErrCodeTooManyRequests

	CodeNotInitialized        = ErrCodeNotInitialized
	CodeShapeMismatch         = ErrCodeShapeMismatch
	CodeTrainingFailure       = ErrCodeTrainingFailure
	CodePredictionFailure     = ErrCodePredictionFailure
	CodeModelArtifactNotFound = ErrCodeModelArtifactNotFound
	CodeInvalidFeature        = ErrCodeInvalidFeature
	CodeDisposed              = ErrCodeDisposed
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,

	ErrCodeNotInitialized:        http.StatusServiceUnavailable,
	ErrCodeShapeMismatch:         http.StatusBadRequest,
	ErrCodeTrainingFailure:       http.StatusInternalServerError,
	ErrCodePredictionFailure:     http.StatusInternalServerError,
	ErrCodeModelArtifactNotFound: http.StatusNotFound,
	ErrCodeInvalidFeature:        http.StatusUnprocessableEntity,
	ErrCodeDisposed:              http.StatusServiceUnavailable,

	ErrCodeStorageError:   http.StatusInternalServerError,
	ErrCodeMessagingError: http.StatusInternalServerError,
	ErrCodeImageLoadError: http.StatusBadRequest,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization error",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",

	ErrCodeNotInitialized:        "engine not initialized",
	ErrCodeShapeMismatch:         "feature shape mismatch",
	ErrCodeTrainingFailure:       "model training failed",
	ErrCodePredictionFailure:     "model prediction failed",
	ErrCodeModelArtifactNotFound: "model artifact not found",
	ErrCodeInvalidFeature:        "invalid property features",
	ErrCodeDisposed:              "resource disposed",

	ErrCodeStorageError:   "storage error",
	ErrCodeMessagingError: "messaging error",
	ErrCodeImageLoadError: "image could not be loaded",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
