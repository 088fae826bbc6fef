package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// writeAppError maps an application error to its HTTP status. Server-side
// failures are masked behind the code's default message.
func writeAppError(c *gin.Context, err error) {
	code := errors.GetCode(err)
	if code == errors.CodeUnknown {
		code = errors.CodeInternal
	}
	resp := ErrorResponse{Code: code.String(), Message: errors.DefaultMessageForCode(code)}
	if errors.IsClientError(code) {
		var appErr *errors.AppError
		if errors.As(err, &appErr) {
			resp.Message = appErr.Message
			resp.Detail = appErr.Detail
		} else {
			resp.Message = err.Error()
		}
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(errors.HTTPStatusForCode(code), resp)
}

func badRequest(c *gin.Context, message string) {
	writeAppError(c, errors.InvalidParam(message))
}

// queryFloat parses an optional float query parameter. ok is false when the
// parameter is present but malformed.
func queryFloat(c *gin.Context, name string) (v float64, present bool, ok bool) {
	raw, present := c.GetQuery(name)
	if !present || raw == "" {
		return 0, false, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, true, false
	}
	return v, true, true
}
