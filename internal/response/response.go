package response

import (
	"math"
	"net/http"
	"strconv"

	"keyshop-api/internal/apperrors"
	"keyshop-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// Success returns a success response
func Success(data interface{}) Response {
	return Response{
		Success: true,
		Message: "success",
		Data:    data,
	}
}

// Error returns an error response
func Error(code apperrors.ErrorCode, message string) Response {
	return Response{
		Success: false,
		Message: message,
		Code:    string(code),
	}
}

// JSON sends a JSON response
func JSON(c *gin.Context, statusCode int, response Response) {
	c.JSON(statusCode, response)
}

// SuccessJSON sends a success JSON response
func SuccessJSON(c *gin.Context, data interface{}) {
	JSON(c, http.StatusOK, Success(data))
}

// CreatedJSON sends a 201 with data
func CreatedJSON(c *gin.Context, message string, data interface{}) {
	JSON(c, http.StatusCreated, Response{Success: true, Message: message, Data: data})
}

// ErrorJSON sends an error JSON response
func ErrorJSON(c *gin.Context, err *apperrors.AppError) {
	if err.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(err.RetryAfter.Seconds()))))
	}
	resp := Error(err.Code, err.Message)
	resp.Details = err.Details
	JSON(c, err.HTTPCode, resp)
}

// AppError maps any error onto the envelope. Unknown errors become a generic 500
// and are logged with their cause.
func AppError(c *gin.Context, err error) {
	appErr := apperrors.From(err)
	if appErr.HTTPCode >= http.StatusInternalServerError {
		logging.Errorf("Request failed - method: %s, path: %s, request_id: %s, error: %v",
			c.Request.Method, c.FullPath(), c.GetString("request_id"), err)
	}
	ErrorJSON(c, appErr)
	c.Abort()
}
