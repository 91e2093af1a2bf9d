package handlers

import (
	"net/http"
	"time"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/middleware"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/utils"
	"github.com/gin-gonic/gin"
)

// ===== COMMON RESPONSE STRUCTURES =====

// ErrorResponse represents an error response
type ErrorResponse struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// SuccessResponse represents a success response
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ===== REQUEST STRUCTURES =====

// CompleteAttemptRequest is the body of the completion hook
type CompleteAttemptRequest struct {
	ResponseID string `json:"responseId"`
}

// CompleteAttemptResult tells the collaborator whether the attempt is completed
type CompleteAttemptResult struct {
	SessionID string `json:"sessionId"`
	Completed bool   `json:"completed"`
}

// ===== BASE HANDLER STRUCT =====

// BaseHandler gives handlers request-scoped logging and the response envelope
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{
		logger: logger,
	}
}

// requestLogger is the logger stored by utils.ContextLogger, tagged with the caller
func (h *BaseHandler) requestLogger(c *gin.Context) utils.Logger {
	logger := utils.LoggerFrom(c, h.logger)
	if userID := middleware.UserID(c); userID != "" {
		logger = logger.With("user_id", userID)
	}
	return logger
}

// LogRequest logs what a handler is about to do
func (h *BaseHandler) LogRequest(c *gin.Context, message string, additionalFields ...interface{}) {
	fields := append([]interface{}{"client_ip", c.ClientIP()}, additionalFields...)
	h.requestLogger(c).Debug(message, fields...)
}

// LogError logs a failed request with its elapsed time
func (h *BaseHandler) LogError(c *gin.Context, err error, message string, additionalFields ...interface{}) {
	fields := additionalFields
	if started := c.GetTime("request_start"); !started.IsZero() {
		fields = append(fields, "duration", time.Since(started).String())
	}
	h.requestLogger(c).LogError(err, message, fields...)
}

// RespondWithSuccess writes the success envelope and logs it
func (h *BaseHandler) RespondWithSuccess(c *gin.Context, statusCode int, message string, data interface{}, additionalFields ...interface{}) {
	fields := append([]interface{}{"status_code", statusCode}, additionalFields...)
	h.requestLogger(c).Info(message, fields...)

	c.JSON(statusCode, SuccessResponse{
		Message: message,
		Data:    data,
	})
}

// RespondWithError writes the error envelope. Server errors are logged.
func (h *BaseHandler) RespondWithError(c *gin.Context, statusCode int, resp ErrorResponse, err error) {
	if statusCode >= http.StatusInternalServerError {
		h.LogError(c, err, resp.Message, "status_code", statusCode)
	}
	c.JSON(statusCode, resp)
}
