package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/middleware"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/services"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/utils"
	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type AttemptHandler struct {
	BaseHandler
	attemptService services.AttemptService
	exportService  services.ExportService
}

func NewAttemptHandler(
	attemptService services.AttemptService,
	exportService services.ExportService,
	logger utils.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		BaseHandler:    NewBaseHandler(logger),
		attemptService: attemptService,
		exportService:  exportService,
	}
}

// StartAttempt starts a new attempt or resumes the taker's active one
// @Summary Start or resume attempt
// @Tags attempts
// @Accept json
// @Produce json
// @Param attempt body services.StartAttemptRequest true "Attempt identity"
// @Success 201 {object} SuccessResponse{data=services.AttemptResponse}
// @Success 200 {object} SuccessResponse{data=services.AttemptResponse}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /attempts/start [post]
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	var req services.StartAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
			Code:    "INVALID_PAYLOAD",
		})
		return
	}

	req.AuthenticatedUserID = middleware.UserID(c)
	if req.UserAgent == "" {
		req.UserAgent = c.Request.UserAgent()
	}
	if req.IPAddress == "" {
		req.IPAddress = c.ClientIP()
	}

	h.LogRequest(c, "Starting attempt", "form_id", req.FormID, "interaction_type", req.InteractionType)

	attempt, err := h.attemptService.StartOrResume(c.Request.Context(), &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	if attempt.Resumed {
		h.RespondWithSuccess(c, http.StatusOK, "Attempt resumed", attempt, "session_id", attempt.SessionID)
		return
	}
	h.RespondWithSuccess(c, http.StatusCreated, "Attempt started", attempt, "session_id", attempt.SessionID)
}

// SyncProgress merges a client progress snapshot into the attempt
// @Summary Sync attempt progress
// @Tags attempts
// @Accept json
// @Produce json
// @Param session_id path string true "Session ID"
// @Param progress body services.SyncProgressRequest true "Progress snapshot"
// @Success 200 {object} SuccessResponse{data=services.AttemptResponse}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /attempts/{session_id}/sync [put]
func (h *AttemptHandler) SyncProgress(c *gin.Context) {
	sessionID := ParseStringIDParam(c, "session_id")
	if sessionID == "" {
		return
	}

	var req services.SyncProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
			Code:    "INVALID_PAYLOAD",
		})
		return
	}

	attempt, err := h.attemptService.SyncProgress(c.Request.Context(), sessionID, &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Progress synced",
		Data:    attempt,
	})
}

// CompleteAttempt is the completion hook for the response collaborator.
// Not-found and conflicting completions are reported, never failed.
// @Summary Complete attempt
// @Tags attempts
// @Accept json
// @Produce json
// @Param session_id path string true "Session ID"
// @Param body body CompleteAttemptRequest true "Created response"
// @Success 202 {object} SuccessResponse{data=CompleteAttemptResult}
// @Failure 400 {object} ErrorResponse
// @Router /attempts/{session_id}/complete [post]
func (h *AttemptHandler) CompleteAttempt(c *gin.Context) {
	sessionID := ParseStringIDParam(c, "session_id")
	if sessionID == "" {
		return
	}

	var req CompleteAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ResponseID) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "responseId is required",
			Code:    "INVALID_PAYLOAD",
		})
		return
	}

	completed := h.attemptService.CompleteAttemptSafely(c.Request.Context(), sessionID, req.ResponseID)
	c.JSON(http.StatusAccepted, SuccessResponse{
		Message: "Completion processed",
		Data: CompleteAttemptResult{
			SessionID: sessionID,
			Completed: completed,
		},
	})
}

// GetAttempt returns one attempt
// @Summary Get attempt
// @Tags attempts
// @Produce json
// @Param session_id path string true "Session ID"
// @Success 200 {object} SuccessResponse{data=services.AttemptResponse}
// @Failure 404 {object} ErrorResponse
// @Router /attempts/{session_id} [get]
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	sessionID := ParseStringIDParam(c, "session_id")
	if sessionID == "" {
		return
	}

	attempt, err := h.attemptService.GetAttempt(c.Request.Context(), sessionID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Attempt retrieved",
		Data:    attempt,
	})
}

// ListAttempts lists attempts for reviewers
// @Summary List attempts
// @Tags attempts
// @Produce json
// @Param form_id query string false "Form ID"
// @Param student_id query string false "Student ID"
// @Param status query string false "Status, SUSPICIOUS selects flagged in-progress attempts"
// @Param flagged query bool false "Flagged only"
// @Param page query int false "Page number"
// @Param size query int false "Page size"
// @Success 200 {object} SuccessResponse{data=services.AttemptListResponse}
// @Failure 400 {object} ErrorResponse
// @Router /attempts [get]
func (h *AttemptHandler) ListAttempts(c *gin.Context) {
	var req services.ListAttemptsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid query parameters",
			Details: err.Error(),
			Code:    "INVALID_QUERY",
		})
		return
	}

	result, err := h.attemptService.ListAttempts(c.Request.Context(), &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Attempts retrieved",
		Data:    result,
	})
}

// ExportFlagged downloads flagged attempts as xlsx (default) or csv
// @Summary Export flagged attempts
// @Tags attempts
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param form_id query string false "Form ID"
// @Param format query string false "xlsx or csv"
// @Router /attempts/flagged/export [get]
func (h *AttemptHandler) ExportFlagged(c *gin.Context) {
	formID := c.Query("form_id")
	format := strings.ToLower(c.DefaultQuery("format", "xlsx"))

	var (
		data        []byte
		err         error
		contentType string
	)
	switch format {
	case "xlsx":
		data, err = h.exportService.ExportFlaggedToExcel(c.Request.Context(), formID)
		contentType = xlsxContentType
	case "csv":
		data, err = h.exportService.ExportFlaggedToCSV(c.Request.Context(), formID)
		contentType = "text/csv"
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "format must be xlsx or csv",
			Code:    "INVALID_QUERY",
		})
		return
	}
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	filename := "flagged-attempts-" + time.Now().UTC().Format("20060102-150405") + "." + format
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, contentType, data)
}

// ===== ERROR MAPPING =====

func (h *AttemptHandler) handleServiceError(c *gin.Context, err error) {
	var validationErrors services.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: validationErrors,
			Code:    "VALIDATION_ERROR",
		})
		return
	}

	var businessRuleError *services.BusinessRuleError
	if errors.As(err, &businessRuleError) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Message: businessRuleError.Message,
			Details: map[string]interface{}{
				"rule":    businessRuleError.Rule,
				"context": businessRuleError.Context,
			},
			Code: "BUSINESS_RULE",
		})
		return
	}

	switch {
	case services.IsNotFound(err):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Attempt not found",
			Code:    "NOT_FOUND",
		})
	case services.IsConflict(err):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Attempt already completed with a different response",
			Code:    "CONFLICT",
		})
	case services.IsUnauthorized(err):
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "Unauthorized",
			Code:    "UNAUTHORIZED",
		})
	default:
		h.RespondWithError(c, http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
			Code:    "INTERNAL_ERROR",
		}, err)
	}
}
