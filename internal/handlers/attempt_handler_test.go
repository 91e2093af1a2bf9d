package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/models"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/services"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ===== MOCKS =====

type mockAttemptService struct {
	mock.Mock
}

func (m *mockAttemptService) StartOrResume(ctx context.Context, req *services.StartAttemptRequest) (*services.AttemptResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*services.AttemptResponse)
	return resp, args.Error(1)
}

func (m *mockAttemptService) SyncProgress(ctx context.Context, sessionID string, req *services.SyncProgressRequest) (*services.AttemptResponse, error) {
	args := m.Called(ctx, sessionID, req)
	resp, _ := args.Get(0).(*services.AttemptResponse)
	return resp, args.Error(1)
}

func (m *mockAttemptService) CompleteAttempt(ctx context.Context, sessionID, responseID string) (*services.AttemptResponse, error) {
	args := m.Called(ctx, sessionID, responseID)
	resp, _ := args.Get(0).(*services.AttemptResponse)
	return resp, args.Error(1)
}

func (m *mockAttemptService) CompleteAttemptSafely(ctx context.Context, sessionID, responseID string) bool {
	return m.Called(ctx, sessionID, responseID).Bool(0)
}

func (m *mockAttemptService) GetAttempt(ctx context.Context, sessionID string) (*services.AttemptResponse, error) {
	args := m.Called(ctx, sessionID)
	resp, _ := args.Get(0).(*services.AttemptResponse)
	return resp, args.Error(1)
}

func (m *mockAttemptService) ListAttempts(ctx context.Context, req *services.ListAttemptsRequest) (*services.AttemptListResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*services.AttemptListResponse)
	return resp, args.Error(1)
}

type mockExportService struct {
	mock.Mock
}

func (m *mockExportService) ExportFlaggedToExcel(ctx context.Context, formID string) ([]byte, error) {
	args := m.Called(ctx, formID)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *mockExportService) ExportFlaggedToCSV(ctx context.Context, formID string) ([]byte, error) {
	args := m.Called(ctx, formID)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

type stubServiceManager struct {
	attempt services.AttemptService
	export  services.ExportService
}

func (s stubServiceManager) Attempt() services.AttemptService  { return s.attempt }
func (s stubServiceManager) Sweeper() *services.AttemptSweeper { return nil }
func (s stubServiceManager) Export() services.ExportService    { return s.export }

// ===== HELPERS =====

func setupRouter(attempts *mockAttemptService, exports *mockExportService, auth gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := utils.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	router := gin.New()
	NewHandlerManager(stubServiceManager{attempt: attempts, export: exports}, logger).SetupRoutes(router, auth)
	return router
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "handler-test")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), target))
}

// ===== TESTS =====

func TestStartAttempt(t *testing.T) {
	t.Run("new attempt answers 201", func(t *testing.T) {
		attempts := new(mockAttemptService)
		router := setupRouter(attempts, new(mockExportService), nil)

		attempts.On("StartOrResume", mock.Anything, mock.MatchedBy(func(req *services.StartAttemptRequest) bool {
			return req.FormID == "F1" && req.UserAgent == "handler-test" && req.IPAddress != "" && req.AuthenticatedUserID == ""
		})).Return(&services.AttemptResponse{SessionID: "session_1700000000000_abcdef123456", AttemptNumber: 1}, nil)

		w := doJSON(router, http.MethodPost, "/api/v1/attempts/start", map[string]interface{}{
			"formId":          "F1",
			"studentId":       "S1",
			"interactionType": "STANDALONE_EXAM",
		})

		assert.Equal(t, http.StatusCreated, w.Code)
		var body struct {
			Data services.AttemptResponse `json:"data"`
		}
		decodeBody(t, w, &body)
		assert.Equal(t, "session_1700000000000_abcdef123456", body.Data.SessionID)
		attempts.AssertExpectations(t)
	})

	t.Run("resumed attempt answers 200", func(t *testing.T) {
		attempts := new(mockAttemptService)
		router := setupRouter(attempts, new(mockExportService), nil)

		attempts.On("StartOrResume", mock.Anything, mock.Anything).
			Return(&services.AttemptResponse{SessionID: "S", ResumeCount: 1, Resumed: true}, nil)

		w := doJSON(router, http.MethodPost, "/api/v1/attempts/start", map[string]interface{}{
			"formId": "F1", "studentId": "S1", "interactionType": "STANDALONE_EXAM",
		})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("authenticated user id is passed through", func(t *testing.T) {
		attempts := new(mockAttemptService)
		auth := func(c *gin.Context) {
			c.Set("user_id", "token-user")
			c.Next()
		}
		router := setupRouter(attempts, new(mockExportService), auth)

		attempts.On("StartOrResume", mock.Anything, mock.MatchedBy(func(req *services.StartAttemptRequest) bool {
			return req.AuthenticatedUserID == "token-user"
		})).Return(&services.AttemptResponse{SessionID: "S"}, nil)

		w := doJSON(router, http.MethodPost, "/api/v1/attempts/start", map[string]interface{}{
			"formId": "F1", "interactionType": "STANDALONE_EXAM",
		})
		assert.Equal(t, http.StatusCreated, w.Code)
		attempts.AssertExpectations(t)
	})

	t.Run("validation errors answer 400", func(t *testing.T) {
		attempts := new(mockAttemptService)
		router := setupRouter(attempts, new(mockExportService), nil)

		attempts.On("StartOrResume", mock.Anything, mock.Anything).Return(nil,
			services.ValidationErrors{*services.NewValidationError("studentId", "is required for ASSIGNMENT attempts", nil)})

		w := doJSON(router, http.MethodPost, "/api/v1/attempts/start", map[string]interface{}{
			"formId": "F1", "interactionType": "ASSIGNMENT",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		var body ErrorResponse
		decodeBody(t, w, &body)
		assert.Equal(t, "VALIDATION_ERROR", body.Code)
	})

	t.Run("malformed json answers 400", func(t *testing.T) {
		router := setupRouter(new(mockAttemptService), new(mockExportService), nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts/start", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("store failure answers 500", func(t *testing.T) {
		attempts := new(mockAttemptService)
		router := setupRouter(attempts, new(mockExportService), nil)
		attempts.On("StartOrResume", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("failed to create attempt: %w", io.ErrUnexpectedEOF))

		w := doJSON(router, http.MethodPost, "/api/v1/attempts/start", map[string]interface{}{
			"formId": "F1", "studentId": "S1", "interactionType": "STANDALONE_EXAM",
		})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestSyncProgress(t *testing.T) {
	t.Run("merged attempt is returned", func(t *testing.T) {
		attempts := new(mockAttemptService)
		router := setupRouter(attempts, new(mockExportService), nil)

		attempts.On("SyncProgress", mock.Anything, "S1", mock.MatchedBy(func(req *services.SyncProgressRequest) bool {
			return req.CurrentQuestion == 3 && req.FocusLossCount == 2 && string(req.Answers["q1"]) == `"a"`
		})).Return(&services.AttemptResponse{SessionID: "S1", CurrentQuestion: 3, FocusLossCount: 2}, nil)

		w := doJSON(router, http.MethodPut, "/api/v1/attempts/S1/sync", map[string]interface{}{
			"currentQuestion": 3,
			"totalQuestions":  10,
			"answers":         map[string]interface{}{"q1": "a"},
			"timeSpent":       120,
			"focusLossCount":  2,
		})
		assert.Equal(t, http.StatusOK, w.Code)
		attempts.AssertExpectations(t)
	})

	t.Run("unknown session answers 404", func(t *testing.T) {
		attempts := new(mockAttemptService)
		router := setupRouter(attempts, new(mockExportService), nil)
		attempts.On("SyncProgress", mock.Anything, "missing", mock.Anything).Return(nil, services.ErrAttemptNotFound)

		w := doJSON(router, http.MethodPut, "/api/v1/attempts/missing/sync", map[string]interface{}{"currentQuestion": 0})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCompleteAttempt(t *testing.T) {
	t.Run("reports completion", func(t *testing.T) {
		attempts := new(mockAttemptService)
		router := setupRouter(attempts, new(mockExportService), nil)
		attempts.On("CompleteAttemptSafely", mock.Anything, "S1", "R1").Return(true)

		w := doJSON(router, http.MethodPost, "/api/v1/attempts/S1/complete", map[string]interface{}{"responseId": "R1"})
		assert.Equal(t, http.StatusAccepted, w.Code)
		var body struct {
			Data CompleteAttemptResult `json:"data"`
		}
		decodeBody(t, w, &body)
		assert.True(t, body.Data.Completed)
	})

	t.Run("conflict does not fail the caller", func(t *testing.T) {
		attempts := new(mockAttemptService)
		router := setupRouter(attempts, new(mockExportService), nil)
		attempts.On("CompleteAttemptSafely", mock.Anything, "S1", "R2").Return(false)

		w := doJSON(router, http.MethodPost, "/api/v1/attempts/S1/complete", map[string]interface{}{"responseId": "R2"})
		assert.Equal(t, http.StatusAccepted, w.Code)
		var body struct {
			Data CompleteAttemptResult `json:"data"`
		}
		decodeBody(t, w, &body)
		assert.False(t, body.Data.Completed)
	})

	t.Run("missing response id answers 400", func(t *testing.T) {
		attempts := new(mockAttemptService)
		router := setupRouter(attempts, new(mockExportService), nil)

		w := doJSON(router, http.MethodPost, "/api/v1/attempts/S1/complete", map[string]interface{}{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		attempts.AssertNotCalled(t, "CompleteAttemptSafely", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestGetAndListAttempts(t *testing.T) {
	attempts := new(mockAttemptService)
	router := setupRouter(attempts, new(mockExportService), nil)

	attempts.On("GetAttempt", mock.Anything, "S1").Return(&services.AttemptResponse{
		SessionID:       "S1",
		Status:          models.AttemptInProgress,
		EffectiveStatus: models.AttemptSuspicious,
		IsSuspicious:    true,
		Signals: []services.SignalResponse{{
			Reason:   models.ReasonDevToolsDetected,
			Counters: json.RawMessage(`{"devToolsDetected":true}`),
		}},
	}, nil)
	attempts.On("ListAttempts", mock.Anything, mock.MatchedBy(func(req *services.ListAttemptsRequest) bool {
		return req.FormID == "F1" && req.FlaggedOnly && req.Page == 2 && req.Size == 10
	})).Return(&services.AttemptListResponse{Total: 11, Page: 2, Size: 10}, nil)

	w := doJSON(router, http.MethodGet, "/api/v1/attempts/S1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var single struct {
		Data services.AttemptResponse `json:"data"`
	}
	decodeBody(t, w, &single)
	assert.Equal(t, models.AttemptSuspicious, single.Data.EffectiveStatus)
	assert.Equal(t, models.AttemptInProgress, single.Data.Status)
	require.Len(t, single.Data.Signals, 1)
	assert.Equal(t, models.ReasonDevToolsDetected, single.Data.Signals[0].Reason)
	assert.JSONEq(t, `{"devToolsDetected":true}`, string(single.Data.Signals[0].Counters))

	w = doJSON(router, http.MethodGet, "/api/v1/attempts?form_id=F1&flagged=true&page=2&size=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data services.AttemptListResponse `json:"data"`
	}
	decodeBody(t, w, &list)
	assert.Equal(t, int64(11), list.Data.Total)
	attempts.AssertExpectations(t)
}

func TestExportFlagged(t *testing.T) {
	exports := new(mockExportService)
	router := setupRouter(new(mockAttemptService), exports, nil)

	exports.On("ExportFlaggedToExcel", mock.Anything, "F1").Return([]byte("xlsx-bytes"), nil)
	exports.On("ExportFlaggedToCSV", mock.Anything, "").Return([]byte("a,b\n"), nil)

	w := doJSON(router, http.MethodGet, "/api/v1/attempts/flagged/export?form_id=F1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")
	assert.Equal(t, "xlsx-bytes", w.Body.String())

	w = doJSON(router, http.MethodGet, "/api/v1/attempts/flagged/export?format=csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a,b\n", w.Body.String())

	w = doJSON(router, http.MethodGet, "/api/v1/attempts/flagged/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	router := setupRouter(new(mockAttemptService), new(mockExportService), nil)

	w := doJSON(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
	assert.NotContains(t, w.Body.String(), "cache")

	w = doJSON(router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthReportsCacheState(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := utils.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	router := gin.New()
	NewHandlerManager(stubServiceManager{attempt: new(mockAttemptService), export: new(mockExportService)}, logger).
		WithCacheStatus(func() string { return "open" }).
		SetupRoutes(router, nil)

	w := doJSON(router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	decodeBody(t, w, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "open", body["cache"])
}
