package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned when the service no longer knows the session
var ErrNotFound = errors.New("attempt not found")

// StartRequest mirrors the start endpoint body
type StartRequest struct {
	FormID          string    `json:"formId"`
	StudentID       *string   `json:"studentId,omitempty"`
	LRN             *string   `json:"lrn,omitempty"`
	AssignmentID    *string   `json:"assignmentId,omitempty"`
	SessionID       *string   `json:"sessionId,omitempty"`
	InteractionType string    `json:"interactionType"`
	UserInfo        *UserInfo `json:"userInfo,omitempty"`
}

// SyncRequest mirrors the sync endpoint body
type SyncRequest struct {
	CurrentQuestion   int                        `json:"currentQuestion"`
	TotalQuestions    int                        `json:"totalQuestions"`
	Answers           map[string]json.RawMessage `json:"answers"`
	UserInfo          *UserInfo                  `json:"userInfo,omitempty"`
	TimeSpent         int                        `json:"timeSpent"`
	FocusLossCount    int                        `json:"focusLossCount"`
	SuspiciousSignals *SuspiciousSignals         `json:"suspiciousSignals,omitempty"`
}

type SuspiciousSignals struct {
	DevToolsDetected bool     `json:"devToolsDetected"`
	CopyPasteCount   int      `json:"copyPasteCount"`
	Reasons          []string `json:"reasons,omitempty"`
}

// AttemptState is the part of the attempt response the tracker keeps
type AttemptState struct {
	SessionID       string    `json:"sessionId"`
	Status          string    `json:"status"`
	EffectiveStatus string    `json:"effectiveStatus"`
	AttemptNumber   int       `json:"attemptNumber"`
	ResumeCount     int       `json:"resumeCount"`
	StartedAt       time.Time `json:"startedAt"`
	TimeSpent       int       `json:"timeSpent"`
	IsSuspicious    bool      `json:"isSuspicious"`
	Resumed         bool      `json:"resumed"`
}

// Transport talks to the attempt service
type Transport interface {
	StartOrResume(ctx context.Context, req StartRequest) (*AttemptState, error)
	Sync(ctx context.Context, sessionID string, req SyncRequest) (*AttemptState, error)
}

// HTTPError is a non-2xx answer other than 404
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("attempt service returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// HTTPTransport calls the service REST routes
type HTTPTransport struct {
	baseURL string
	client  *http.Client
	token   string
}

// NewHTTPTransport targets baseURL (e.g. http://host:8080). token may be empty.
func NewHTTPTransport(baseURL, token string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v1/attempts",
		client:  client,
		token:   token,
	}
}

func (t *HTTPTransport) StartOrResume(ctx context.Context, req StartRequest) (*AttemptState, error) {
	var state AttemptState
	if err := t.do(ctx, http.MethodPost, "/start", req, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (t *HTTPTransport) Sync(ctx context.Context, sessionID string, req SyncRequest) (*AttemptState, error) {
	var state AttemptState
	if err := t.do(ctx, http.MethodPut, "/"+url.PathEscape(sessionID)+"/sync", req, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Complete reports the response created for sessionID and returns whether
// the service completed the attempt
func (t *HTTPTransport) Complete(ctx context.Context, sessionID, responseID string) (bool, error) {
	var result struct {
		Completed bool `json:"completed"`
	}
	body := map[string]string{"responseId": responseID}
	if err := t.do(ctx, http.MethodPost, "/"+url.PathEscape(sessionID)+"/complete", body, &result); err != nil {
		return false, err
	}
	return result.Completed, nil
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		var envelope struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		_ = json.Unmarshal(data, &envelope)
		return &HTTPError{StatusCode: resp.StatusCode, Code: envelope.Code, Message: envelope.Message}
	}

	envelope := struct {
		Data interface{} `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
