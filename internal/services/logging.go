package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ServiceLogger writes the lifecycle log lines: one line per operation
// outcome, plus audit and security lines for state changes and flags
type ServiceLogger struct {
	logger *slog.Logger
}

type LogConfig struct {
	Service   string
	Component string
}

func NewServiceLogger(logger *slog.Logger, config LogConfig) *ServiceLogger {
	return &ServiceLogger{
		logger: logger.With("service", config.Service, "component", config.Component),
	}
}

func (l *ServiceLogger) Logger() *slog.Logger {
	return l.logger
}

type contextKey string

// RequestIDKey is the context key carrying the inbound request id
const RequestIDKey contextKey = "request_id"

func requestAttrs(ctx context.Context, attrs []slog.Attr) []slog.Attr {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		attrs = append(attrs, slog.String("request_id", requestID))
	}
	return attrs
}

// ===== OPERATIONS =====

// OperationLog times one service call
type OperationLog struct {
	logger    *ServiceLogger
	ctx       context.Context
	operation string
	studentID *string
	started   time.Time
}

func (l *ServiceLogger) WithOperation(ctx context.Context, operation string, studentID *string) *OperationLog {
	return &OperationLog{
		logger:    l,
		ctx:       ctx,
		operation: operation,
		studentID: studentID,
		started:   time.Now(),
	}
}

// LogResult logs the outcome. Caller mistakes log at warn, a missing
// attempt at info and everything else at error.
func (o *OperationLog) LogResult(sessionID string, err error) {
	status := operationStatus(err)
	level := slog.LevelInfo
	switch status {
	case "validation_error", "unauthorized", "conflict":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	attrs := []slog.Attr{
		slog.String("operation", o.operation),
		slog.String("student_id", stringOrAnonymous(o.studentID)),
		slog.String("session_id", sessionID),
		slog.String("status", status),
		slog.Duration("duration", time.Since(o.started)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	var validationErrors ValidationErrors
	var businessErr *BusinessRuleError
	switch {
	case errors.As(err, &validationErrors):
		fields := make([]string, 0, len(validationErrors))
		for _, fe := range validationErrors {
			fields = append(fields, fe.Field)
		}
		attrs = append(attrs, slog.Any("invalid_fields", fields))
	case errors.As(err, &businessErr):
		attrs = append(attrs, slog.String("business_rule", businessErr.Rule))
	}

	o.logger.logger.LogAttrs(o.ctx, level, o.operation+" "+status, requestAttrs(o.ctx, attrs)...)
}

func operationStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsValidation(err), IsBusinessRule(err):
		return "validation_error"
	case IsUnauthorized(err):
		return "unauthorized"
	case IsNotFound(err):
		return "not_found"
	case IsConflict(err):
		return "conflict"
	default:
		return "error"
	}
}

func stringOrAnonymous(s *string) string {
	if s == nil {
		return "anonymous"
	}
	return *s
}

// ===== AUDIT =====

type AuditEventType string

const (
	AuditEventCreate AuditEventType = "create"
	AuditEventUpdate AuditEventType = "update"
)

// AuditEvent records an attempt row being created or changing status
type AuditEvent struct {
	Type      AuditEventType
	SessionID string
	Action    string
	OldValue  interface{}
	NewValue  interface{}
	Timestamp time.Time
}

func (l *ServiceLogger) LogAuditEvent(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("event_type", string(event.Type)),
		slog.String("session_id", event.SessionID),
		slog.String("action", event.Action),
		slog.Time("timestamp", event.Timestamp),
	}
	if event.OldValue != nil {
		attrs = append(attrs, slog.Any("old_value", event.OldValue))
	}
	if event.NewValue != nil {
		attrs = append(attrs, slog.Any("new_value", event.NewValue))
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "Audit: "+event.Action+" attempt", requestAttrs(ctx, attrs)...)
}

// ===== SECURITY =====

type SecurityEventType string
type SecuritySeverity string

const (
	SecurityEventSuspiciousActivity SecurityEventType = "suspicious_activity"

	SecuritySeverityMedium SecuritySeverity = "medium"
	SecuritySeverityHigh   SecuritySeverity = "high"
)

// SecurityEvent is an abuse flag raised on an attempt
type SecurityEvent struct {
	Type        SecurityEventType
	Severity    SecuritySeverity
	StudentID   *string
	SessionID   string
	Description string
	Timestamp   time.Time
	IPAddress   string
	UserAgent   string
	Metadata    map[string]interface{}
}

// LogSecurityEvent logs at warn, or error for high severity
func (l *ServiceLogger) LogSecurityEvent(ctx context.Context, event SecurityEvent) {
	level := slog.LevelWarn
	if event.Severity == SecuritySeverityHigh {
		level = slog.LevelError
	}

	attrs := []slog.Attr{
		slog.String("security_event", string(event.Type)),
		slog.String("severity", string(event.Severity)),
		slog.String("student_id", stringOrAnonymous(event.StudentID)),
		slog.String("session_id", event.SessionID),
		slog.Time("timestamp", event.Timestamp),
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	for key, value := range event.Metadata {
		attrs = append(attrs, slog.Any(fmt.Sprintf("meta_%s", key), value))
	}

	l.logger.LogAttrs(ctx, level, "Security: "+event.Description, requestAttrs(ctx, attrs)...)
}
