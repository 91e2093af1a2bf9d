package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/models"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/repositories"
	"github.com/xuri/excelize/v2"
)

const (
	flaggedSheetName = "Flagged Attempts"
	exportPageSize   = 500
	exportTimeLayout = "2006-01-02 15:04:05"
)

var flaggedHeaders = []string{
	"Session ID", "Form ID", "Student ID", "Assignment ID", "Interaction Type",
	"Status", "Attempt", "Resume Count", "Focus Loss Count", "Copy/Paste Count",
	"DevTools Detected", "Reasons", "Flagged At", "Started At", "Last Activity",
	"Submitted At", "Time Spent (minutes)",
}

// ExportService renders flagged attempts for reviewers
type ExportService interface {
	ExportFlaggedToExcel(ctx context.Context, formID string) ([]byte, error)
	ExportFlaggedToCSV(ctx context.Context, formID string) ([]byte, error)
}

type exportService struct {
	repo   repositories.Repository
	logger *slog.Logger
}

func NewExportService(repo repositories.Repository, logger *slog.Logger) ExportService {
	return &exportService{
		repo:   repo,
		logger: logger,
	}
}

func (s *exportService) ExportFlaggedToExcel(ctx context.Context, formID string) ([]byte, error) {
	attempts, err := s.flaggedAttempts(ctx, formID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(flaggedSheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to drop default sheet: %w", err)
	}

	// Write headers
	for i, header := range flaggedHeaders {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(flaggedSheetName, cell, header); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}

	// Write data
	for rowIndex, attempt := range attempts {
		for colIndex, value := range flaggedRow(attempt) {
			cell, err := excelize.CoordinatesToCellName(colIndex+1, rowIndex+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(flaggedSheetName, cell, value); err != nil {
				return nil, fmt.Errorf("failed to write row %d: %w", rowIndex+2, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}

	s.logger.Info("Exported flagged attempts", "form_id", formID, "format", "xlsx", "count", len(attempts))
	return buf.Bytes(), nil
}

func (s *exportService) ExportFlaggedToCSV(ctx context.Context, formID string) ([]byte, error) {
	attempts, err := s.flaggedAttempts(ctx, formID)
	if err != nil {
		return nil, err
	}

	var buf strings.Builder
	writer := csv.NewWriter(&buf)

	if err := writer.Write(flaggedHeaders); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, attempt := range attempts {
		values := flaggedRow(attempt)
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = fmt.Sprint(v)
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	s.logger.Info("Exported flagged attempts", "form_id", formID, "format", "csv", "count", len(attempts))
	return []byte(buf.String()), nil
}

// flaggedAttempts pages through every flagged attempt, optionally for one form
func (s *exportService) flaggedAttempts(ctx context.Context, formID string) ([]*models.ExamAttempt, error) {
	filters := repositories.AttemptFilters{
		FormID:      strings.TrimSpace(formID),
		FlaggedOnly: true,
		Limit:       exportPageSize,
		SortBy:      "started_at",
		SortOrder:   "asc",
	}

	var all []*models.ExamAttempt
	for {
		page, total, err := s.repo.Attempt().List(ctx, nil, filters)
		if err != nil {
			return nil, fmt.Errorf("failed to list flagged attempts: %w", err)
		}
		all = append(all, page...)
		if len(page) < exportPageSize || int64(len(all)) >= total {
			return all, nil
		}
		filters.Offset += exportPageSize
	}
}

func flaggedRow(attempt *models.ExamAttempt) []interface{} {
	var reasons string
	var flaggedAt string
	if flags := attempt.SuspiciousFlags; flags != nil {
		reasons = strings.Join(flags.Reasons, ", ")
		flaggedAt = formatTime(flags.FlaggedAt)
	}

	return []interface{}{
		attempt.SessionID,
		attempt.FormID,
		stringOrAnonymous(attempt.StudentID),
		derefString(attempt.AssignmentID),
		string(attempt.InteractionType),
		string(attempt.EffectiveStatus()),
		attempt.AttemptNumber,
		attempt.ResumeCount,
		attempt.FocusLossCount,
		attempt.CopyPasteCount(),
		strconv.FormatBool(attempt.DevToolsDetected()),
		reasons,
		flaggedAt,
		attempt.StartedAt.Format(exportTimeLayout),
		attempt.LastActivityAt.Format(exportTimeLayout),
		formatTime(attempt.SubmittedAt),
		attempt.TimeSpent / 60, // Convert seconds to minutes
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(exportTimeLayout)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
