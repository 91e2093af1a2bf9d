package services

import "github.com/SAP-F-2025/attempt-tracking-service/internal/models"

// AbuseThresholds are the counter values at which a reason is raised
type AbuseThresholds struct {
	Resume    int
	FocusLoss int
	CopyPaste int
}

func DefaultAbuseThresholds() AbuseThresholds {
	return AbuseThresholds{
		Resume:    5,
		FocusLoss: 10,
		CopyPaste: 5,
	}
}

// AbuseCounters is the cumulative signal state of one attempt
type AbuseCounters struct {
	ResumeCount      int  `json:"resumeCount"`
	FocusLossCount   int  `json:"focusLossCount"`
	CopyPasteCount   int  `json:"copyPasteCount"`
	DevToolsDetected bool `json:"devToolsDetected"`
}

// CountersOf reads the stored counters of an attempt
func CountersOf(attempt *models.ExamAttempt) AbuseCounters {
	return AbuseCounters{
		ResumeCount:      attempt.ResumeCount,
		FocusLossCount:   attempt.FocusLossCount,
		CopyPasteCount:   attempt.CopyPasteCount(),
		DevToolsDetected: attempt.DevToolsDetected(),
	}
}

// AbuseDecision is the evaluator output. Flag covers previously recorded
// reasons too, NewReasons only the ones not recorded yet.
type AbuseDecision struct {
	Flag       bool
	NewReasons []string
}

// EvaluateAbuse checks counters against thresholds. It has no side effects;
// recording the decision is up to the caller.
func EvaluateAbuse(counters AbuseCounters, recorded []string, thresholds AbuseThresholds) AbuseDecision {
	seen := make(map[string]bool, len(recorded))
	for _, r := range recorded {
		seen[r] = true
	}

	var triggered []string
	if counters.DevToolsDetected {
		triggered = append(triggered, models.ReasonDevToolsDetected)
	}
	if thresholds.Resume > 0 && counters.ResumeCount >= thresholds.Resume {
		triggered = append(triggered, models.ReasonExcessiveResume)
	}
	if thresholds.FocusLoss > 0 && counters.FocusLossCount >= thresholds.FocusLoss {
		triggered = append(triggered, models.ReasonExcessiveFocusLoss)
	}
	if thresholds.CopyPaste > 0 && counters.CopyPasteCount >= thresholds.CopyPaste {
		triggered = append(triggered, models.ReasonExcessiveCopyPaste)
	}

	decision := AbuseDecision{Flag: len(recorded) > 0}
	for _, reason := range triggered {
		decision.Flag = true
		if !seen[reason] {
			decision.NewReasons = append(decision.NewReasons, reason)
		}
	}
	return decision
}
