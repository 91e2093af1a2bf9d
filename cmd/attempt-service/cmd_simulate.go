package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/SAP-F-2025/attempt-tracking-service/pkg/tracker"
	"github.com/spf13/cobra"
)

type simulateOptions struct {
	formID          string
	interactionType string
	studentID       string
	lrn             string
	assignmentID    string
	questions       int
	step            time.Duration
	blurEvery       int
	responseID      string
}

var simOpts simulateOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive a client tracker through one attempt against a running service",
	Long: `simulate answers the questions of one form in order, syncing progress
the way a browser client does. Interrupt it and run it again with the same
form to resume from the local snapshot.`,
	RunE: runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simOpts.formID, "form", "", "form id (required)")
	f.StringVar(&simOpts.interactionType, "type", "PRACTICE_QUIZ", "interaction type")
	f.StringVar(&simOpts.studentID, "student", "", "student id")
	f.StringVar(&simOpts.lrn, "lrn", "", "learner reference number")
	f.StringVar(&simOpts.assignmentID, "assignment", "", "assignment id")
	f.IntVar(&simOpts.questions, "questions", 5, "number of questions to answer")
	f.DurationVar(&simOpts.step, "step", 2*time.Second, "time spent per question")
	f.IntVar(&simOpts.blurEvery, "blur-every", 0, "leave the window after every n-th question, 0 never")
	f.StringVar(&simOpts.responseID, "response-id", "", "submit with this response id when done")
	_ = simulateCmd.MarkFlagRequired("form")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if simOpts.questions <= 0 {
		return errors.New("--questions must be positive")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := tracker.OpenBadgerSnapshotStore(tracker.StoreConfig{
		Dir:    filepath.Join(cfg.Tracker.StateDir, "snapshots"),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	transport := tracker.NewHTTPTransport(cfg.Tracker.BaseURL, cfg.Tracker.Token, nil)
	tr, err := tracker.New(tracker.Config{
		FormID:           simOpts.formID,
		InteractionType:  simOpts.interactionType,
		StudentID:        simOpts.studentID,
		LRN:              simOpts.lrn,
		AssignmentID:     simOpts.assignmentID,
		SyncInterval:     cfg.Tracker.SyncInterval,
		BlurDebounce:     cfg.Tracker.BlurDebounce,
		SnapshotDebounce: cfg.Tracker.SnapshotDebounce,
		Logger:           logger,
	}, transport, store)
	if err != nil {
		return err
	}
	defer tr.Close()

	if err := tr.Start(ctx); err != nil {
		return fmt.Errorf("start attempt: %w", err)
	}

	snap := tr.Snapshot()
	answers := snap.Answers
	if answers == nil {
		answers = map[string]json.RawMessage{}
	}
	logger.Info("Attempt attached",
		"session_id", snap.SessionID,
		"attempt_number", snap.AttemptNumber,
		"resume_from", snap.CurrentQuestionIndex)

	for i := snap.CurrentQuestionIndex; i < simOpts.questions; i++ {
		select {
		case <-ctx.Done():
			logger.Info("Interrupted, progress kept for the next run")
			return tr.Stop()
		case <-time.After(simOpts.step):
		}

		answers[fmt.Sprintf("q%d", i+1)] = json.RawMessage(fmt.Sprintf(`{"choice":%d}`, i%4))
		tr.UpdateProgress(i+1, simOpts.questions, answers)

		if simOpts.blurEvery > 0 && (i+1)%simOpts.blurEvery == 0 {
			tr.WindowHidden()
			time.Sleep(2 * cfg.Tracker.BlurDebounce)
			tr.WindowVisible()
		}
	}

	if err := tr.Sync(ctx); err != nil {
		logger.Warn("Final sync failed", "error", err)
	}

	if simOpts.responseID != "" {
		err := tr.Submit(ctx, func(ctx context.Context, sessionID string) error {
			completed, err := transport.Complete(ctx, sessionID, simOpts.responseID)
			if err != nil {
				return err
			}
			logger.Info("Attempt submitted", "session_id", sessionID, "completed", completed)
			return nil
		})
		if err != nil {
			return fmt.Errorf("submit: %w", err)
		}
	} else if err := tr.Stop(); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(tr.Snapshot())
}
