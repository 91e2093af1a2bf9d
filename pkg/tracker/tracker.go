// Package tracker is the client side of attempt tracking. It keeps a local
// snapshot of the taker's progress, re-attaches to the server attempt on
// start and syncs the latest state periodically.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ReasonShortcutBlocked is reported when a blocked non-clipboard shortcut is pressed
const ReasonShortcutBlocked = "shortcut_blocked"

// Config identifies the taker and tunes the loops
type Config struct {
	FormID          string
	InteractionType string
	StudentID       string
	LRN             string
	AssignmentID    string

	// SyncInterval is the periodic sync period, default 5s
	SyncInterval time.Duration
	// BlurDebounce is the shortest hidden period counted as a focus loss, default 500ms
	BlurDebounce time.Duration
	// SnapshotDebounce coalesces snapshot writes, default 300ms
	SnapshotDebounce time.Duration

	Logger *slog.Logger
}

// Submission performs the caller's final submission for sessionID
type Submission func(ctx context.Context, sessionID string) error

// Tracker owns the local attempt state of one form
type Tracker struct {
	cfg       Config
	transport Transport
	store     SnapshotStore
	writer    *debouncedWriter
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.Mutex
	snap        Snapshot
	elapsedBase time.Duration
	anchor      time.Time
	hiddenAt    time.Time
	pending     bool
	paused      bool
	syncing     bool
	dirty       bool
	submitted   bool

	// Set while the periodic loop runs, guarded by mu
	stopLoop chan struct{}
	loopDone chan struct{}
}

func New(cfg Config, transport Transport, store SnapshotStore) (*Tracker, error) {
	if strings.TrimSpace(cfg.FormID) == "" {
		return nil, errors.New("form id is required")
	}
	if cfg.InteractionType == "" {
		return nil, errors.New("interaction type is required")
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 5 * time.Second
	}
	if cfg.BlurDebounce <= 0 {
		cfg.BlurDebounce = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "attempt_tracker", "form_id", cfg.FormID)

	return &Tracker{
		cfg:       cfg,
		transport: transport,
		store:     store,
		writer:    newDebouncedWriter(store, cfg.SnapshotDebounce, logger),
		logger:    logger,
		now:       time.Now,
		snap: Snapshot{
			SchemaVersion: SnapshotSchemaVersion,
			FormID:        cfg.FormID,
		},
	}, nil
}

// Start restores the local snapshot, starts or resumes the server attempt,
// sends any progress queued before the session existed and starts the
// periodic sync loop.
func (t *Tracker) Start(ctx context.Context) error {
	restored, err := t.store.Load(ctx, t.cfg.FormID)
	switch {
	case err == nil:
		t.mu.Lock()
		t.restoreLocked(*restored)
		t.mu.Unlock()
		t.logger.Info("Restored attempt snapshot", "session_id", restored.SessionID)
	case errors.Is(err, ErrNoSnapshot):
	default:
		t.logger.Warn("Failed to load snapshot, starting fresh", "error", err)
	}

	t.mu.Lock()
	t.anchor = t.now()
	sessionID := t.snap.SessionID
	t.mu.Unlock()

	if err := t.attach(ctx, sessionID); err != nil {
		return err
	}

	t.mu.Lock()
	flushPending := t.pending
	t.pending = false
	t.mu.Unlock()
	if flushPending {
		if err := t.Sync(ctx); err != nil {
			t.logger.Warn("Failed to send queued progress", "error", err)
		}
	}

	t.mu.Lock()
	if t.stopLoop != nil {
		t.mu.Unlock()
		return nil
	}
	stop, done := make(chan struct{}), make(chan struct{})
	t.stopLoop, t.loopDone = stop, done
	t.mu.Unlock()

	go t.loop(ctx, stop, done)
	return nil
}

// restoreLocked adopts a stored snapshot. Progress recorded locally before
// Start is newer than the stored one, so only the session and the
// monotonic counters are taken over in that case.
func (t *Tracker) restoreLocked(snapshot Snapshot) {
	t.elapsedBase = time.Duration(snapshot.ElapsedSeconds) * time.Second
	if t.snap.UpdatedAt.IsZero() {
		t.snap = snapshot.clone()
		return
	}
	t.snap.SessionID = snapshot.SessionID
	t.snap.StartedAt = snapshot.StartedAt
	t.snap.AttemptNumber = snapshot.AttemptNumber
	t.snap.ResumeCount = snapshot.ResumeCount
	t.snap.FocusLossCount = max(t.snap.FocusLossCount, snapshot.FocusLossCount)
	t.snap.CopyPasteCount = max(t.snap.CopyPasteCount, snapshot.CopyPasteCount)
	t.snap.DevToolsDetected = t.snap.DevToolsDetected || snapshot.DevToolsDetected
	for _, reason := range snapshot.Reasons {
		t.snap.addReason(reason)
	}
}

// attach calls start-or-resume and adopts the returned session
func (t *Tracker) attach(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	req := StartRequest{
		FormID:          t.cfg.FormID,
		StudentID:       optional(t.cfg.StudentID),
		LRN:             optional(t.cfg.LRN),
		AssignmentID:    optional(t.cfg.AssignmentID),
		SessionID:       optional(sessionID),
		InteractionType: t.cfg.InteractionType,
		UserInfo:        t.snap.UserInfo,
	}
	t.mu.Unlock()

	state, err := t.transport.StartOrResume(ctx, req)
	if err != nil {
		return fmt.Errorf("start attempt: %w", err)
	}

	t.mu.Lock()
	if t.snap.SessionID != state.SessionID {
		t.logger.Info("Attached to attempt", "session_id", state.SessionID, "resumed", state.Resumed)
	}
	t.snap.SessionID = state.SessionID
	t.snap.AttemptNumber = state.AttemptNumber
	t.snap.ResumeCount = state.ResumeCount
	if t.snap.StartedAt.IsZero() || state.Resumed {
		t.snap.StartedAt = state.StartedAt
	}
	if server := time.Duration(state.TimeSpent) * time.Second; server > t.elapsedLocked() {
		t.elapsedBase += server - t.elapsedLocked()
	}
	t.touchLocked()
	t.mu.Unlock()
	return nil
}

func (t *Tracker) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := t.Sync(ctx); err != nil {
				t.logger.Warn("Periodic sync failed", "error", err)
			}
		}
	}
}

// Sync sends the latest state. While a sync is in flight further calls
// only mark the state dirty; the in-flight call sends once more when done.
// Before a session exists the progress is queued as one pending payload.
func (t *Tracker) Sync(ctx context.Context) error {
	t.mu.Lock()
	if t.snap.SessionID == "" {
		t.pending = true
		t.mu.Unlock()
		return nil
	}
	if t.paused {
		t.mu.Unlock()
		return nil
	}
	if t.syncing {
		t.dirty = true
		t.mu.Unlock()
		return nil
	}
	t.syncing = true
	sessionID, req := t.snap.SessionID, t.syncRequestLocked()
	t.mu.Unlock()

	retried := false
	for {
		state, err := t.transport.Sync(ctx, sessionID, req)
		if errors.Is(err, ErrNotFound) && !retried {
			retried = true
			t.logger.Warn("Session unknown to the service, starting again", "session_id", sessionID)
			if err = t.attach(ctx, ""); err == nil {
				t.mu.Lock()
				sessionID, req = t.snap.SessionID, t.syncRequestLocked()
				t.mu.Unlock()
				continue
			}
		}

		t.mu.Lock()
		if err == nil {
			t.snap.ResumeCount = state.ResumeCount
			t.snap.AttemptNumber = state.AttemptNumber
			if t.dirty && !t.paused {
				t.dirty = false
				sessionID, req = t.snap.SessionID, t.syncRequestLocked()
				t.mu.Unlock()
				continue
			}
		}
		t.syncing = false
		t.dirty = false
		t.mu.Unlock()
		return err
	}
}

func (t *Tracker) syncRequestLocked() SyncRequest {
	snap := t.snap.clone()
	// The server keeps its answers when the field is missing, so an empty
	// set is sent as {} to clear them
	if snap.Answers == nil {
		snap.Answers = map[string]json.RawMessage{}
	}
	req := SyncRequest{
		CurrentQuestion: snap.CurrentQuestionIndex,
		TotalQuestions:  snap.TotalQuestions,
		Answers:         snap.Answers,
		UserInfo:        snap.UserInfo,
		TimeSpent:       int(t.elapsedLocked() / time.Second),
		FocusLossCount:  snap.FocusLossCount,
	}
	if snap.DevToolsDetected || snap.CopyPasteCount > 0 || len(snap.Reasons) > 0 {
		req.SuspiciousSignals = &SuspiciousSignals{
			DevToolsDetected: snap.DevToolsDetected,
			CopyPasteCount:   snap.CopyPasteCount,
			Reasons:          snap.Reasons,
		}
	}
	return req
}

// elapsedLocked is the restored elapsed time plus the monotonic time since Start
func (t *Tracker) elapsedLocked() time.Duration {
	if t.anchor.IsZero() {
		return t.elapsedBase
	}
	return t.elapsedBase + t.now().Sub(t.anchor)
}

// touchLocked refreshes derived fields and queues a snapshot write
func (t *Tracker) touchLocked() {
	if t.submitted {
		return
	}
	t.snap.ElapsedSeconds = int(t.elapsedLocked() / time.Second)
	t.snap.UpdatedAt = t.now()
	if err := t.writer.Save(t.snap.clone()); err != nil {
		t.logger.Debug("Snapshot not queued", "error", err)
	}
}

func (t *Tracker) markChangedLocked() {
	if t.snap.SessionID == "" {
		t.pending = true
	}
	t.touchLocked()
}

// ===== PROGRESS =====

// UpdateProgress replaces the current position and the answer set. The
// answers are copied, so the caller may keep mutating its map.
func (t *Tracker) UpdateProgress(currentIndex, total int, answers map[string]json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.CurrentQuestionIndex = max(currentIndex, 0)
	t.snap.TotalQuestions = max(total, 0)
	t.snap.Answers = Snapshot{Answers: answers}.clone().Answers
	t.markChangedLocked()
}

func (t *Tracker) SetUserInfo(info UserInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.UserInfo = &info
	t.markChangedLocked()
}

// ===== SIGNALS =====

// WindowHidden marks the start of a hidden period
func (t *Tracker) WindowHidden() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hiddenAt.IsZero() {
		t.hiddenAt = t.now()
	}
}

// WindowVisible ends a hidden period. Only periods longer than the blur
// debounce count as a focus loss.
func (t *Tracker) WindowVisible() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hiddenAt.IsZero() {
		return
	}
	hidden := t.now().Sub(t.hiddenAt)
	t.hiddenAt = time.Time{}
	if hidden > t.cfg.BlurDebounce {
		t.snap.FocusLossCount++
		t.markChangedLocked()
	}
}

func (t *Tracker) RecordCopyPaste() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.CopyPasteCount++
	t.markChangedLocked()
}

func (t *Tracker) RecordDevTools() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.DevToolsDetected {
		return
	}
	t.snap.DevToolsDetected = true
	t.markChangedLocked()
}

var clipboardShortcuts = map[string]bool{
	"ctrl+c": true, "ctrl+v": true, "ctrl+x": true,
	"cmd+c": true, "cmd+v": true, "cmd+x": true,
	"meta+c": true, "meta+v": true, "meta+x": true,
	"shift+insert": true, "ctrl+insert": true,
}

// RecordShortcutBlocked counts clipboard shortcuts as copy/paste and
// records any other blocked shortcut as a reason
func (t *Tracker) RecordShortcutBlocked(shortcut string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if clipboardShortcuts[strings.ToLower(strings.ReplaceAll(shortcut, " ", ""))] {
		t.snap.CopyPasteCount++
		t.markChangedLocked()
		return
	}
	if t.snap.addReason(ReasonShortcutBlocked) {
		t.markChangedLocked()
	}
}

// ===== LIFECYCLE =====

// Snapshot returns a copy of the current local state
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.snap.clone()
	snap.ElapsedSeconds = int(t.elapsedLocked() / time.Second)
	return snap
}

// Submit pauses syncing and runs submit. On success the loop stops and the
// snapshot is deleted; on failure syncing resumes and the snapshot is kept.
func (t *Tracker) Submit(ctx context.Context, submit Submission) error {
	t.mu.Lock()
	sessionID := t.snap.SessionID
	if sessionID == "" {
		t.mu.Unlock()
		return errors.New("no attempt session to submit")
	}
	t.paused = true
	t.mu.Unlock()

	if err := submit(ctx, sessionID); err != nil {
		t.mu.Lock()
		t.paused = false
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.submitted = true
	t.mu.Unlock()

	t.stop()
	if err := t.writer.Delete(t.cfg.FormID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Stop ends the sync loop and persists the latest snapshot
func (t *Tracker) Stop() error {
	t.stop()
	t.mu.Lock()
	t.touchLocked()
	t.mu.Unlock()
	return t.writer.Flush()
}

// stop halts the periodic loop if one runs. A later Start runs a new one.
func (t *Tracker) stop() {
	t.mu.Lock()
	stop, done := t.stopLoop, t.loopDone
	t.stopLoop, t.loopDone = nil, nil
	t.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Close stops the tracker and its snapshot writer
func (t *Tracker) Close() error {
	t.stop()
	return t.writer.Close()
}

func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}
