package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const snapshotKeyPrefix = "tracker:snapshot:"

// ErrNoSnapshot is returned by Load when nothing is stored for the form
var ErrNoSnapshot = errors.New("no snapshot stored")

// ErrWriterClosed is returned by a closed debounced writer
var ErrWriterClosed = errors.New("snapshot writer closed")

// SnapshotStore persists one snapshot per form
type SnapshotStore interface {
	Load(ctx context.Context, formID string) (*Snapshot, error)
	Save(ctx context.Context, snapshot Snapshot) error
	Delete(ctx context.Context, formID string) error
}

// StoreConfig configures the badger backed store
type StoreConfig struct {
	// Dir holds the database files, ignored when InMemory is set
	Dir      string
	InMemory bool
	Logger   *slog.Logger
}

// BadgerSnapshotStore keeps snapshots in an embedded badger database
type BadgerSnapshotStore struct {
	db     *badger.DB
	logger *slog.Logger
}

func OpenBadgerSnapshotStore(cfg StoreConfig) (*BadgerSnapshotStore, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("snapshot directory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("create snapshot directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	return &BadgerSnapshotStore{db: db, logger: logger}, nil
}

func snapshotKey(formID string) []byte {
	return []byte(snapshotKeyPrefix + formID)
}

// Load returns the stored snapshot. Corrupt or outdated snapshots are
// deleted and reported as ErrNoSnapshot.
func (s *BadgerSnapshotStore) Load(ctx context.Context, formID string) (*Snapshot, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(formID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err == nil {
		err = snapshot.Validate()
		if err == nil && snapshot.FormID == formID {
			return &snapshot, nil
		}
	}

	s.logger.Warn("Discarding unreadable snapshot", "form_id", formID)
	if err := s.Delete(ctx, formID); err != nil {
		return nil, err
	}
	return nil, ErrNoSnapshot
}

func (s *BadgerSnapshotStore) Save(ctx context.Context, snapshot Snapshot) error {
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(snapshot.FormID), data)
	})
}

func (s *BadgerSnapshotStore) Delete(ctx context.Context, formID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(snapshotKey(formID))
	})
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *BadgerSnapshotStore) Close() error {
	return s.db.Close()
}

// badgerLogger adapts slog to badger's logger interface
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// ===== DEBOUNCED WRITER =====

type writeOp int

const (
	opSave writeOp = iota
	opFlush
	opDelete
	opClose
)

type writeRequest struct {
	op       writeOp
	snapshot Snapshot
	formID   string
	reply    chan error
}

// debouncedWriter funnels every store write through one goroutine. Saves
// arriving within delay of the first pending save are coalesced, so only
// the latest snapshot per form reaches the store.
type debouncedWriter struct {
	store    SnapshotStore
	delay    time.Duration
	logger   *slog.Logger
	requests chan writeRequest
	done     chan struct{}
	pending  map[string]Snapshot
}

func newDebouncedWriter(store SnapshotStore, delay time.Duration, logger *slog.Logger) *debouncedWriter {
	if delay <= 0 {
		delay = 300 * time.Millisecond
	}
	w := &debouncedWriter{
		store:    store,
		delay:    delay,
		logger:   logger,
		requests: make(chan writeRequest),
		done:     make(chan struct{}),
		pending:  make(map[string]Snapshot),
	}
	go w.run()
	return w
}

func (w *debouncedWriter) run() {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		fire = nil
	}

	for {
		select {
		case req := <-w.requests:
			switch req.op {
			case opSave:
				w.pending[req.snapshot.FormID] = req.snapshot
				if fire == nil {
					timer = time.NewTimer(w.delay)
					fire = timer.C
				}
			case opFlush:
				stopTimer()
				req.reply <- w.writePending()
			case opDelete:
				delete(w.pending, req.formID)
				req.reply <- w.store.Delete(context.Background(), req.formID)
			case opClose:
				stopTimer()
				req.reply <- w.writePending()
				return
			}
		case <-fire:
			fire = nil
			if err := w.writePending(); err != nil {
				w.logger.Warn("Failed to persist snapshot", "error", err)
			}
		}
	}
}

func (w *debouncedWriter) writePending() error {
	var firstErr error
	for formID, snapshot := range w.pending {
		if err := w.store.Save(context.Background(), snapshot); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(w.pending, formID)
	}
	return firstErr
}

func (w *debouncedWriter) send(req writeRequest) error {
	select {
	case w.requests <- req:
	case <-w.done:
		return ErrWriterClosed
	}
	if req.reply == nil {
		return nil
	}
	return <-req.reply
}

// Save queues snapshot; it reaches the store after the debounce delay
func (w *debouncedWriter) Save(snapshot Snapshot) error {
	return w.send(writeRequest{op: opSave, snapshot: snapshot})
}

// Flush writes every pending snapshot now
func (w *debouncedWriter) Flush() error {
	return w.send(writeRequest{op: opFlush, reply: make(chan error, 1)})
}

// Delete drops any pending save for formID and removes the stored snapshot
func (w *debouncedWriter) Delete(formID string) error {
	return w.send(writeRequest{op: opDelete, formID: formID, reply: make(chan error, 1)})
}

// Close flushes and stops the writer goroutine
func (w *debouncedWriter) Close() error {
	err := w.send(writeRequest{op: opClose, reply: make(chan error, 1)})
	if errors.Is(err, ErrWriterClosed) {
		return nil
	}
	return err
}
