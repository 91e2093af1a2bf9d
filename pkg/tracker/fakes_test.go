package tracker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memoryStore struct {
	mu        sync.Mutex
	snapshots map[string]Snapshot
	saves     int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{snapshots: make(map[string]Snapshot)}
}

func (m *memoryStore) Load(ctx context.Context, formID string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[formID]
	if !ok {
		return nil, ErrNoSnapshot
	}
	out := snap.clone()
	return &out, nil
}

func (m *memoryStore) Save(ctx context.Context, snapshot Snapshot) error {
	if err := snapshot.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.snapshots[snapshot.FormID] = snapshot.clone()
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, formID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, formID)
	return nil
}

func (m *memoryStore) get(formID string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[formID]
	return snap, ok
}

type syncCall struct {
	sessionID string
	req       SyncRequest
}

// fakeTransport hands out sequential sessions. syncErrs are returned in
// order before falling back to success; gate, when set, blocks every sync
// until a value is received.
type fakeTransport struct {
	mu       sync.Mutex
	starts   []StartRequest
	syncs    []syncCall
	sessions int
	syncErrs []error
	gate     chan struct{}
	inFlight chan struct{}
}

func (f *fakeTransport) StartOrResume(ctx context.Context, req StartRequest) (*AttemptState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, req)
	if req.SessionID != nil {
		return &AttemptState{SessionID: *req.SessionID, AttemptNumber: 1, ResumeCount: 1, Resumed: true, Status: "IN_PROGRESS"}, nil
	}
	f.sessions++
	return &AttemptState{
		SessionID:     fmt.Sprintf("session_1741597200000_fake%08d", f.sessions),
		AttemptNumber: f.sessions,
		StartedAt:     time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		Status:        "IN_PROGRESS",
	}, nil
}

func (f *fakeTransport) Sync(ctx context.Context, sessionID string, req SyncRequest) (*AttemptState, error) {
	if f.inFlight != nil {
		f.inFlight <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs = append(f.syncs, syncCall{sessionID: sessionID, req: req})
	if len(f.syncErrs) > 0 {
		err := f.syncErrs[0]
		f.syncErrs = f.syncErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &AttemptState{SessionID: sessionID, AttemptNumber: 1, Status: "IN_PROGRESS"}, nil
}

func (f *fakeTransport) syncCalls() []syncCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]syncCall(nil), f.syncs...)
}

func (f *fakeTransport) startCalls() []StartRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StartRequest(nil), f.starts...)
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
