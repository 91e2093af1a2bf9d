package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/cache"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/events"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/models"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/repositories"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/validator"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var errDuplicateResponse = errors.New("duplicate key value violates unique constraint \"idx_exam_attempts_response_id\"")

// ===== IN-MEMORY REPOSITORY =====

// fakeRepository keeps rows in maps. Transactions are serialized by txMu,
// which stands in for the row and advisory locks, and roll back on error.
type fakeRepository struct {
	txMu sync.Mutex

	mu       sync.Mutex
	nextID   uint
	attempts map[string]*models.ExamAttempt
	signals  []*models.AttemptSignal
	students map[string]*models.Student

	failWrites error
	lockCalls  int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		attempts: make(map[string]*models.ExamAttempt),
		students: make(map[string]*models.Student),
	}
}

func (r *fakeRepository) Attempt() repositories.AttemptRepository { return fakeAttempts{r} }
func (r *fakeRepository) Signal() repositories.SignalRepository   { return fakeSignals{r} }
func (r *fakeRepository) Student() repositories.StudentRepository { return fakeStudents{r} }

func (r *fakeRepository) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	savedAttempts := make(map[string]*models.ExamAttempt, len(r.attempts))
	for k, v := range r.attempts {
		savedAttempts[k] = cloneAttempt(v)
	}
	savedSignals := len(r.signals)
	savedID := r.nextID
	r.mu.Unlock()

	if err := fn(nil); err != nil {
		r.mu.Lock()
		r.attempts = savedAttempts
		r.signals = r.signals[:savedSignals]
		r.nextID = savedID
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *fakeRepository) addStudent(student *models.Student) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.students[student.ID] = student
}

func (r *fakeRepository) stored(sessionID string) *models.ExamAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.attempts[sessionID]; ok {
		return cloneAttempt(a)
	}
	return nil
}

func (r *fakeRepository) signalReasons(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var reasons []string
	for _, s := range r.signals {
		if s.SessionID == sessionID {
			reasons = append(reasons, s.Reason)
		}
	}
	return reasons
}

func (r *fakeRepository) put(attempt *models.ExamAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if attempt.ID == 0 {
		r.nextID++
		attempt.ID = r.nextID
	}
	r.attempts[attempt.SessionID] = cloneAttempt(attempt)
}

func cloneAttempt(a *models.ExamAttempt) *models.ExamAttempt {
	data, err := json.Marshal(a)
	if err != nil {
		panic(err)
	}
	var out models.ExamAttempt
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}

type fakeAttempts struct{ r *fakeRepository }

func (f fakeAttempts) Create(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	if f.r.failWrites != nil {
		return f.r.failWrites
	}
	if _, exists := f.r.attempts[attempt.SessionID]; exists {
		return errors.New("duplicate session id")
	}
	f.r.nextID++
	attempt.ID = f.r.nextID
	attempt.CreatedAt = attempt.StartedAt
	attempt.UpdatedAt = attempt.StartedAt
	f.r.attempts[attempt.SessionID] = cloneAttempt(attempt)
	return nil
}

func (f fakeAttempts) Update(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	if f.r.failWrites != nil {
		return f.r.failWrites
	}
	if attempt.ResponseID != nil {
		for _, other := range f.r.attempts {
			if other.ID != attempt.ID && other.ResponseID != nil && *other.ResponseID == *attempt.ResponseID {
				return errDuplicateResponse
			}
		}
	}
	f.r.attempts[attempt.SessionID] = cloneAttempt(attempt)
	return nil
}

func (f fakeAttempts) GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID string) (*models.ExamAttempt, error) {
	return f.r.stored(sessionID), nil
}

func (f fakeAttempts) GetByResponseID(ctx context.Context, tx *gorm.DB, responseID string) (*models.ExamAttempt, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	for _, a := range f.r.attempts {
		if a.ResponseID != nil && *a.ResponseID == responseID {
			return cloneAttempt(a), nil
		}
	}
	return nil, nil
}

func (f fakeAttempts) LockBySessionID(ctx context.Context, tx *gorm.DB, sessionID string) (*models.ExamAttempt, error) {
	return f.r.stored(sessionID), nil
}

func (f fakeAttempts) matches(a *models.ExamAttempt, identity models.AttemptIdentity) bool {
	return a.FormID == identity.FormID &&
		sameString(a.StudentID, identity.StudentID) &&
		sameString(a.AssignmentID, identity.AssignmentID)
}

func (f fakeAttempts) GetActiveByIdentity(ctx context.Context, tx *gorm.DB, identity models.AttemptIdentity) (*models.ExamAttempt, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	var found *models.ExamAttempt
	for _, a := range f.r.attempts {
		if a.Status != models.AttemptInProgress || !f.matches(a, identity) {
			continue
		}
		if found == nil || a.LastActivityAt.After(found.LastActivityAt) {
			found = a
		}
	}
	if found == nil {
		return nil, nil
	}
	return cloneAttempt(found), nil
}

func (f fakeAttempts) CountByIdentity(ctx context.Context, tx *gorm.DB, identity models.AttemptIdentity) (int64, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	var count int64
	for _, a := range f.r.attempts {
		if f.matches(a, identity) {
			count++
		}
	}
	return count, nil
}

func (f fakeAttempts) LockIdentity(ctx context.Context, tx *gorm.DB, identity models.AttemptIdentity) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	f.r.lockCalls++
	return nil
}

func (f fakeAttempts) List(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.ExamAttempt, int64, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()

	var matched []*models.ExamAttempt
	for _, a := range f.r.attempts {
		if filters.FormID != "" && a.FormID != filters.FormID {
			continue
		}
		if filters.StudentID != nil && !sameString(a.StudentID, filters.StudentID) {
			continue
		}
		if filters.Status != nil {
			if *filters.Status == models.AttemptSuspicious {
				if a.Status != models.AttemptInProgress || !a.IsSuspicious() {
					continue
				}
			} else if a.Status != *filters.Status {
				continue
			}
		}
		if filters.FlaggedOnly && !a.IsSuspicious() {
			continue
		}
		matched = append(matched, cloneAttempt(a))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := int64(len(matched))
	start := min(filters.Offset, len(matched))
	end := len(matched)
	if filters.Limit > 0 {
		end = min(start+filters.Limit, len(matched))
	}
	return matched[start:end], total, nil
}

func (f fakeAttempts) transition(match func(a *models.ExamAttempt) bool, status models.AttemptStatus) []models.ExamAttempt {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	var moved []models.ExamAttempt
	for _, a := range f.r.attempts {
		if a.Status == models.AttemptInProgress && match(a) {
			a.Status = status
			moved = append(moved, *cloneAttempt(a))
		}
	}
	return moved
}

func (f fakeAttempts) ExpireStartedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]models.ExamAttempt, error) {
	return f.transition(func(a *models.ExamAttempt) bool { return a.StartedAt.Before(cutoff) }, models.AttemptExpired), nil
}

func (f fakeAttempts) AbandonIdleSince(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]models.ExamAttempt, error) {
	return f.transition(func(a *models.ExamAttempt) bool { return a.LastActivityAt.Before(cutoff) }, models.AttemptAbandoned), nil
}

type fakeSignals struct{ r *fakeRepository }

func (f fakeSignals) CreateBatch(ctx context.Context, tx *gorm.DB, signals []*models.AttemptSignal) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	f.r.signals = append(f.r.signals, signals...)
	return nil
}

func (f fakeSignals) ListByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.AttemptSignal, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	var out []*models.AttemptSignal
	for _, s := range f.r.signals {
		if s.AttemptID == attemptID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeStudents struct{ r *fakeRepository }

func (f fakeStudents) GetByID(ctx context.Context, id string) (*models.Student, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	return f.r.students[id], nil
}

func (f fakeStudents) GetByLRN(ctx context.Context, lrn string) (*models.Student, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	for _, s := range f.r.students {
		if s.IsActive && s.LRN != nil && *s.LRN == lrn {
			return s, nil
		}
	}
	return nil, nil
}

// ===== IN-MEMORY CACHE =====

type memoryCache struct {
	mu    sync.Mutex
	items map[string][]byte
	gets  int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: make(map[string][]byte)}
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = data
	return nil
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	data, ok := m.items[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

func (m *memoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryCache) DeletePattern(ctx context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			delete(m.items, k)
		}
	}
	return nil
}

// ===== CLOCK =====

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ===== FIXTURE =====

type serviceFixture struct {
	service   *attemptService
	repo      *fakeRepository
	cache     *memoryCache
	publisher *events.MockEventPublisher
	clock     *fakeClock
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	repo := newFakeRepository()
	backend := newMemoryCache()
	publisher := events.NewMockEventPublisher(testLogger())
	clock := newFakeClock()

	logger := NewServiceLogger(testLogger(), LogConfig{Service: "test", Component: "attempts"})
	svc := NewAttemptService(
		repo,
		cache.NewAttemptCache(backend, time.Minute, testLogger()),
		publisher,
		NewIdentityResolver(repo.Student(), testLogger()),
		validator.New(),
		logger,
		DefaultAttemptServiceConfig(),
	)

	attempts, ok := svc.(*attemptService)
	require.True(t, ok)
	attempts.now = clock.Now

	return &serviceFixture{
		service:   attempts,
		repo:      repo,
		cache:     backend,
		publisher: publisher,
		clock:     clock,
	}
}

func strPtr(s string) *string { return &s }
