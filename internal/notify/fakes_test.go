package notify

import (
	"context"
	"sync"
	"time"
)

// fakeHistoryStore is an in-memory HistoryStore double used by the
// router/retry/digest/ingestor tests, avoiding a real Postgres connection
// the same way the teacher's tests favor an in-memory double for the
// Repository interface over standing up a database.
type fakeHistoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func newFakeHistoryStore() *fakeHistoryStore {
	return &fakeHistoryStore{records: make(map[string]*Record)}
}

func (f *fakeHistoryStore) Create(ctx context.Context, r *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.records {
		if existing.IdempotencyKey == r.IdempotencyKey {
			return ErrConflict
		}
	}
	cp := *r
	f.records[r.ID] = &cp
	return nil
}

func (f *fakeHistoryStore) GetByIdempotencyKey(ctx context.Context, key string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.IdempotencyKey == key {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeHistoryStore) GetByID(ctx context.Context, id string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeHistoryStore) transition(id string, to Status, mutate func(*Record)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return ErrNotFound
	}
	if !ValidateTransition(r.Status, to) {
		return errIllegalTransition
	}
	mutate(r)
	r.Status = to
	r.UpdatedAt = time.Now()
	return nil
}

func (f *fakeHistoryStore) UpdateForRetry(ctx context.Context, id string, nextAttemptAt time.Time, attemptCount int, lastError string) error {
	return f.transition(id, StatusRetrying, func(r *Record) {
		r.NextAttemptAt = &nextAttemptAt
		r.AttemptCount = attemptCount
		r.LastError = lastError
	})
}

func (f *fakeHistoryStore) MarkSent(ctx context.Context, id, providerMsgID string) error {
	return f.transition(id, StatusSent, func(r *Record) {
		r.ProviderMsgID = providerMsgID
		r.SentAt = Ptr(time.Now())
	})
}

func (f *fakeHistoryStore) MarkDelivered(ctx context.Context, id string) error {
	return f.transition(id, StatusDelivered, func(r *Record) {
		r.DeliveredAt = Ptr(time.Now())
	})
}

func (f *fakeHistoryStore) MarkFailed(ctx context.Context, id, reason string) error {
	return f.transition(id, StatusFailed, func(r *Record) {
		r.LastError = reason
	})
}

func (f *fakeHistoryStore) MarkRateLimited(ctx context.Context, id string) error {
	return f.transition(id, StatusRateLimited, func(r *Record) {})
}

func (f *fakeHistoryStore) GetDueRetries(ctx context.Context, limit int) ([]*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Record
	now := time.Now()
	for _, r := range f.records {
		if r.Status == StatusRetrying && r.NextAttemptAt != nil && !r.NextAttemptAt.After(now) {
			cp := *r
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeHistoryStore) Close() error { return nil }

var errIllegalTransition = &transitionError{}

type transitionError struct{}

func (*transitionError) Error() string { return "notify: illegal status transition" }

// fakeDLQStore is an in-memory DLQStore double.
type fakeDLQStore struct {
	mu      sync.Mutex
	entries []DLQEntry
	failMove bool
}

func newFakeDLQStore() *fakeDLQStore {
	return &fakeDLQStore{}
}

func (f *fakeDLQStore) Move(ctx context.Context, entry DLQEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMove {
		return errDLQWriteFailed
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeDLQStore) List(ctx context.Context, limit, offset int) ([]DLQEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DLQEntry(nil), f.entries...), nil
}

func (f *fakeDLQStore) MarkReviewed(ctx context.Context, id, reviewedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.entries {
		if f.entries[i].ID == id {
			f.entries[i].Reviewed = true
			f.entries[i].ReviewedBy = reviewedBy
			return nil
		}
	}
	return ErrNotFound
}

func (f *fakeDLQStore) Depth(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if !e.Reviewed {
			n++
		}
	}
	return n, nil
}

func (f *fakeDLQStore) Close() error { return nil }

var errDLQWriteFailed = &dlqWriteError{}

type dlqWriteError struct{}

func (*dlqWriteError) Error() string { return "notify: dlq write failed" }

// fakePreferencesStore is an in-memory PreferencesStore double.
type fakePreferencesStore struct {
	mu    sync.Mutex
	byUser map[string]*Preferences
}

func newFakePreferencesStore() *fakePreferencesStore {
	return &fakePreferencesStore{byUser: make(map[string]*Preferences)}
}

func (f *fakePreferencesStore) GetOrCreate(ctx context.Context, userID string) (*Preferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.byUser[userID]; ok {
		return p, nil
	}
	p := defaultPreferences(userID)
	f.byUser[userID] = p
	return p, nil
}

func (f *fakePreferencesStore) Save(ctx context.Context, prefs *Preferences) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byUser[prefs.UserID] = prefs
	return nil
}

func (f *fakePreferencesStore) RegisterDevice(ctx context.Context, userID string, d Device) error {
	prefs, _ := f.GetOrCreate(ctx, userID)
	prefs.RegisterDevice(d)
	return f.Save(ctx, prefs)
}

func (f *fakePreferencesStore) SetBudgetOverride(ctx context.Context, userID string, channel Channel, override BudgetOverride) error {
	prefs, _ := f.GetOrCreate(ctx, userID)
	if prefs.BudgetOverrides == nil {
		prefs.BudgetOverrides = make(map[Channel]BudgetOverride)
	}
	prefs.BudgetOverrides[channel] = override
	return f.Save(ctx, prefs)
}

func (f *fakePreferencesStore) Close() error { return nil }

// fakeSender is a scriptable ChannelSender double.
type fakeSender struct {
	mu       sync.Mutex
	channel  Channel
	result   SendResult
	requests []*SendRequest
}

func newFakeSender(ch Channel, result SendResult) *fakeSender {
	return &fakeSender{channel: ch, result: result}
}

func (s *fakeSender) Send(ctx context.Context, req *SendRequest) SendResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.result
}

func (s *fakeSender) Channel() Channel { return s.channel }

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// fakeUserEnumerator is an in-memory UserEnumerator double.
type fakeUserEnumerator struct {
	ids []string
}

func (f *fakeUserEnumerator) ActiveUserIDs(ctx context.Context) ([]string, error) {
	return f.ids, nil
}
