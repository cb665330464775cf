package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/otp-dispatch/internal/domain"
	"github.com/kursadbilgin/otp-dispatch/internal/lock"
	"github.com/kursadbilgin/otp-dispatch/internal/queue"
	"github.com/kursadbilgin/otp-dispatch/internal/repository"
)

// memoryCodeStore applies the same conditional updates as the gorm repository.
type memoryCodeStore struct {
	mu      sync.Mutex
	records map[string]*domain.OneTimeCode
	order   []string

	deleteExpiredFn func(ctx context.Context, now time.Time) (int64, error)
	// beforeIncrementFn runs ahead of the conditional increment, standing in
	// for a concurrent verifier that touches the record first.
	beforeIncrementFn func(c *domain.OneTimeCode)
}

func newMemoryCodeStore() *memoryCodeStore {
	return &memoryCodeStore{records: make(map[string]*domain.OneTimeCode)}
}

func sameScope(c *domain.OneTimeCode, scope domain.CodeScope) bool {
	return c.Identifier == scope.Identifier && c.Channel == scope.Channel && c.Purpose == scope.Purpose
}

func (s *memoryCodeStore) Create(ctx context.Context, c *domain.OneTimeCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *c
	s.records[c.ID] = &copied
	s.order = append(s.order, c.ID)
	return nil
}

func (s *memoryCodeStore) GetByID(ctx context.Context, id string) (*domain.OneTimeCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (s *memoryCodeStore) FindLatestUnused(ctx context.Context, scope domain.CodeScope) (*domain.OneTimeCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		c, ok := s.records[s.order[i]]
		if !ok || c.IsUsed || !sameScope(c, scope) {
			continue
		}
		copied := *c
		return &copied, nil
	}
	return nil, domain.ErrNotFound
}

func (s *memoryCodeStore) IncrementAttempts(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.records[id]
	if ok && s.beforeIncrementFn != nil {
		s.beforeIncrementFn(c)
	}
	if !ok || c.IsUsed || c.Attempts >= c.MaxAttempts {
		return domain.ErrConflict
	}
	c.Attempts++
	c.UpdatedAt = now
	return nil
}

func (s *memoryCodeStore) MarkUsed(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.records[id]
	if !ok || c.IsUsed {
		return domain.ErrConflict
	}
	c.IsUsed = true
	c.UsedAt = &now
	c.UpdatedAt = now
	return nil
}

func (s *memoryCodeStore) DeleteUnused(ctx context.Context, scope domain.CodeScope) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, c := range s.records {
		if !c.IsUsed && sameScope(c, scope) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memoryCodeStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if s.deleteExpiredFn != nil {
		return s.deleteExpiredFn(ctx, now)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, c := range s.records {
		if !c.ExpiresAt.After(now) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memoryCodeStore) Stats(ctx context.Context, now time.Time) (domain.OTPStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats domain.OTPStats
	for _, c := range s.records {
		stats.Total++
		switch {
		case c.IsUsed:
			stats.Used++
		case !c.ExpiresAt.After(now):
			stats.Expired++
		default:
			stats.Active++
		}
	}
	return stats, nil
}

func (s *memoryCodeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *memoryCodeStore) get(id string) *domain.OneTimeCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.records[id]
	if !ok {
		return nil
	}
	copied := *c
	return &copied
}

// memoryNotificationStore keeps notifications in insertion order.
type memoryNotificationStore struct {
	mu      sync.Mutex
	records map[string]*domain.Notification
	order   []string

	createFn      func(ctx context.Context, n *domain.Notification) error
	markRetriedFn func(ctx context.Context, id string, now time.Time) error
}

func newMemoryNotificationStore() *memoryNotificationStore {
	return &memoryNotificationStore{records: make(map[string]*domain.Notification)}
}

func (s *memoryNotificationStore) Create(ctx context.Context, n *domain.Notification) error {
	if s.createFn != nil {
		if err := s.createFn(ctx, n); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *n
	s.records[n.ID] = &copied
	s.order = append(s.order, n.ID)
	return nil
}

func (s *memoryNotificationStore) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *n
	return &copied, nil
}

func (s *memoryNotificationStore) Complete(ctx context.Context, id string, status domain.Status, errorMessage *string, sentAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.records[id]
	if !ok || n.Status != domain.StatusPending {
		return domain.ErrConflict
	}
	n.Status = status
	n.ErrorMessage = errorMessage
	n.SentAt = sentAt
	return nil
}

func (s *memoryNotificationStore) MarkRetried(ctx context.Context, id string, now time.Time) error {
	if s.markRetriedFn != nil {
		return s.markRetriedFn(ctx, id, now)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.records[id]
	if !ok || n.Status != domain.StatusFailed {
		return domain.ErrConflict
	}
	n.Status = domain.StatusSent
	n.SentAt = &now
	n.ErrorMessage = nil
	return nil
}

func (s *memoryNotificationStore) ListFailed(ctx context.Context, after *repository.FailedCursor, limit int) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	failed := make([]domain.Notification, 0)
	for _, id := range s.order {
		n := s.records[id]
		if n.Status == domain.StatusFailed {
			failed = append(failed, *n)
		}
	}
	sort.SliceStable(failed, func(i, j int) bool {
		if failed[i].CreatedAt.Equal(failed[j].CreatedAt) {
			return failed[i].ID < failed[j].ID
		}
		return failed[i].CreatedAt.Before(failed[j].CreatedAt)
	})

	out := make([]domain.Notification, 0, limit)
	for _, n := range failed {
		if after != nil {
			if n.CreatedAt.Before(after.CreatedAt) {
				continue
			}
			if n.CreatedAt.Equal(after.CreatedAt) && n.ID <= after.ID {
				continue
			}
		}
		out = append(out, n)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memoryNotificationStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Notification, 0)
	for i := len(s.order) - 1; i >= 0; i-- {
		n := s.records[s.order[i]]
		if n.UserID != nil && *n.UserID == userID {
			out = append(out, *n)
		}
	}
	if offset >= len(out) {
		return []domain.Notification{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryNotificationStore) CountByStatus(ctx context.Context, userID *string) ([]repository.StatusCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.Status]int64)
	for _, n := range s.records {
		if userID != nil && (n.UserID == nil || *n.UserID != *userID) {
			continue
		}
		counts[n.Status]++
	}
	out := make([]repository.StatusCount, 0, len(counts))
	for status, count := range counts {
		out = append(out, repository.StatusCount{Status: status, Count: count})
	}
	return out, nil
}

func (s *memoryNotificationStore) get(id string) *domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.records[id]
	if !ok {
		return nil
	}
	copied := *n
	return &copied
}

type memoryAttemptStore struct {
	mu       sync.Mutex
	attempts []domain.NotificationAttempt
}

func (s *memoryAttemptStore) Create(ctx context.Context, a *domain.NotificationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, *a)
	return nil
}

func (s *memoryAttemptStore) NextAttemptNumber(ctx context.Context, notificationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	highest := 0
	for _, a := range s.attempts {
		if a.NotificationID == notificationID && a.AttemptNumber > highest {
			highest = a.AttemptNumber
		}
	}
	return highest + 1, nil
}

func (s *memoryAttemptStore) ListByNotification(ctx context.Context, notificationID string) ([]domain.NotificationAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.NotificationAttempt, 0)
	for _, a := range s.attempts {
		if a.NotificationID == notificationID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeProvider struct {
	notificationType domain.NotificationType
	sendFn           func(ctx context.Context, recipient, subject, message string, metadata domain.Metadata) (bool, error)
}

func (f *fakeProvider) Type() domain.NotificationType {
	return f.notificationType
}

func (f *fakeProvider) Send(ctx context.Context, recipient, subject, message string, metadata domain.Metadata) (bool, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, recipient, subject, message, metadata)
	}
	return true, nil
}

type fakeSender struct {
	sendFn func(ctx context.Context, req domain.SendRequest) (*domain.Notification, error)
}

func (f *fakeSender) Send(ctx context.Context, req domain.SendRequest) (*domain.Notification, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, req)
	}
	return &domain.Notification{ID: "n-1", Type: req.Type, Status: domain.StatusSent}, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, notificationType domain.NotificationType) (bool, error)
	waitFn  func(ctx context.Context, notificationType domain.NotificationType) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, notificationType domain.NotificationType) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, notificationType)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, notificationType domain.NotificationType) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, notificationType)
	}
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error {
	return nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired []string

	acquireFn func(ctx context.Context, key string, ttl time.Duration) (lock.ReleaseFunc, error)
}

func (f *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.ReleaseFunc, error) {
	if f.acquireFn != nil {
		return f.acquireFn(ctx, key, ttl)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held == nil {
		f.held = make(map[string]bool)
	}
	if f.held[key] {
		return nil, lock.ErrNotAcquired
	}
	f.held[key] = true
	f.acquired = append(f.acquired, key)
	return func(ctx context.Context) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
		return nil
	}, nil
}

// fixedClock is a settable time source.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(now time.Time) *fixedClock {
	return &fixedClock{now: now}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%03d", prefix, n)
	}
}
