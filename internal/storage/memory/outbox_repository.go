package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

type outboxEntry struct {
	msg       domain.OutboxMessage
	status    domain.OutboxStatus
	attempts  int
	seq       int64
	createdAt time.Time
	updatedAt time.Time
}

// OutboxRepository держит события заказов в памяти процесса.
// Как и PostgreSQL-реализация, выдаёт pending-сообщения в порядке записи.
type OutboxRepository struct {
	mu      sync.RWMutex
	seq     int64
	entries map[string]*outboxEntry
	now     func() time.Time
}

// NewOutboxRepository создаёт пустое in-memory хранилище outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		entries: make(map[string]*outboxEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.EventType == "" {
		return domain.OutboxMessage{}, fmt.Errorf("%w: outbox message without event type", domain.ErrInvalidArgument)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[msg.ID]; exists {
		return domain.OutboxMessage{}, fmt.Errorf("%w: outbox message %s already enqueued", domain.ErrInvalidArgument, msg.ID)
	}
	now := r.now()
	r.seq++
	r.entries[msg.ID] = &outboxEntry{
		msg:       msg,
		status:    domain.OutboxStatusPending,
		seq:       r.seq,
		createdAt: now,
		updatedAt: now,
	}
	return msg, nil
}

func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	pending := r.collect(func(e *outboxEntry) bool { return e.status == domain.OutboxStatusPending })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, e := range r.entries {
		if e.status != domain.OutboxStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || e.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = e.createdAt
		}
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.settle(id, domain.OutboxStatusSent)
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.settle(id, domain.OutboxStatusFailed)
}

func (r *OutboxRepository) settle(id string, status domain.OutboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.status != domain.OutboxStatusPending {
		return fmt.Errorf("%w: message %s is not pending", domain.ErrOutboxPublish, id)
	}
	e.status = status
	e.attempts++
	e.updatedAt = r.now()
	return nil
}

// AllPending возвращает неопубликованные сообщения (для тестов).
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	return r.collect(func(e *outboxEntry) bool { return e.status == domain.OutboxStatusPending })
}

// ByEventType возвращает сообщения указанного типа в любом статусе.
func (r *OutboxRepository) ByEventType(eventType string) []domain.OutboxMessage {
	return r.collect(func(e *outboxEntry) bool { return e.msg.EventType == eventType })
}

func (r *OutboxRepository) collect(match func(*outboxEntry) bool) []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	selected := make([]*outboxEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if match(e) {
			selected = append(selected, e)
		}
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].seq < selected[j].seq })

	out := make([]domain.OutboxMessage, len(selected))
	for i, e := range selected {
		out[i] = e.msg
	}
	return out
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
