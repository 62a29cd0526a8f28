package health

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

// OutboxChecker помечает сервис degraded, если самое старое неопубликованное
// событие ждёт дольше staleAfter. Недоступный outbox делает сервис unhealthy.
type OutboxChecker struct {
	stats      func(ctx context.Context) (domain.OutboxStats, error)
	staleAfter time.Duration
	now        func() time.Time
}

func NewOutboxChecker(repo domain.OutboxRepository, staleAfter time.Duration) *OutboxChecker {
	return &OutboxChecker{
		stats:      repo.Stats,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

func (c *OutboxChecker) Check(ctx context.Context) Check {
	started := c.now()
	stats, err := c.stats(ctx)
	check := Check{
		Name:       "outbox",
		Status:     StatusHealthy,
		DurationMs: c.now().Sub(started).Milliseconds(),
	}

	switch {
	case err != nil:
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	case stats.PendingCount == 0 || stats.OldestPendingAt.IsZero():
	default:
		if age := c.now().Sub(stats.OldestPendingAt); c.staleAfter > 0 && age > c.staleAfter {
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("%d pending events, oldest waits %s", stats.PendingCount, age.Round(time.Second))
		}
	}
	return check
}
