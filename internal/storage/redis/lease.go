package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const leasePrefix = "farmoms:lease:"

// Владелец продлевает свою аренду; чужую аренду не трогаем, пока она не истечёт.
var acquireLeaseScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
if not cur then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return 1
end
return 0
`)

var releaseLeaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Lease закрепляет фоновую задачу за одной репликой, чтобы её выполняла одна реплика сервиса.
type Lease struct {
	client goredis.UniversalClient
	key    string
	owner  string
}

// NewLease создаёт аренду задачи name от имени owner (обычно уникальный id процесса).
func NewLease(client goredis.UniversalClient, name, owner string) *Lease {
	return &Lease{client: client, key: leasePrefix + name, owner: owner}
}

// TryAcquire берёт или продлевает аренду на ttl. false означает, что задачу держит другая реплика.
func (l *Lease) TryAcquire(ctx context.Context, ttl time.Duration) (bool, error) {
	got, err := acquireLeaseScript.Run(ctx, l.client, []string{l.key}, l.owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	return got == 1, nil
}

// Release отпускает аренду, если она ещё принадлежит этому владельцу.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseLeaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}
