package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/migrations/*.sql
var embeddedMigrations embed.FS

const (
	migrationsDir = "sql/migrations"
	// Ключ advisory lock, общий для всех экземпляров сервиса и утилиты migrate.
	migrationLockID = int64(0x6661726d6f6d73)

	schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    checksum TEXT NOT NULL DEFAULT '',
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT ''`
)

var migrationNameRe = regexp.MustCompile(`^(\d+)_(\w+)\.(up|down)\.sql$`)

// ErrMigrationDrift означает, что применённая миграция отличается от встроенной в бинарник.
var ErrMigrationDrift = errors.New("applied migration differs from embedded one")

type migration struct {
	version  int64
	name     string
	up       string
	down     string
	checksum string
}

func (m migration) label() string {
	return fmt.Sprintf("%03d_%s", m.version, m.name)
}

// MigrationState — снимок состояния схемы.
type MigrationState struct {
	Current int64
	Applied int
	Pending []int64
}

// MigrateUp применяет не более steps миграций; steps=0 применяет все.
// Перед применением проверяется, что уже применённые миграции не изменились.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withMigrationLock(ctx, func(conn *sql.Conn, known []migration) error {
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}
		done := 0
		for _, m := range known {
			sum, ok := applied[m.version]
			if ok {
				if sum != "" && sum != m.checksum {
					return fmt.Errorf("%w: %s", ErrMigrationDrift, m.label())
				}
				continue
			}
			if steps > 0 && done == steps {
				break
			}
			if err := inTx(ctx, conn, m.up,
				`INSERT INTO schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
				m.version, m.name, m.checksum,
			); err != nil {
				return fmt.Errorf("apply %s: %w", m.label(), err)
			}
			done++
		}
		return nil
	})
}

// MigrateDown откатывает последние steps миграций; steps<=0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withMigrationLock(ctx, func(conn *sql.Conn, known []migration) error {
		byVersion := make(map[int64]migration, len(known))
		for _, m := range known {
			byVersion[m.version] = m
		}
		versions, err := latestApplied(ctx, conn, steps)
		if err != nil {
			return err
		}
		for _, v := range versions {
			m, ok := byVersion[v]
			if !ok {
				return fmt.Errorf("rollback version %d: no embedded migration", v)
			}
			if err := inTx(ctx, conn, m.down,
				`DELETE FROM schema_migrations WHERE version = $1`, m.version,
			); err != nil {
				return fmt.Errorf("rollback %s: %w", m.label(), err)
			}
		}
		return nil
	})
}

// MigrationState возвращает текущую версию схемы и список неприменённых миграций.
func (s *Store) MigrationState(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errStoreNotInitialized
	}
	known, err := readMigrations(embeddedMigrations)
	if err != nil {
		return MigrationState{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return MigrationState{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return MigrationState{}, fmt.Errorf("ensure schema_migrations: %w", err)
	}
	applied, err := appliedChecksums(ctx, conn)
	if err != nil {
		return MigrationState{}, err
	}

	state := MigrationState{Applied: len(applied), Pending: []int64{}}
	for v := range applied {
		state.Current = max(state.Current, v)
	}
	for _, m := range known {
		if _, ok := applied[m.version]; !ok {
			state.Pending = append(state.Pending, m.version)
		}
	}
	return state, nil
}

// withMigrationLock выполняет fn на выделенном соединении под advisory lock.
func (s *Store) withMigrationLock(ctx context.Context, fn func(*sql.Conn, []migration) error) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	known, err := readMigrations(embeddedMigrations)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _ = conn.ExecContext(unlockCtx, `SELECT pg_advisory_unlock($1)`, migrationLockID)
	}()

	if _, err := conn.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return fn(conn, known)
}

// inTx выполняет тело миграции и запись в schema_migrations одной транзакцией.
func inTx(ctx context.Context, conn *sql.Conn, body, bookkeeping string, args ...any) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update schema_migrations: %w", err)
	}
	return tx.Commit()
}

func appliedChecksums(ctx context.Context, conn *sql.Conn) (map[int64]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]string)
	for rows.Next() {
		var (
			version int64
			sum     string
		)
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[version] = sum
	}
	return applied, rows.Err()
}

func latestApplied(ctx context.Context, conn *sql.Conn, limit int) ([]int64, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT version FROM schema_migrations ORDER BY version DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("read latest migrations: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// parseMigrationName разбирает имя вида 001_init_orders.up.sql.
func parseMigrationName(file string) (version int64, name string, up bool, err error) {
	parts := migrationNameRe.FindStringSubmatch(file)
	if parts == nil {
		return 0, "", false, fmt.Errorf("unexpected migration file %q", file)
	}
	version, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, "", false, fmt.Errorf("migration version in %q: %w", file, err)
	}
	return version, parts[2], parts[3] == "up", nil
}

// readMigrations собирает пары up/down и сортирует их по версии.
func readMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*migration)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, name, up, err := parseMigrationName(entry.Name())
		if err != nil {
			return nil, err
		}
		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration %s is empty", entry.Name())
		}

		m, ok := byVersion[version]
		switch {
		case !ok:
			m = &migration{version: version, name: name}
			byVersion[version] = m
		case m.name != name:
			return nil, fmt.Errorf("version %d has two names: %s and %s", version, m.name, name)
		}
		slot := &m.down
		if up {
			slot = &m.up
		}
		if *slot != "" {
			return nil, fmt.Errorf("version %d has duplicate %s file", version, entry.Name())
		}
		*slot = body
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migrations embedded")
	}

	out := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.up == "" || m.down == "" {
			return nil, fmt.Errorf("migration %s needs both up and down files", m.label())
		}
		digest := sha256.Sum256([]byte(m.up))
		m.checksum = hex.EncodeToString(digest[:])
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}
