package app

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/farmoms/internal/health"
	"github.com/vladislavdragonenkov/farmoms/internal/storage/memory"
	mongostore "github.com/vladislavdragonenkov/farmoms/internal/storage/mongo"
	"github.com/vladislavdragonenkov/farmoms/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/farmoms/internal/storage/redis"
)

// inventoryStore объединяет каталог и складской учёт в одном хранилище.
type inventoryStore interface {
	domain.Catalog
	domain.InventoryLedger
}

// runtimeDependencies держит хранилища, выбранные конфигурацией, и их health-проверки.
type runtimeDependencies struct {
	repo            domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	inventory       inventoryStore
	// redis задан, только если каталог хранится в Redis; через него реплики делят фоновые задачи.
	redis goredis.UniversalClient

	checkers map[string]healthcheck.Checker
	closers  []func() error
}

func (d *runtimeDependencies) addChecker(name string, ping func(context.Context) error) {
	if d.checkers == nil {
		d.checkers = make(map[string]healthcheck.Checker)
	}
	d.checkers[name] = healthcheck.NewPingChecker(name, ping)
}

// close закрывает подключения в обратном порядке открытия.
func (d *runtimeDependencies) close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// initRuntimeDependencies открывает хранилище заказов и хранилище каталога.
// При ошибке уже открытые подключения закрываются.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (deps *runtimeDependencies, err error) {
	deps = &runtimeDependencies{}
	defer func() {
		if err != nil {
			_ = deps.close()
			deps = nil
		}
	}()

	var pgStore *postgres.Store
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		deps.repo = memory.NewOrderRepository()
		deps.outboxRepo = memory.NewOutboxRepository()
		deps.timelineRepo = memory.NewTimelineRepository()
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		logger.Info("using in-memory order storage")
	case StorageDriverPostgres:
		pgStore, err = openPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, pgStore.Close)
		deps.addChecker("postgres", pgStore.Ping)

		deps.repo = postgres.NewOrderRepository(pgStore)
		deps.outboxRepo = postgres.NewOutboxRepository(pgStore)
		deps.timelineRepo = postgres.NewTimelineRepository(pgStore)
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(pgStore)
		logger.Info("using postgres order storage")
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	deps.inventory, err = initInventory(ctx, cfg, pgStore, deps, logger)
	if err != nil {
		return nil, err
	}
	return deps, nil
}

func openPostgres(ctx context.Context, cfg Config, logger *log.Entry) (*postgres.Store, error) {
	if cfg.PostgresDSN == "" {
		return nil, errors.New("postgres dsn is required")
	}
	store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithMaxOpenConns(cfg.PostgresMaxConns))
	if err != nil {
		return nil, err
	}
	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}
	return store, nil
}

func initInventory(ctx context.Context, cfg Config, pgStore *postgres.Store, deps *runtimeDependencies, logger *log.Entry) (inventoryStore, error) {
	driver := cfg.inventoryDriver()
	logger = logger.WithField("inventory_driver", driver)

	switch driver {
	case InventoryDriverMemory:
		logger.Info("using in-memory catalog")
		return memory.NewInventory(), nil

	case InventoryDriverPostgres:
		if pgStore == nil {
			store, err := openPostgres(ctx, cfg, logger)
			if err != nil {
				return nil, err
			}
			deps.closers = append(deps.closers, store.Close)
			deps.addChecker("postgres", store.Ping)
			pgStore = store
		}
		logger.Info("using postgres catalog")
		return postgres.NewInventory(pgStore), nil

	case InventoryDriverRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		deps.closers = append(deps.closers, client.Close)
		deps.redis = client
		inv := redisstore.NewInventory(client)
		deps.addChecker("redis", inv.Ping)
		logger.WithField("addr", cfg.RedisAddr).Info("using redis inventory")
		return inv, nil

	case InventoryDriverMongo:
		db, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, func() error {
			return db.Client().Disconnect(context.Background())
		})
		inv := mongostore.NewInventory(db)
		deps.addChecker("mongo", inv.Ping)
		logger.WithField("database", cfg.MongoDatabase).Info("using mongodb inventory")
		return inv, nil

	default:
		return nil, fmt.Errorf("unsupported inventory driver %q", cfg.InventoryDriver)
	}
}
