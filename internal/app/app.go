package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/farmoms/internal/health"
	"github.com/vladislavdragonenkov/farmoms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/farmoms/internal/metrics"
	"github.com/vladislavdragonenkov/farmoms/internal/service/checkout"
	"github.com/vladislavdragonenkov/farmoms/internal/service/events"
	grpcsvc "github.com/vladislavdragonenkov/farmoms/internal/service/grpc"
	"github.com/vladislavdragonenkov/farmoms/internal/service/idempotency"
	"github.com/vladislavdragonenkov/farmoms/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/farmoms/internal/service/optimistic"
	"github.com/vladislavdragonenkov/farmoms/internal/service/outbox"
	"github.com/vladislavdragonenkov/farmoms/internal/service/payment"
	"github.com/vladislavdragonenkov/farmoms/internal/service/stats"
	redisstore "github.com/vladislavdragonenkov/farmoms/internal/storage/redis"
	"github.com/vladislavdragonenkov/farmoms/internal/tracing"
	"github.com/vladislavdragonenkov/farmoms/internal/version"
)

const serviceName = "farmoms"

// application — собранный граф зависимостей сервиса.
type application struct {
	cfg    Config
	logger *log.Entry

	registry *prometheus.Registry
	deps     *runtimeDependencies
	producer *kafka.Producer

	provider   *payment.Guarded
	reconciler *payment.Reconciler

	health        *healthcheck.Handler
	grpcServer    *grpc.Server
	grpcHealth    *health.Server
	httpHandler   http.Handler
	outboxWorker  *outbox.Worker
	cleanupWorker *idempotency.CleanupWorker
}

// newApplication открывает хранилища и собирает сервисы, но ничего не слушает.
func newApplication(ctx context.Context, cfg Config, logger *log.Entry) (_ *application, err error) {
	a := &application{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	orderMetrics := metrics.NewOrderMetricsWithRegisterer(a.registry)
	workerMetrics := metrics.NewWorkerMetrics(a.registry)

	a.deps, err = initRuntimeDependencies(ctx, cfg, logger.WithField("component", "storage"))
	if err != nil {
		return nil, err
	}

	a.provider, err = initPaymentProvider(cfg, orderMetrics, logger)
	if err != nil {
		return nil, err
	}

	a.producer, err = initKafkaProducer(cfg, logger)
	if err != nil {
		return nil, err
	}

	emitter := events.NewEmitter(a.deps.outboxRepo, a.deps.timelineRepo, orderMetrics, logger.WithField("component", "events"))

	updaterCfg := optimistic.DefaultConfig()
	updaterCfg.MaxAttempts = cfg.OrderUpdateMaxAttempts
	updater := optimistic.NewUpdater(a.deps.repo, updaterCfg, logger.WithField("component", "optimistic"))

	checkoutSvc := checkout.NewService(
		a.deps.inventory,
		a.deps.inventory,
		a.deps.repo,
		emitter,
		logger.WithField("component", "checkout"),
		checkout.WithMetrics(orderMetrics),
		checkout.WithDefaultCurrency(cfg.DefaultCurrency),
	)
	lifecycleSvc := lifecycle.NewService(updater, a.deps.inventory, emitter, orderMetrics,
		logger.WithField("component", "lifecycle"),
		lifecycle.WithReleaseRetry(cfg.StockReleaseAttempts, cfg.StockReleaseDelay),
	)
	a.reconciler = payment.NewReconciler(
		a.deps.repo,
		updater,
		a.provider,
		emitter,
		events.NewOutboxNotifier(a.deps.outboxRepo),
		logger.WithField("component", "payment"),
		payment.WithMetrics(orderMetrics),
	)
	statsSvc := stats.NewService(a.deps.repo, logger.WithField("component", "stats"))

	orderService := grpcsvc.NewOrderService(grpcsvc.Services{
		Checkout:    checkoutSvc,
		Lifecycle:   lifecycleSvc,
		Payments:    a.reconciler,
		Stats:       statsSvc,
		Timeline:    a.deps.timelineRepo,
		Idempotency: a.deps.idempotencyRepo,
	}, logger.WithField("layer", "grpc"))

	grpcMetrics := promgrpc.NewServerMetrics()
	a.registry.MustRegister(grpcMetrics)
	auth := grpcsvc.NewAuthenticator(cfg.JWTSecret, logger.WithField("component", "auth"))
	a.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcMetrics.UnaryServerInterceptor(),
		auth.UnaryInterceptor(),
	))
	grpcsvc.RegisterOrderServiceServer(a.grpcServer, orderService)
	grpcMetrics.InitializeMetrics(a.grpcServer)
	reflection.Register(a.grpcServer)

	a.grpcHealth = health.NewServer()
	healthpb.RegisterHealthServer(a.grpcServer, a.grpcHealth)

	a.health = healthcheck.NewHandler(version.GetVersion())
	for name, checker := range a.deps.checkers {
		a.health.RegisterChecker(name, checker)
	}
	if a.producer != nil {
		a.health.RegisterChecker("kafka", healthcheck.NewPingChecker("kafka", a.producer.Check))
		a.health.RegisterChecker("outbox", healthcheck.NewOutboxChecker(a.deps.outboxRepo, cfg.OutboxStaleAfter))

		a.outboxWorker = outbox.NewWorker(
			a.deps.outboxRepo,
			kafka.NewOutboxPublisher(a.producer, cfg.KafkaOrderTopic),
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithMetrics(workerMetrics),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(a.producer, cfg.KafkaDLQTopic)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
	} else {
		logger.Warn("kafka brokers are not configured, outbox events stay pending")
	}

	cleanupOpts := []idempotency.CleanupOption{
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithMetrics(workerMetrics),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	}
	if a.deps.redis != nil {
		cleanupOpts = append(cleanupOpts, idempotency.WithLease(
			redisstore.NewLease(a.deps.redis, "idempotency-cleanup", uuid.NewString()),
		))
	}
	a.cleanupWorker = idempotency.NewCleanupWorker(a.deps.idempotencyRepo, cleanupOpts...)

	a.httpHandler = newHTTPRouter(a.registry, a.health, a.reconciler, logger.WithField("component", "http"))
	return a, nil
}

// close освобождает Kafka и хранилища. Повторный вызов безопасен.
func (a *application) close() {
	closeKafkaProducer(a.producer, a.logger)
	a.producer = nil
	if a.deps != nil {
		if err := a.deps.close(); err != nil {
			a.logger.WithError(err).Warn("failed to close storage")
		}
	}
}

// run обслуживает gRPC и HTTP до отмены ctx или падения gRPC-сервера.
func (a *application) run(ctx context.Context) error {
	lis, err := net.Listen("tcp", a.cfg.GRPCAddr)
	if err != nil {
		return err
	}

	httpSrv, httpAddr, err := startHTTPServer(a.cfg.MetricsAddr, a.httpHandler, a.logger)
	if err != nil {
		_ = lis.Close()
		return err
	}
	a.logger.Infof("metrics: %s/metrics, health: %s/healthz", httpAddr, httpAddr)

	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	var wg sync.WaitGroup
	if a.outboxWorker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.outboxWorker.Run(workersCtx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.cleanupWorker.Run(workersCtx)
	}()

	consumer, err := startPaymentConsumer(workersCtx, a.cfg, a.reconciler, a.producer, a.logger)
	if err != nil {
		a.logger.WithError(err).Warn("payment events consumer is not started")
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("gRPC server listening on %s", lis.Addr())
		errCh <- a.grpcServer.Serve(lis)
	}()
	a.grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	a.grpcHealth.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received, stopping gRPC server")
		a.grpcHealth.Shutdown()
		a.stopGRPC()
	case serveErr = <-errCh:
		if errors.Is(serveErr, grpc.ErrServerStopped) {
			serveErr = nil
		}
	}

	shutdownHTTP(httpSrv, a.cfg.ShutdownTimeout, a.logger)
	stopKafkaConsumer(consumer, a.logger)
	stopWorkers()
	wg.Wait()
	return serveErr
}

// stopGRPC дожидается завершения активных вызовов не дольше ShutdownTimeout.
func (a *application) stopGRPC() {
	stopped := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(a.cfg.ShutdownTimeout):
		a.logger.Warn("graceful stop timed out, forcing gRPC server stop")
		a.grpcServer.Stop()
	}
}

// Run поднимает сервис заказов по конфигурации и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	base := NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger := base.WithField("component", "app")

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	a, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	logger.WithFields(log.Fields{
		"version":   version.GetVersion(),
		"storage":   cfg.StorageDriver,
		"inventory": cfg.inventoryDriver(),
		"payments":  cfg.PaymentProvider,
	}).Info("order service started")

	return a.run(ctx)
}
