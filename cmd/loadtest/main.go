// Command loadtest нагружает OrderService сценариями оформления корзины.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/farmoms/internal/service/grpc"
)

const (
	idempotencyHeader = "idempotency-key"
	envJWTSecret      = "FARMOMS_JWT_SECRET"
	scenarioMetric    = "scenario"
	tokenTTL          = time.Hour
)

type loadMode string

const (
	modeCheckout       loadMode = "checkout"
	modeCheckoutPay    loadMode = "checkout-pay"
	modeCheckoutCancel loadMode = "checkout-cancel"
)

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	products    []string
	qty         int
	buyerTag    string
	jwtSecret   string
	outputPath  string
}

// orderClient перечисляет методы OrderService, которые вызывает нагрузка.
type orderClient interface {
	Checkout(ctx context.Context, in *grpcsvc.CheckoutRequest, opts ...grpc.CallOption) (*grpcsvc.CheckoutResponse, error)
	CreatePaymentIntent(ctx context.Context, in *grpcsvc.CreatePaymentIntentRequest, opts ...grpc.CallOption) (*grpcsvc.CreatePaymentIntentResponse, error)
	CancelOrder(ctx context.Context, in *grpcsvc.CancelOrderRequest, opts ...grpc.CallOption) (*grpcsvc.OrderResponse, error)
}

type latencySummary struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	StdDev float64 `json:"stddev"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	OrdersCreated     int64                   `json:"orders_created"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

// collector накапливает результаты вызовов из всех воркеров.
type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
	orders  int64
}

func newCollector() *collector {
	return &collector{methods: make(map[string]*methodStats)}
}

func (c *collector) record(method string, latency time.Duration, code codes.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.methods[method]
	if m == nil {
		m = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = m
	}
	if code == codes.OK {
		m.success++
	} else {
		m.failed++
	}
	m.codes[code.String()]++
	m.latencies = append(m.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) addOrders(n int) {
	c.mu.Lock()
	c.orders += int64(n)
	c.mu.Unlock()
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		OrdersCreated:   c.orders,
		Methods:         make(map[string]methodReport, len(c.methods)),
	}
	for name, m := range c.methods {
		calls := m.success + m.failed
		mr := methodReport{
			Calls:     calls,
			Success:   m.success,
			Failed:    m.failed,
			ErrorRate: ratio(m.failed, calls),
			Codes:     maps.Clone(m.codes),
			LatencyMs: buildLatencySummary(m.latencies),
		}
		if name == scenarioMetric {
			result.TotalScenarios = mr.Calls
			result.FailedScenarios = mr.Failed
			result.ErrorRate = mr.ErrorRate
			result.ScenarioLatencyMs = mr.LatencyMs
			continue
		}
		result.Methods[name] = mr
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}
	return result
}

func parseConfig(args []string, getenv func(string) string, output io.Writer) (config, error) {
	var (
		cfg         config
		modeValue   string
		productsRaw string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios; with -duration only a cap when set explicitly")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 20, "number of gRPC client connections")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&modeValue, "mode", string(modeCheckout), "load mode: checkout | checkout-pay | checkout-cancel")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "percent of checkout-pay scenarios that cancel afterwards (0..100)")
	fs.StringVar(&productsRaw, "products", "", "comma-separated product ids placed in every cart")
	fs.IntVar(&cfg.qty, "qty", 1, "quantity of each product")
	fs.StringVar(&cfg.buyerTag, "buyer-tag", "load", "buyer id prefix")
	fs.StringVar(&cfg.jwtSecret, "jwt-secret", "", "HS256 secret for buyer tokens (fallback: "+envJWTSecret+")")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	cfg.mode = loadMode(strings.TrimSpace(modeValue))
	for _, id := range strings.Split(productsRaw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.products = append(cfg.products, id)
		}
	}
	if strings.TrimSpace(cfg.jwtSecret) == "" {
		cfg.jwtSecret = strings.TrimSpace(getenv(envJWTSecret))
	}

	var errs []error
	switch cfg.mode {
	case modeCheckout, modeCheckoutPay, modeCheckoutCancel:
	default:
		errs = append(errs, fmt.Errorf("unsupported mode: %s", modeValue))
	}
	if cfg.duration < 0 {
		errs = append(errs, errors.New("duration must be >= 0"))
	}
	if (cfg.duration == 0 || cfg.totalSet) && cfg.total <= 0 {
		errs = append(errs, errors.New("total must be > 0"))
	}
	if cfg.concurrency <= 0 || cfg.connections <= 0 {
		errs = append(errs, errors.New("concurrency and connections must be > 0"))
	}
	if cfg.timeout <= 0 {
		errs = append(errs, errors.New("timeout must be > 0"))
	}
	if cfg.cancelRate < 0 || cfg.cancelRate > 100 {
		errs = append(errs, errors.New("cancel-rate must be between 0 and 100"))
	}
	if len(cfg.products) == 0 {
		errs = append(errs, errors.New("at least one product id is required (-products)"))
	}
	if cfg.qty <= 0 || cfg.qty > math.MaxInt32 {
		errs = append(errs, errors.New("qty must be a positive int32"))
	}
	if strings.TrimSpace(cfg.buyerTag) == "" {
		errs = append(errs, errors.New("buyer-tag is required"))
	}
	if cfg.jwtSecret == "" {
		errs = append(errs, errors.New("jwt secret is required (-jwt-secret or "+envJWTSecret+")"))
	}
	return cfg, errors.Join(errs...)
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	clients := make([]orderClient, 0, cfg.connections)
	for i := 0; i < cfg.connections; i++ {
		conn, dialErr := grpc.NewClient(cfg.addr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpcsvc.WithJSONCodec(),
		)
		if dialErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", dialErr)
			os.Exit(1)
		}
		defer conn.Close()
		clients = append(clients, grpcsvc.NewOrderServiceClient(conn))
	}

	result := runLoad(context.Background(), cfg, clients)
	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// runLoad раздаёт сценарии воркерам и собирает отчёт.
func runLoad(ctx context.Context, cfg config, clients []orderClient) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func(client orderClient) {
			defer wg.Done()
			for id := range jobs {
				_ = runScenario(ctx, client, cfg, id, runID, col)
			}
		}(clients[workerID%len(clients)])
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()
	return col.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()
	for i := 0; !cfg.totalSet || i < cfg.total; i++ {
		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// scenarioCaller выполняет вызовы одного сценария от имени одного покупателя.
type scenarioCaller struct {
	client  orderClient
	timeout time.Duration
	token   string
	col     *collector
}

func (s scenarioCaller) call(ctx context.Context, method, key string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+s.token, idempotencyHeader, key)

	err := fn(ctx)
	s.col.record(method, time.Since(start), status.Code(err))
	return err
}

func runScenario(ctx context.Context, client orderClient, cfg config, index int, runID string, col *collector) (err error) {
	start := time.Now()
	defer func() { col.record(scenarioMetric, time.Since(start), status.Code(err)) }()

	buyer := domain.Actor{ID: fmt.Sprintf("%s-%s-%d", cfg.buyerTag, runID, index), Role: domain.RoleBuyer}
	token, err := grpcsvc.SignToken(cfg.jwtSecret, buyer, tokenTTL)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	caller := scenarioCaller{client: client, timeout: cfg.timeout, token: token, col: col}

	items := make([]grpcsvc.CartItem, 0, len(cfg.products))
	for _, productID := range cfg.products {
		items = append(items, grpcsvc.CartItem{ProductID: productID, Quantity: int32(cfg.qty)})
	}

	var orders []grpcsvc.Order
	err = caller.call(ctx, "Checkout", fmt.Sprintf("lt-checkout-%s-%d", runID, index), func(ctx context.Context) error {
		resp, err := client.Checkout(ctx, &grpcsvc.CheckoutRequest{
			Items:           items,
			ShippingAddress: grpcsvc.Address{Street: "1 Farm Road", City: "Springfield", State: "IL", ZipCode: "62701", Phone: "+15550100"},
			PaymentMethod:   paymentMethod(cfg.mode),
			Notes:           "load test",
		})
		if err != nil {
			return err
		}
		orders = resp.Orders
		if len(resp.FailedSellers) > 0 {
			return status.Errorf(codes.Internal, "%d seller groups failed", len(resp.FailedSellers))
		}
		return nil
	})
	col.addOrders(len(orders))
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return status.Error(codes.Internal, "checkout returned no orders")
	}
	if cfg.mode == modeCheckout {
		return nil
	}

	for _, order := range orders {
		if cfg.mode == modeCheckoutPay {
			err = caller.call(ctx, "CreatePaymentIntent", "lt-pay-"+order.ID, func(ctx context.Context) error {
				_, err := client.CreatePaymentIntent(ctx, &grpcsvc.CreatePaymentIntentRequest{OrderID: order.ID})
				return err
			})
			if err != nil {
				return err
			}
		}
		if cfg.mode == modeCheckoutCancel || shouldCancelScenario(index, cfg.cancelRate) {
			err = caller.call(ctx, "CancelOrder", "lt-cancel-"+order.ID, func(ctx context.Context) error {
				_, err := client.CancelOrder(ctx, &grpcsvc.CancelOrderRequest{OrderID: order.ID, Reason: "load test"})
				return err
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func paymentMethod(mode loadMode) string {
	if mode == modeCheckoutPay {
		return string(domain.PaymentMethodCard)
	}
	return string(domain.PaymentMethodCashOnDelivery)
}

func shouldCancelScenario(index, cancelRate int) bool {
	return cancelRate > 0 && index%100 < cancelRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь отчёта задаёт оператор через флаг.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s run=%s scenarios=%d failed=%d orders=%d error_rate=%.4f\n",
		cfg.mode, runTarget(cfg), result.TotalScenarios, result.FailedScenarios, result.OrdersCreated, result.ErrorRate)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	l := result.ScenarioLatencyMs
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f stddev=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		l.Min, l.Avg, l.StdDev, l.P50, l.P95, l.P99, l.Max)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := result.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, m.Calls, m.Failed, m.ErrorRate, m.LatencyMs.P95)
	}
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return fmt.Sprintf("count:%d", cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return fmt.Sprintf("duration:%s", cfg.duration)
	}
}

// buildLatencySummary считает перцентили методом nearest rank: значение всегда
// одно из измеренных.
func buildLatencySummary(values []float64) latencySummary {
	data := stats.Float64Data(values)
	if data.Len() == 0 {
		return latencySummary{}
	}
	var out latencySummary
	out.Min, _ = data.Min()
	out.Max, _ = data.Max()
	out.Avg, _ = data.Mean()
	out.StdDev, _ = data.StandardDeviation()
	out.P50, _ = data.PercentileNearestRank(50)
	out.P95, _ = data.PercentileNearestRank(95)
	out.P99, _ = data.PercentileNearestRank(99)
	return out
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
