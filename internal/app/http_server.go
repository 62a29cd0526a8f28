package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/farmoms/internal/health"
)

const (
	// maxWebhookBody ограничивает тело webhook-запроса.
	maxWebhookBody    = 1 << 20
	signatureHeader   = "Stripe-Signature"
	readHeaderTimeout = 5 * time.Second
)

// WebhookHandler обрабатывает подписанное событие платёжного провайдера.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// newHTTPRouter собирает HTTP-роуты: webhook провайдера, метрики и health-пробы.
func newHTTPRouter(gatherer prometheus.Gatherer, healthHandler *healthcheck.Handler, webhooks WebhookHandler, logger *log.Entry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Method(http.MethodGet, "/healthz", healthHandler)
	r.Get("/readyz", healthHandler.ReadinessHandler)
	r.Get("/livez", healthcheck.LivenessHandler)

	if webhooks != nil {
		r.Post("/webhooks/payments", paymentWebhookHandler(webhooks, logger))
	}
	return r
}

// paymentWebhookHandler отвечает 400 на неверную подпись, 500 на ошибку обработки
// (провайдер повторит доставку) и 200 в остальных случаях.
func paymentWebhookHandler(webhooks WebhookHandler, logger *log.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
			return
		}

		err = webhooks.HandleWebhook(r.Context(), payload, r.Header.Get(signatureHeader))
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		case errors.Is(err, domain.ErrInvalidSignature):
			logger.WithField("request_id", middleware.GetReqID(r.Context())).Warn("webhook signature rejected")
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		case errors.Is(err, domain.ErrInvalidArgument):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		default:
			logger.WithError(err).WithField("request_id", middleware.GetReqID(r.Context())).Error("webhook processing failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "webhook processing failed"})
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// startHTTPServer слушает addr и возвращает сервер вместе с фактическим адресом.
func startHTTPServer(addr string, handler http.Handler, logger *log.Entry) (*http.Server, net.Addr, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		logger.WithField("addr", lis.Addr().String()).Info("http server listening")
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("http server failed")
		}
	}()
	return srv, lis.Addr(), nil
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
