package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nathanyu/matching-engine/internal/config"
	"github.com/nathanyu/matching-engine/internal/handler"
	"github.com/nathanyu/matching-engine/internal/marketdata"
	"github.com/nathanyu/matching-engine/internal/middleware"
	"github.com/nathanyu/matching-engine/internal/ordermanager"
	"github.com/nathanyu/matching-engine/internal/sequencer"
	"github.com/nathanyu/matching-engine/internal/stream"
	"github.com/nathanyu/matching-engine/internal/telemetry"
)

const serviceName = "matching-engine"

func main() {
	cfg := config.Load()

	telemetry.InitLogger(serviceName)
	slog.Info("starting matching engine")

	cleanup, err := telemetry.InitTracer(serviceName, cfg.OTLP.Endpoint, cfg.Environment)
	if err != nil {
		slog.Error("tracer init failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// --- Core components ---

	// Sequencer (per-instrument shards, each owning a matching engine)
	seq := sequencer.NewSequencer(cfg.ChannelBuffer)

	// Order manager (validation, order registry)
	manager := ordermanager.NewManager(seq)

	// Market data publisher (candlesticks, trade log)
	publisher := marketdata.NewPublisher(cfg.ChannelBuffer)
	publisher.Start()

	// Optional NATS sink for trade events
	var natsPub *stream.Publisher
	if cfg.NATS.URL != "" {
		natsPub, err = stream.NewPublisher(cfg.NATS.URL)
		if err != nil {
			slog.Error("NATS connect failed", "url", cfg.NATS.URL, "error", err)
			os.Exit(1)
		}
		defer natsPub.Close()
	}

	// Fan out trade events from the sequencer to the market data
	// publisher and the external sink.
	go func() {
		for event := range seq.TradeOut {
			select {
			case publisher.TradeIn <- event:
			default:
				slog.Warn("market data channel full, dropping event", "symbol", event.Symbol)
			}
			if natsPub != nil {
				if err := natsPub.PublishTradeEvent(event); err != nil {
					slog.Warn("trade event publish failed", "symbol", event.Symbol, "error", err)
				}
			}
		}
	}()

	// --- HTTP Server ---

	r := gin.Default()
	r.Use(middleware.PrometheusMiddleware())
	r.Use(middleware.Tracing())

	h := handler.NewHandler(manager, seq, publisher, cfg.DefaultDepth)
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// --- Metrics Server ---

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		slog.Info("metrics server listening", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
			os.Exit(1)
		}
	}()

	go func() {
		slog.Info("HTTP server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	// --- Graceful shutdown ---

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown error", "error", err)
	}

	seq.Stop()
	publisher.Stop()

	slog.Info("matching engine stopped")
}
