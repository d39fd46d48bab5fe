// Command paymentdemo drives a simulated payment workflow through the span
// pipeline: each transaction produces a root span with fraud-check and
// gateway-call children, enriched and redacted on their way to the collector.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spanpipe/spanpipe"
)

const transactionCount = 15

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to pipeline config YAML")
	flag.Parse()

	cfg, err := spanpipe.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck // Best-effort flush on exit.

	registry := prometheus.NewRegistry()
	metrics := spanpipe.NewMetrics(registry)

	sink := spanpipe.NewHTTPSink(cfg.CollectorEndpoint, cfg.ExportTimeout)

	batchCfg := cfg.BatchConfig()
	batchCfg.Logger = logger
	batchCfg.Metrics = metrics
	exporter := spanpipe.NewBatchExporter(sink, batchCfg)

	tracer := spanpipe.New(
		spanpipe.WithLogger(logger),
		spanpipe.WithMetrics(metrics),
	)

	// Order matters: enrichment at start, redaction before the exporter,
	// exporter last so it only sees scrubbed spans.
	tracer.Register(spanpipe.NewEnrichProcessor())
	tracer.Register(spanpipe.NewRedactProcessor(cfg.RedactedKeys...))
	tracer.Register(spanpipe.NewPatternRedactProcessor())
	tracer.Register(exporter)

	logger.Info("payment demo starting",
		zap.String("collector", cfg.CollectorEndpoint),
		zap.Int("transactions", transactionCount))

	for i := 0; i < transactionCount; i++ {
		amount := rand.IntN(431) + 50
		processPayment(context.Background(), tracer, logger, amount, fmt.Sprintf("user_%d", i+100))
		time.Sleep(200 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := tracer.Shutdown(ctx); err != nil {
		logger.Warn("pipeline shutdown incomplete", zap.Error(err))
	}
	logger.Info("payment demo finished", zap.Int64("spans_dropped", exporter.Dropped()))
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// processPayment orchestrates one transaction under a root span.
func processPayment(ctx context.Context, tracer *spanpipe.Tracer, log *zap.Logger, amount int, userID string) {
	ctx, span := tracer.StartSpan(ctx, "process_payment",
		spanpipe.Attr("payment.amount", amount),
		spanpipe.Attr("payment.transaction_id", uuid.NewString()),
		spanpipe.Attr("user.id", userID),
	)
	defer span.End() //nolint:errcheck // Single End per span by construction.

	span.AddEvent("starting payment workflow", nil)

	score, passed := runFraudCheck(ctx, tracer, amount)
	span.SetAttribute("fraud.score", score)
	span.SetAttribute("fraud.passed", passed)

	if !passed {
		span.SetStatus(spanpipe.StatusError, "blocked by fraud check")
		log.Warn("payment blocked", zap.String("user", userID), zap.Int("amount", amount))
		return
	}

	if callGateway(ctx, tracer) {
		span.AddEvent("payment authorized", nil)
		span.SetStatus(spanpipe.StatusOK, "")
		log.Info("payment authorized", zap.String("user", userID), zap.Int("amount", amount))
	} else {
		span.SetStatus(spanpipe.StatusError, "bank rejected")
		log.Warn("gateway rejected payment", zap.String("user", userID), zap.Int("amount", amount))
	}
}

// runFraudCheck simulates the fraud-scoring service call.
func runFraudCheck(ctx context.Context, tracer *spanpipe.Tracer, amount int) (float64, bool) {
	_, span := tracer.StartSpan(ctx, "fraud_check")
	defer span.End() //nolint:errcheck // Single End per span by construction.

	time.Sleep(time.Duration(50+rand.IntN(100)) * time.Millisecond)

	score := 0.7 + rand.Float64()*0.3
	passed := amount < 450 && score > 0.75

	span.SetAttribute("fraud.model", "gpt-4-turbo")
	span.SetAttribute("fraud.score", score)
	return score, passed
}

// callGateway simulates the external payment gateway authorization.
func callGateway(ctx context.Context, tracer *spanpipe.Tracer) bool {
	_, span := tracer.StartSpan(ctx, "gateway_call")
	defer span.End() //nolint:errcheck // Single End per span by construction.

	span.AddEvent("connecting to gateway", map[string]any{"log.span_id": span.SpanID()})
	time.Sleep(time.Duration(100+rand.IntN(100)) * time.Millisecond)

	success := rand.IntN(5) != 0 // ~80% authorization rate.
	if !success {
		span.SetStatus(spanpipe.StatusError, "gateway timeout")
	}
	return success
}
