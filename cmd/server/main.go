// Command server exposes the checkout engine over HTTP.
package main

import (
	stdcontext "context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/yourorg/travel-orchestrator/internal/adapter"
	"github.com/yourorg/travel-orchestrator/internal/cancellation"
	"github.com/yourorg/travel-orchestrator/internal/catalog"
	"github.com/yourorg/travel-orchestrator/internal/config"
	"github.com/yourorg/travel-orchestrator/internal/context"
	"github.com/yourorg/travel-orchestrator/internal/events"
	"github.com/yourorg/travel-orchestrator/internal/logging"
	"github.com/yourorg/travel-orchestrator/internal/metrics"
	"github.com/yourorg/travel-orchestrator/internal/orchestrator"
	"github.com/yourorg/travel-orchestrator/internal/payment"
	"github.com/yourorg/travel-orchestrator/internal/planbuilder"
	"github.com/yourorg/travel-orchestrator/internal/policy"
	"github.com/yourorg/travel-orchestrator/internal/processor"
	"github.com/yourorg/travel-orchestrator/internal/reporting"
	"github.com/yourorg/travel-orchestrator/internal/router"
	"github.com/yourorg/travel-orchestrator/internal/router/circuitbreaker"
	"github.com/yourorg/travel-orchestrator/internal/store"
	"github.com/yourorg/travel-orchestrator/internal/wire"
	"github.com/yourorg/travel-orchestrator/internal/wire/rest"
	"github.com/yourorg/travel-orchestrator/internal/wire/soap"
)

const (
	serviceName  = "travel-orchestrator"
	retryBackoff = 200 * time.Millisecond
)

// app is the wired engine plus everything that has to be closed on shutdown.
type app struct {
	logger   *zap.Logger
	registry *prometheus.Registry
	checkout checkoutService
	cancel   cancelService
	closers  []func(stdcontext.Context) error
}

func (a *app) close(ctx stdcontext.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
}

func newApp(ctx stdcontext.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{logger: logger, registry: prometheus.NewRegistry()}
	ready := false
	defer func() {
		if !ready {
			a.close(ctx)
		}
	}()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	if cfg.Tracing.Enabled {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("tracing exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		a.closers = append(a.closers, tp.Shutdown)
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(stdcontext.Context) error { return st.Close() })

	publisher, err := events.Open(cfg.Events, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(stdcontext.Context) error { return publisher.Close() })

	rp, err := policy.FromConfig(cfg.Retry, retryBackoff)
	if err != nil {
		return nil, err
	}
	providerHTTP := &http.Client{Timeout: cfg.Providers.Timeout()}
	proc := processor.NewProcessor(
		[]wire.Client{rest.New(providerHTTP, cfg.Providers.MaxMessageBytes), soap.New(providerHTTP, cfg.Providers.MaxMessageBytes)},
		rp, m, logger,
		processor.Config{
			ReadAttempts:         cfg.Providers.ReadAttempts,
			CompensationAttempts: cfg.Checkout.CompensationAttempts,
			RateLimit:            cfg.Providers.RateLimit,
			RateBurst:            cfg.Providers.RateBurst,
		})
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     time.Duration(cfg.Breaker.ResetTimeoutMs) * time.Millisecond,
	})
	connectors := adapter.NewDefaultRegistry(router.NewRouter(proc, breaker, logger), adapter.Options{
		Logger:         logger,
		CancelCacheTTL: time.Duration(cfg.Providers.CancelCacheTTL) * time.Second,
	})
	resolver := catalog.NewResolver(st, catalog.ConfigSecrets(cfg.Providers.Credentials), logger)
	bank := payment.New(cfg.Bank.URI, &http.Client{Timeout: cfg.Bank.Timeout()}, m, logger)

	vat := decimal.NewFromFloat(cfg.Checkout.VATRate)
	a.checkout = orchestrator.NewOrchestrator(orchestrator.Deps{
		Resolver:   resolver,
		Connectors: connectors,
		Payments:   bank,
		Store:      st,
		Publisher:  publisher,
		Contexts: context.NewContextBuilder(context.CheckoutConfig{
			PlatformAccount: cfg.Bank.PlatformAccount,
			HoldTTL:         cfg.Checkout.HoldTTL(),
			VATRate:         vat,
		}),
		Plans:    planbuilder.NewPlanBuilder(planbuilder.NewInclusiveVAT(vat), m),
		Reporter: reporting.NewReporter(),
		Metrics:  m,
		Logger:   logger,
	}, orchestrator.Config{
		Workers:              cfg.Checkout.Workers,
		CompensationAttempts: cfg.Checkout.CompensationAttempts,
		CompensationBackoff:  cfg.Checkout.CompensationBackoff(),
		VerifyBalance:        cfg.Checkout.VerifyBalance,
	})
	a.cancel = cancellation.NewCoordinator(cancellation.Deps{
		Store:      st,
		Resolver:   resolver,
		Connectors: connectors,
		Payments:   bank,
		Publisher:  publisher,
		Metrics:    m,
		Logger:     logger,
	}, cancellation.Config{
		PlatformAccount: cfg.Bank.PlatformAccount,
		Attempts:        cfg.Checkout.CompensationAttempts,
		Backoff:         cfg.Checkout.CompensationBackoff(),
	})
	ready = true
	return a, nil
}

// openStore returns the memory store seeded from the catalog section, or a
// SQL store with the configured services upserted.
func openStore(ctx stdcontext.Context, cfg *config.Config, logger *zap.Logger) (store.Repository, error) {
	if cfg.Store.Driver == "memory" {
		repo, err := catalog.FromConfig(cfg.Catalog)
		if err != nil {
			return nil, err
		}
		return store.NewMemory(repo), nil
	}

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, logger)
	if err != nil {
		return nil, err
	}
	for _, sc := range cfg.Catalog.Services {
		entry, descriptors, err := catalog.ServiceFromConfig(sc)
		if err == nil {
			err = st.SaveService(ctx, entry, descriptors...)
		}
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("seed catalog: %w", err)
		}
	}
	return st, nil
}

func run(ctx stdcontext.Context) error {
	cfg, err := config.Load(config.Path(os.Getenv))
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           corsHandler.Handler(setupRouter(a)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		logger.Info("shutting down")
	}
	shutdownCtx, cancel := stdcontext.WithTimeout(stdcontext.Background(), 30*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http shutdown", zap.Error(serr))
	}
	a.close(shutdownCtx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}
