// Package server assembles the full HTTP handler from configuration.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/clave-auth/clave/internal/cache"
	cachemem "github.com/clave-auth/clave/internal/cache/memory"
	cacheredis "github.com/clave-auth/clave/internal/cache/redis"
	"github.com/clave-auth/clave/internal/config"
	"github.com/clave-auth/clave/internal/events"
	httpx "github.com/clave-auth/clave/internal/http"
	oauthctrl "github.com/clave-auth/clave/internal/http/controllers/oauth"
	"github.com/clave-auth/clave/internal/http/router"
	oauthsvc "github.com/clave-auth/clave/internal/http/services/oauth"
	jwtx "github.com/clave-auth/clave/internal/jwt"
	"github.com/clave-auth/clave/internal/observability/logger"
	"github.com/clave-auth/clave/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Build wires storage, cache, event bus, issuer, services and controllers
// into a handler. The returned cleanup closes everything in reverse order.
func Build(ctx context.Context, cfg *config.Config) (http.Handler, func() error, error) {
	log := logger.Named("wiring")

	// W3C trace context rides on event envelopes; install the propagator so
	// the injection actually produces traceparent headers.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	st, closeStore, err := store.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: %w", err)
	}

	sessions := buildCache(cfg)

	bus, closeBus, err := buildBus(cfg)
	if err != nil {
		_ = closeStore()
		return nil, nil, fmt.Errorf("events: %w", err)
	}

	issuer, err := jwtx.NewIssuer(cfg.Issuer, []byte(cfg.JWT.Secret))
	if err != nil {
		closeBus()
		_ = closeStore()
		return nil, nil, fmt.Errorf("jwt: %w", err)
	}

	services := oauthsvc.NewServices(oauthsvc.Deps{
		Store:  st,
		Issuer: issuer,
		Config: cfg,
		Bus:    bus,
	})
	controllers := oauthctrl.NewControllers(services, sessions, issuer)

	metricsHandler, err := httpx.RegisterMetrics(httpx.MetricsConfig{
		DroppedEvents: bus.Dropped,
	})
	if err != nil {
		closeBus()
		_ = closeStore()
		return nil, nil, fmt.Errorf("metrics: %w", err)
	}

	handler := router.New(router.Deps{
		Controllers:    controllers,
		Storage:        st,
		RateEnabled:    cfg.Rate.Enabled,
		RatePerSec:     cfg.Rate.PerSec,
		RateBurst:      cfg.Rate.Burst,
		MetricsHandler: metricsHandler,
	})

	log.Info("server wired",
		logger.String("storage", cfg.Storage.Driver),
		logger.String("cache", cfg.Cache.Kind),
		logger.String("events_sink", cfg.Events.Sink),
	)

	cleanup := func() error {
		closeBus()
		return closeStore()
	}
	return handler, cleanup, nil
}

func buildCache(cfg *config.Config) cache.Cache {
	switch cfg.Cache.Kind {
	case "redis":
		return cacheredis.New(cfg.Cache.Redis.Addr, cfg.Cache.Redis.DB)
	default:
		ttl := 30 * time.Minute
		if d, err := time.ParseDuration(cfg.Cache.Memory.DefaultTTL); err == nil && d > 0 {
			ttl = d
		}
		return cachemem.New(ttl)
	}
}

func buildBus(cfg *config.Config) (*events.Bus, func(), error) {
	var filter events.Filter
	switch cfg.Events.FilterMode {
	case "include":
		filter = events.Include(cfg.Events.Types...)
	case "exclude":
		filter = events.Exclude(cfg.Events.Types...)
	default:
		filter = events.AllowAll()
	}

	var sinks []events.Sink
	var closers []func()
	switch cfg.Events.Sink {
	case "none":
	case "rabbit":
		rs, err := events.ConnectRabbit(cfg.Events.Rabbit.URL, cfg.Events.Rabbit.Exchange, cfg.Events.Rabbit.RoutingKey)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, rs)
		closers = append(closers, func() { _ = rs.Close() })
	default:
		sinks = append(sinks, events.NewLoggerSink())
	}

	bus := events.NewBus(filter, cfg.Events.Buffer, sinks...)
	closeAll := func() {
		bus.Close()
		for _, c := range closers {
			c()
		}
	}
	return bus, closeAll, nil
}
