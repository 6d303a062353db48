// Package router wires the protocol endpoints onto a chi router.
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	httpx "github.com/clave-auth/clave/internal/http"
	oauthctrl "github.com/clave-auth/clave/internal/http/controllers/oauth"
	mw "github.com/clave-auth/clave/internal/http/middlewares"
	"github.com/clave-auth/clave/internal/store/core"
)

// Deps contains everything the router needs.
type Deps struct {
	Controllers *oauthctrl.Controllers
	Storage     core.Storage

	RateEnabled bool
	RatePerSec  float64
	RateBurst   int

	MetricsHandler http.Handler
}

// New builds the router with the shared middleware stack.
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	base := []mw.Middleware{
		mw.WithRecover(),
		mw.WithRequestID(),
		mw.WithLogging(),
		httpx.WithMetrics,
	}

	wrap := func(h http.HandlerFunc, extra ...mw.Middleware) http.Handler {
		return mw.Chain(h, append(append([]mw.Middleware{}, base...), extra...)...)
	}

	var tokenExtra []mw.Middleware
	if d.RateEnabled {
		tokenExtra = append(tokenExtra, mw.WithRateLimit(d.RatePerSec, d.RateBurst))
	}

	c := d.Controllers
	r.Method(http.MethodGet, "/oauth/authorize", wrap(c.Authorize.Authorize))
	r.Method(http.MethodPost, "/oauth/token", wrap(c.Token.Token, tokenExtra...))
	r.Method(http.MethodPost, "/oauth/introspect", wrap(c.Introspect.Introspect))
	r.Method(http.MethodPost, "/oauth/revoke", wrap(c.Revoke.Revoke))
	r.Method(http.MethodPost, "/clients/register", wrap(c.Register.Register))
	r.Method(http.MethodGet, "/.well-known/openid-configuration", wrap(c.Discovery.Discovery))

	r.Get("/readyz", readyz(d.Storage))
	if d.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}

	return r
}

func readyz(st core.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := st.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("storage unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
