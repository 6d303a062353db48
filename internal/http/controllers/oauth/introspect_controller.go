package oauth

import (
	"net/http"
	"strings"

	svc "github.com/clave-auth/clave/internal/http/services/oauth"
	"github.com/clave-auth/clave/internal/oautherr"
	"github.com/clave-auth/clave/internal/observability/logger"
)

// IntrospectController handles POST /oauth/introspect (RFC 7662).
type IntrospectController struct {
	service svc.IntrospectService
	clients svc.ClientService
}

// NewIntrospectController creates the controller.
func NewIntrospectController(service svc.IntrospectService, clients svc.ClientService) *IntrospectController {
	return &IntrospectController{service: service, clients: clients}
}

// Introspect authenticates the caller as a client, then resolves the token.
// An unauthenticated caller gets invalid_client; every token-side failure
// collapses to {"active":false}.
func (c *IntrospectController) Introspect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("oauth.introspect"))

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oautherr.New(oautherr.InvalidRequest, "invalid form data"))
		return
	}

	caller, err := c.clients.Authenticate(ctx, parseClientCredentials(r))
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	token := strings.TrimSpace(r.PostForm.Get("token"))
	hint := strings.TrimSpace(r.PostForm.Get("token_type_hint"))

	resp, err := c.service.Introspect(ctx, caller, token, hint)
	if err != nil {
		log.Error("introspection failed", logger.Err(err))
		writeOAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
