package oauth

import (
	"net/http"
	"strings"

	svc "github.com/clave-auth/clave/internal/http/services/oauth"
	"github.com/clave-auth/clave/internal/oautherr"
	"github.com/clave-auth/clave/internal/observability/logger"
)

// RevokeController handles POST /oauth/revoke (RFC 7009).
type RevokeController struct {
	service svc.RevokeService
	clients svc.ClientService
}

// NewRevokeController creates the controller.
func NewRevokeController(service svc.RevokeService, clients svc.ClientService) *RevokeController {
	return &RevokeController{service: service, clients: clients}
}

// Revoke authenticates the caller, then revokes. The response is 200 with an
// empty body whether or not the token existed or was owned by the caller.
func (c *RevokeController) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("oauth.revoke"))

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

	if err := c.service.Revoke(ctx, caller, token, hint); err != nil {
		log.Error("revocation failed", logger.Err(err))
		writeOAuthError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}
