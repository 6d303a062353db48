package oauth

import (
	"encoding/json"
	"net/http"

	dto "github.com/clave-auth/clave/internal/http/dto/oauth"
	svc "github.com/clave-auth/clave/internal/http/services/oauth"
	"github.com/clave-auth/clave/internal/oautherr"
	"github.com/clave-auth/clave/internal/observability/logger"
	"github.com/clave-auth/clave/internal/validation"
)

// RegisterController handles POST /clients/register.
type RegisterController struct {
	service svc.ClientService
}

// NewRegisterController creates the controller.
func NewRegisterController(s svc.ClientService) *RegisterController {
	return &RegisterController{service: s}
}

// Register creates a client and returns the plaintext secret exactly once.
func (c *RegisterController) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("oauth.clients.register"))

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)

	var req dto.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, oautherr.New(oautherr.InvalidRequest, "invalid JSON body"))
		return
	}

	client, secret, err := c.service.Register(ctx, req)
	if err != nil {
		if oautherr.KindOf(err) == oautherr.ServerError {
			log.Error("registration failed", logger.Err(err))
		}
		writeOAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.RegisterResponse{
		ClientID:                client.ClientID,
		ClientSecret:            secret,
		ClientName:              client.Name,
		ClientType:              client.Type,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              client.GrantTypes,
		Scope:                   validation.JoinScope(client.Scopes),
		TokenEndpointAuthMethod: client.AuthMethod,
	})
}
