// Package oauth contains the controllers for the OAuth2 protocol endpoints.
package oauth

import (
	"net/http"
	"strings"

	dto "github.com/clave-auth/clave/internal/http/dto/oauth"
	svc "github.com/clave-auth/clave/internal/http/services/oauth"
	"github.com/clave-auth/clave/internal/oautherr"
	"github.com/clave-auth/clave/internal/observability/logger"
)

// TokenController handles POST /oauth/token.
type TokenController struct {
	service svc.TokenService
}

// NewTokenController creates the controller.
func NewTokenController(s svc.TokenService) *TokenController {
	return &TokenController{service: s}
}

// Token parses the grant parameters and client credentials and hands off to
// the grant dispatcher.
func (c *TokenController) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("oauth.token"))

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		log.Warn("failed to parse form", logger.Err(err))
		writeOAuthError(w, oautherr.New(oautherr.InvalidRequest, "invalid form data"))
		return
	}

	req := dto.TokenRequest{
		GrantType:    strings.TrimSpace(r.PostForm.Get("grant_type")),
		Credentials:  parseClientCredentials(r),
		Code:         strings.TrimSpace(r.PostForm.Get("code")),
		RedirectURI:  strings.TrimSpace(r.PostForm.Get("redirect_uri")),
		CodeVerifier: strings.TrimSpace(r.PostForm.Get("code_verifier")),
		RefreshToken: strings.TrimSpace(r.PostForm.Get("refresh_token")),
		Username:     strings.TrimSpace(r.PostForm.Get("username")),
		Password:     r.PostForm.Get("password"),
		Scope:        strings.TrimSpace(r.PostForm.Get("scope")),
	}

	resp, err := c.service.Exchange(ctx, req)
	if err != nil {
		if oautherr.KindOf(err) == oautherr.ServerError {
			log.Error("token endpoint error", logger.Err(err))
		}
		writeOAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
