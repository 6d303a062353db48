package oauth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clave-auth/clave/internal/cache"
	dto "github.com/clave-auth/clave/internal/http/dto/oauth"
	svc "github.com/clave-auth/clave/internal/http/services/oauth"
	jwtx "github.com/clave-auth/clave/internal/jwt"
	"github.com/clave-auth/clave/internal/oautherr"
	"github.com/clave-auth/clave/internal/observability/logger"
	tokens "github.com/clave-auth/clave/internal/security/token"
)

// SessionCookieName identifies the consent-session cookie minted by the
// external login UI.
const SessionCookieName = "clave_sid"

const sessionKeyPrefix = "sid:"

// AuthorizeController handles GET /oauth/authorize.
type AuthorizeController struct {
	service  svc.AuthorizeService
	sessions cache.Cache
	issuer   *jwtx.Issuer
}

// NewAuthorizeController creates the controller.
func NewAuthorizeController(s svc.AuthorizeService, sessions cache.Cache, issuer *jwtx.Issuer) *AuthorizeController {
	return &AuthorizeController{service: s, sessions: sessions, issuer: issuer}
}

// Authorize validates the request and redirects back with a code, or with an
// error when the redirect_uri itself validated. Invalid client or
// redirect_uri never redirect (RFC 6749 §4.1.2.1).
func (c *AuthorizeController) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("oauth.authorize"))

	q := r.URL.Query()
	req := dto.AuthorizeRequest{
		ResponseType:        strings.TrimSpace(q.Get("response_type")),
		ClientID:            strings.TrimSpace(q.Get("client_id")),
		RedirectURI:         strings.TrimSpace(q.Get("redirect_uri")),
		Scope:               strings.TrimSpace(q.Get("scope")),
		State:               q.Get("state"),
		CodeChallenge:       strings.TrimSpace(q.Get("code_challenge")),
		CodeChallengeMethod: strings.TrimSpace(q.Get("code_challenge_method")),
		UserID:              c.resolveUser(r),
	}

	result, err := c.service.Authorize(ctx, req)
	if err != nil {
		var re *svc.RedirectError
		if errors.As(err, &re) {
			redirectWithError(w, r, re)
			return
		}
		log.Debug("authorize rejected", logger.Err(err))
		writeOAuthError(w, err)
		return
	}

	target, perr := url.Parse(result.RedirectURI)
	if perr != nil {
		writeOAuthError(w, oautherr.Wrap(oautherr.ServerError, "invalid redirect target", perr))
		return
	}
	params := target.Query()
	params.Set("code", result.Code)
	if result.State != "" {
		params.Set("state", result.State)
	}
	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// resolveUser tries the session cookie first, then a bearer access token.
// Empty means not authenticated; the service decides what that implies.
func (c *AuthorizeController) resolveUser(r *http.Request) string {
	if ck, err := r.Cookie(SessionCookieName); err == nil && strings.TrimSpace(ck.Value) != "" {
		key := sessionKeyPrefix + tokens.SHA256Base64URL(ck.Value)
		if b, ok := c.sessions.Get(key); ok {
			var sp dto.SessionPayload
			if json.Unmarshal(b, &sp) == nil {
				if sp.ExpiresAt == 0 || time.Now().Unix() < sp.ExpiresAt {
					return sp.UserID
				}
			}
		}
	}

	if c.issuer != nil {
		if raw, ok := BearerToken(r); ok {
			if claims, err := c.issuer.Verify(raw); err == nil && claims.Subject != claims.ClientID {
				return claims.Subject
			}
		}
	}

	return ""
}

func redirectWithError(w http.ResponseWriter, r *http.Request, re *svc.RedirectError) {
	target, err := url.Parse(re.RedirectURI)
	if err != nil {
		http.Error(w, re.Code, http.StatusBadRequest)
		return
	}
	params := target.Query()
	params.Set("error", re.Code)
	if re.Description != "" {
		params.Set("error_description", re.Description)
	}
	if re.State != "" {
		params.Set("state", re.State)
	}
	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}
