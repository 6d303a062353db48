package oauth

import (
	"context"
	"time"

	"github.com/clave-auth/clave/internal/config"
	"github.com/clave-auth/clave/internal/events"
	dto "github.com/clave-auth/clave/internal/http/dto/oauth"
	"github.com/clave-auth/clave/internal/oautherr"
	"github.com/clave-auth/clave/internal/observability/logger"
	"github.com/clave-auth/clave/internal/security/pkce"
	tokens "github.com/clave-auth/clave/internal/security/token"
	"github.com/clave-auth/clave/internal/store/core"
	"github.com/clave-auth/clave/internal/validation"
)

// RedirectError is an authorization-endpoint failure that is safe to return
// to the client via the validated redirect_uri (RFC 6749 §4.1.2.1). Failures
// raised before the redirect_uri is validated surface as plain protocol
// errors and render as a direct 400.
type RedirectError struct {
	RedirectURI string
	Code        string
	Description string
	State       string
}

func (e *RedirectError) Error() string { return e.Code + ": " + e.Description }

// AuthorizeService drives the authorization endpoint after the consent UI
// has authenticated the user.
type AuthorizeService interface {
	Authorize(ctx context.Context, req dto.AuthorizeRequest) (*dto.AuthorizeResult, error)
}

// AuthorizeDeps contains dependencies for AuthorizeService.
type AuthorizeDeps struct {
	Store  core.Storage
	Config *config.Config
	Bus    *events.Bus
}

type authorizeService struct {
	store core.Storage
	cfg   *config.Config
	bus   *events.Bus
}

// NewAuthorizeService creates an AuthorizeService.
func NewAuthorizeService(d AuthorizeDeps) AuthorizeService {
	return &authorizeService{store: d.Store, cfg: d.Config, bus: d.Bus}
}

// Authorize validates the request, mints a one-shot code bound to the exact
// parameters received and returns the redirect target. The code's raw value
// goes to the user agent; only its digest is persisted.
func (s *authorizeService) Authorize(ctx context.Context, req dto.AuthorizeRequest) (*dto.AuthorizeResult, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.authorize"))

	if req.ClientID == "" {
		return nil, oautherr.New(oautherr.InvalidRequest, "client_id is required")
	}
	client, err := s.store.GetClient(ctx, req.ClientID)
	if err != nil {
		log.Debug("client lookup failed", logger.ClientID(req.ClientID), logger.Err(err))
		return nil, oautherr.New(oautherr.InvalidRequest, "unknown client")
	}

	// redirect_uri must validate before any error may be redirected.
	if req.RedirectURI == "" || !client.AllowsRedirectURI(req.RedirectURI) {
		return nil, oautherr.New(oautherr.InvalidRequest, "invalid redirect_uri")
	}

	redirectErr := func(code, desc string) error {
		return &RedirectError{RedirectURI: req.RedirectURI, Code: code, Description: desc, State: req.State}
	}

	if req.ResponseType != "code" {
		return nil, redirectErr("unsupported_response_type", "only response_type=code is supported")
	}
	if !s.cfg.GrantEnabled("authorization_code") || !client.AllowsGrant("authorization_code") {
		return nil, redirectErr("unauthorized_client", "client may not use the authorization_code grant")
	}

	granted, scopes := "", validation.SplitScope(req.Scope)
	if len(scopes) > 0 {
		reduced := validation.ReduceScope(scopes, client.Scopes)
		if len(reduced) == 0 {
			return nil, redirectErr("invalid_scope", "requested scope not allowed")
		}
		granted = validation.JoinScope(reduced)
	} else {
		granted = validation.JoinScope(client.Scopes)
	}

	challenge, method := req.CodeChallenge, req.CodeChallengeMethod
	if challenge != "" && method == "" {
		method = pkce.MethodPlain // RFC 7636 §4.3 default
	}
	if challenge != "" && !s.cfg.PKCEMethodEnabled(method) {
		return nil, redirectErr("invalid_request", "code_challenge_method not supported")
	}
	if challenge == "" && client.Type == core.ClientTypePublic && s.cfg.PKCERequiredForPublicClients() {
		return nil, redirectErr("invalid_request", "public clients must use PKCE")
	}

	if req.UserID == "" {
		return nil, redirectErr("access_denied", "authentication required")
	}

	raw, err := tokens.GenerateOpaqueToken(32)
	if err != nil {
		return nil, redirectErr("server_error", "failed to generate code")
	}
	now := time.Now().UTC()
	ac := &core.AuthorizationCode{
		CodeDigest:      tokens.SHA256Base64URL(raw),
		ClientID:        client.ClientID,
		UserID:          req.UserID,
		RedirectURI:     req.RedirectURI,
		Scope:           granted,
		CodeChallenge:   challenge,
		ChallengeMethod: method,
		IssuedAt:        now,
		ExpiresAt:       now.Add(s.cfg.AuthCodeTTL()),
	}
	if err := s.store.SaveAuthorizationCode(ctx, ac); err != nil {
		log.Error("failed to persist code", logger.Err(err))
		return nil, redirectErr("server_error", "failed to persist code")
	}

	s.bus.Publish(events.NewEnvelope(ctx,
		events.New(events.TypeCodeIssued, events.SeverityInfo, req.UserID, client.ClientID).
			WithMetadata("scope", granted),
		"clave"))

	log.Info("authorization code issued",
		logger.ClientID(client.ClientID), logger.UserID(req.UserID), logger.Scope(granted))

	return &dto.AuthorizeResult{
		RedirectURI: req.RedirectURI,
		Code:        raw,
		State:       req.State,
	}, nil
}
