package oauth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/clave-auth/clave/internal/config"
	"github.com/clave-auth/clave/internal/events"
	dto "github.com/clave-auth/clave/internal/http/dto/oauth"
	jwtx "github.com/clave-auth/clave/internal/jwt"
	"github.com/clave-auth/clave/internal/oautherr"
	"github.com/clave-auth/clave/internal/observability/logger"
	"github.com/clave-auth/clave/internal/security/password"
	"github.com/clave-auth/clave/internal/security/pkce"
	tokens "github.com/clave-auth/clave/internal/security/token"
	"github.com/clave-auth/clave/internal/store/core"
	"github.com/clave-auth/clave/internal/validation"
)

// TokenService is the grant dispatcher: it authenticates the client, selects
// the grant state machine and mints tokens. A successful return implies the
// token records are durable.
type TokenService interface {
	Exchange(ctx context.Context, req dto.TokenRequest) (*dto.TokenResponse, error)
}

// TokenDeps contains dependencies for the token service.
type TokenDeps struct {
	Store   core.Storage
	Clients ClientService
	Issuer  *jwtx.Issuer
	Config  *config.Config
	Bus     *events.Bus
}

type tokenService struct {
	store   core.Storage
	clients ClientService
	issuer  *jwtx.Issuer
	cfg     *config.Config
	bus     *events.Bus
}

// NewTokenService creates a TokenService.
func NewTokenService(d TokenDeps) TokenService {
	return &tokenService{store: d.Store, clients: d.Clients, issuer: d.Issuer, cfg: d.Config, bus: d.Bus}
}

// Exchange reads grant_type, authenticates the caller and delegates to the
// grant handler. Grant selection errors are ordered per RFC 6749 §5.2:
// missing grant_type is invalid_request, unknown-or-disabled is
// unsupported_grant_type, client restrictions are unauthorized_client.
func (s *tokenService) Exchange(ctx context.Context, req dto.TokenRequest) (*dto.TokenResponse, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.token"), logger.GrantType(req.GrantType))

	if req.GrantType == "" {
		return nil, oautherr.New(oautherr.InvalidRequest, "grant_type is required")
	}
	if !s.cfg.GrantEnabled(req.GrantType) {
		return nil, oautherr.New(oautherr.UnsupportedGrantType, "grant type not supported")
	}

	client, err := s.clients.Authenticate(ctx, req.Credentials)
	if err != nil {
		log.Warn("client authentication failed")
		return nil, err
	}
	s.bus.Publish(events.NewEnvelope(ctx,
		events.New(events.TypeClientAuthenticated, events.SeverityInfo, "", client.ClientID), "clave"))

	if !client.AllowsGrant(req.GrantType) {
		return nil, oautherr.New(oautherr.UnauthorizedClient, "client not authorized for this grant type")
	}

	switch req.GrantType {
	case "authorization_code":
		return s.exchangeAuthorizationCode(ctx, client, req)
	case "client_credentials":
		return s.exchangeClientCredentials(ctx, client, req)
	case "refresh_token":
		return s.exchangeRefreshToken(ctx, client, req)
	case "password":
		return s.exchangePassword(ctx, client, req)
	default:
		return nil, oautherr.New(oautherr.UnsupportedGrantType, "grant type not supported")
	}
}

// exchangeAuthorizationCode atomically consumes the code and checks, in
// order: expiry, client binding, redirect_uri binding, PKCE. A consume on an
// already-redeemed code is treated as replay: every token minted from that
// code is revoked before the invalid_grant goes out.
func (s *tokenService) exchangeAuthorizationCode(ctx context.Context, client *core.Client, req dto.TokenRequest) (*dto.TokenResponse, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.token.authcode"))

	if req.Code == "" {
		return nil, oautherr.New(oautherr.InvalidRequest, "code is required")
	}

	digest := tokens.SHA256Base64URL(req.Code)
	ac, err := s.store.ConsumeCode(ctx, digest)
	if err != nil {
		if errors.Is(err, core.ErrCodeConsumed) {
			n, _ := s.store.RevokeTokensByCode(ctx, digest)
			log.Warn("authorization code replayed; revoking issued tokens", logger.Count(n))
			s.bus.Publish(events.NewEnvelope(ctx,
				events.New(events.TypeCodeReplayed, events.SeverityCritical, "", client.ClientID).
					WithMetadata("revoked_tokens", strconv.Itoa(n)),
				"clave"))
			return nil, oautherr.New(oautherr.InvalidGrant, "authorization code is not valid")
		}
		if errors.Is(err, core.ErrNotFound) {
			return nil, oautherr.New(oautherr.InvalidGrant, "authorization code is not valid")
		}
		return nil, s.storageFault("consume code", err)
	}

	if time.Now().After(ac.ExpiresAt) {
		return nil, oautherr.New(oautherr.InvalidGrant, "authorization code expired")
	}
	if ac.ClientID != client.ClientID {
		return nil, oautherr.New(oautherr.InvalidGrant, "authorization code was issued to another client")
	}
	if ac.RedirectURI != "" && req.RedirectURI == "" {
		return nil, oautherr.New(oautherr.InvalidRequest, "redirect_uri is required")
	}
	if ac.RedirectURI != req.RedirectURI {
		return nil, oautherr.New(oautherr.InvalidGrant, "redirect_uri does not match")
	}
	if ac.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, oautherr.New(oautherr.InvalidRequest, "code_verifier is required")
		}
		if !pkce.Verify(req.CodeVerifier, ac.ChallengeMethod, ac.CodeChallenge) {
			return nil, oautherr.New(oautherr.InvalidGrant, "PKCE verification failed")
		}
	}

	s.bus.Publish(events.NewEnvelope(ctx,
		events.New(events.TypeCodeConsumed, events.SeverityInfo, ac.UserID, client.ClientID), "clave"))

	withRefresh := s.cfg.GrantEnabled("refresh_token")
	resp, err := s.mint(ctx, client, ac.UserID, ac.Scope, digest, "", withRefresh)
	if err != nil {
		return nil, err
	}

	log.Info("authorization_code exchanged", logger.ClientID(client.ClientID), logger.UserID(ac.UserID))
	return resp, nil
}

// exchangeClientCredentials issues a user-less access token. Never a refresh
// token, and never for public clients.
func (s *tokenService) exchangeClientCredentials(ctx context.Context, client *core.Client, req dto.TokenRequest) (*dto.TokenResponse, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.token.clientcreds"))

	if client.Type != core.ClientTypeConfidential {
		return nil, oautherr.New(oautherr.UnauthorizedClient, "client_credentials requires a confidential client")
	}

	granted, err := s.clients.ReduceScope(client, req.Scope)
	if err != nil {
		return nil, err
	}

	resp, err := s.mint(ctx, client, "", granted, "", "", false)
	if err != nil {
		return nil, err
	}

	log.Info("client_credentials token issued", logger.ClientID(client.ClientID), logger.Scope(granted))
	return resp, nil
}

// exchangeRefreshToken re-mints an access token. The requested scope must be
// a subset of the original grant. With rotation enabled the old refresh
// token is revoked and replaced in one atomic storage step.
func (s *tokenService) exchangeRefreshToken(ctx context.Context, client *core.Client, req dto.TokenRequest) (*dto.TokenResponse, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.token.refresh"))

	if req.RefreshToken == "" {
		return nil, oautherr.New(oautherr.InvalidRequest, "refresh_token is required")
	}

	id := tokens.SHA256Base64URL(req.RefreshToken)
	rt, err := s.store.GetToken(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, oautherr.New(oautherr.InvalidGrant, "refresh token is not valid")
		}
		return nil, s.storageFault("get refresh token", err)
	}
	now := time.Now()
	if rt.Kind != core.TokenKindRefresh || !rt.Active(now) || rt.ClientID != client.ClientID {
		return nil, oautherr.New(oautherr.InvalidGrant, "refresh token is not valid")
	}

	scope := rt.Scope
	if req.Scope != "" {
		requested := validation.SplitScope(req.Scope)
		if !validation.ScopeSubset(requested, validation.SplitScope(rt.Scope)) {
			return nil, oautherr.New(oautherr.InvalidScope, "scope exceeds the original grant")
		}
		scope = validation.JoinScope(requested)
	}

	refreshID := rt.ID
	var newRefreshRaw string
	if s.cfg.RefreshRotationEnabled() {
		newRefreshRaw, err = tokens.GenerateOpaqueToken(32)
		if err != nil {
			return nil, oautherr.Wrap(oautherr.ServerError, "failed to generate refresh token", err)
		}
		replacement := &core.Token{
			ID:         tokens.SHA256Base64URL(newRefreshRaw),
			Kind:       core.TokenKindRefresh,
			ClientID:   client.ClientID,
			UserID:     rt.UserID,
			Scope:      rt.Scope, // rotation preserves the original grant
			CodeDigest: rt.CodeDigest,
			ParentID:   rt.ID,
			IssuedAt:   now.UTC(),
			ExpiresAt:  now.UTC().Add(s.cfg.RefreshTokenTTL()),
		}
		if err := s.store.RotateRefreshToken(ctx, rt.ID, replacement); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				// Lost a rotation race: the token was just rotated elsewhere.
				return nil, oautherr.New(oautherr.InvalidGrant, "refresh token is not valid")
			}
			return nil, s.storageFault("rotate refresh token", err)
		}
		refreshID = replacement.ID
	}

	access, expiresIn, err := s.mintAccess(ctx, client, rt.UserID, scope, rt.CodeDigest, refreshID)
	if err != nil {
		return nil, err
	}

	s.bus.Publish(events.NewEnvelope(ctx,
		events.New(events.TypeTokenRefreshed, events.SeverityInfo, rt.UserID, client.ClientID).
			WithMetadata("rotated", boolStr(newRefreshRaw != "")),
		"clave"))

	log.Info("refresh_token exchanged", logger.ClientID(client.ClientID), logger.UserID(rt.UserID))

	return &dto.TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: newRefreshRaw,
		Scope:        scope,
	}, nil
}

// exchangePassword verifies the resource owner credentials and issues access
// plus refresh tokens. Only reachable when the grant is explicitly enabled.
func (s *tokenService) exchangePassword(ctx context.Context, client *core.Client, req dto.TokenRequest) (*dto.TokenResponse, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.token.password"))

	if req.Username == "" || req.Password == "" {
		return nil, oautherr.New(oautherr.InvalidRequest, "username and password are required")
	}

	user, err := s.store.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// Same error as a wrong password; do not reveal which.
			return nil, oautherr.New(oautherr.InvalidGrant, "invalid resource owner credentials")
		}
		return nil, s.storageFault("get user", err)
	}
	if !password.Verify(req.Password, user.PasswordHash) {
		return nil, oautherr.New(oautherr.InvalidGrant, "invalid resource owner credentials")
	}

	granted, err := s.clients.ReduceScope(client, req.Scope)
	if err != nil {
		return nil, err
	}

	withRefresh := s.cfg.GrantEnabled("refresh_token")
	resp, err := s.mint(ctx, client, user.ID, granted, "", "", withRefresh)
	if err != nil {
		return nil, err
	}

	log.Info("password grant exchanged", logger.ClientID(client.ClientID), logger.UserID(user.ID))
	return resp, nil
}

// mint issues an access token and, when withRefresh, a refresh token. All
// records are stored before the response is built.
func (s *tokenService) mint(ctx context.Context, client *core.Client, userID, scope, codeDigest, parentID string, withRefresh bool) (*dto.TokenResponse, error) {
	var refreshRaw, refreshID string
	if withRefresh {
		raw, err := tokens.GenerateOpaqueToken(32)
		if err != nil {
			return nil, oautherr.Wrap(oautherr.ServerError, "failed to generate refresh token", err)
		}
		now := time.Now().UTC()
		rt := &core.Token{
			ID:         tokens.SHA256Base64URL(raw),
			Kind:       core.TokenKindRefresh,
			ClientID:   client.ClientID,
			UserID:     userID,
			Scope:      scope,
			CodeDigest: codeDigest,
			ParentID:   parentID,
			IssuedAt:   now,
			ExpiresAt:  now.Add(s.cfg.RefreshTokenTTL()),
		}
		if err := s.store.SaveToken(ctx, rt); err != nil {
			return nil, s.storageFault("save refresh token", err)
		}
		refreshRaw, refreshID = raw, rt.ID
	}

	access, expiresIn, err := s.mintAccess(ctx, client, userID, scope, codeDigest, refreshID)
	if err != nil {
		return nil, err
	}

	return &dto.TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: refreshRaw,
		Scope:        scope,
	}, nil
}

// mintAccess signs a JWT access token and stores its record keyed by jti.
func (s *tokenService) mintAccess(ctx context.Context, client *core.Client, userID, scope, codeDigest, parentID string) (string, int64, error) {
	now := time.Now().UTC()
	exp := now.Add(s.cfg.AccessTokenTTL())
	jti := uuid.NewString()

	sub := userID
	if sub == "" {
		sub = client.ClientID
	}
	signed, err := s.issuer.Sign(jwtx.AccessClaims{
		Subject:  sub,
		Audience: client.ClientID,
		Scope:    scope,
		ClientID: client.ClientID,
		JTI:      jti,
		IssuedAt: now,
		Expiry:   exp,
	})
	if err != nil {
		return "", 0, oautherr.Wrap(oautherr.ServerError, "failed to sign access token", err)
	}

	rec := &core.Token{
		ID:         jti,
		Kind:       core.TokenKindAccess,
		ClientID:   client.ClientID,
		UserID:     userID,
		Scope:      scope,
		CodeDigest: codeDigest,
		ParentID:   parentID,
		IssuedAt:   now,
		ExpiresAt:  exp,
	}
	if err := s.store.SaveToken(ctx, rec); err != nil {
		return "", 0, s.storageFault("save access token", err)
	}

	s.bus.Publish(events.NewEnvelope(ctx,
		events.New(events.TypeTokenIssued, events.SeverityInfo, userID, client.ClientID).
			WithMetadata("scope", scope),
		"clave"))

	return signed, int64(time.Until(exp).Seconds()), nil
}

// storageFault maps infrastructure failures onto the protocol taxonomy:
// deadline/cancellation becomes temporarily_unavailable, everything else
// server_error.
func (s *tokenService) storageFault(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return oautherr.Wrap(oautherr.TemporarilyUnavailable, "storage timeout", err)
	}
	return oautherr.Wrap(oautherr.ServerError, "storage failure", err)
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
