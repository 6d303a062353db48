package oauth

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/clave-auth/clave/internal/events"
	jwtx "github.com/clave-auth/clave/internal/jwt"
	"github.com/clave-auth/clave/internal/observability/logger"
	tokens "github.com/clave-auth/clave/internal/security/token"
	"github.com/clave-auth/clave/internal/store/core"
)

// RevokeService marks tokens revoked (RFC 7009). Idempotent: unknown tokens
// and tokens owned by other clients succeed without mutation.
type RevokeService interface {
	Revoke(ctx context.Context, caller *core.Client, token, tokenTypeHint string) error
}

// RevokeDeps contains dependencies for the revoke service.
type RevokeDeps struct {
	Store  core.Storage
	Issuer *jwtx.Issuer
	Bus    *events.Bus
}

type revokeService struct {
	store  core.Storage
	issuer *jwtx.Issuer
	bus    *events.Bus
}

// NewRevokeService creates a RevokeService.
func NewRevokeService(d RevokeDeps) RevokeService {
	return &revokeService{store: d.Store, issuer: d.Issuer, bus: d.Bus}
}

// Revoke resolves the token (access first, refresh second, unless the hint
// reverses the order), verifies ownership and sets the monotonic revoked
// flag. Revoking a refresh token cascades to every access token minted from
// it. Errors that would reveal token state are swallowed per RFC 7009 §2.2.
func (s *revokeService) Revoke(ctx context.Context, caller *core.Client, token, tokenTypeHint string) error {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.revoke"))

	if token == "" {
		return nil
	}

	rec := s.resolve(ctx, token, tokenTypeHint)
	if rec == nil {
		log.Debug("token not found (idempotent success)")
		return nil
	}
	if rec.ClientID != caller.ClientID {
		log.Debug("token owned by another client (no mutation)")
		return nil
	}
	if rec.Revoked() {
		return nil
	}

	if err := s.store.RevokeToken(ctx, rec.ID); err != nil && !errors.Is(err, core.ErrNotFound) {
		log.Warn("revoke failed", logger.TokenID(rec.ID), logger.Err(err))
		return nil
	}

	cascaded := 0
	if rec.Kind == core.TokenKindRefresh {
		cascaded, _ = s.store.RevokeTokensByParent(ctx, rec.ID)
	}

	s.bus.Publish(events.NewEnvelope(ctx,
		events.New(events.TypeTokenRevoked, events.SeverityInfo, rec.UserID, caller.ClientID).
			WithMetadata("kind", rec.Kind).
			WithMetadata("cascaded", strconv.Itoa(cascaded)),
		"clave"))

	log.Info("token revoked", logger.TokenID(rec.ID), logger.String("kind", rec.Kind), logger.Count(cascaded))
	return nil
}

// resolve tries the access interpretation (JWT jti) and the refresh
// interpretation (opaque digest) in hint order.
func (s *revokeService) resolve(ctx context.Context, token, hint string) *core.Token {
	asJWT := func() *core.Token {
		claims, err := s.issuer.Verify(token)
		if err != nil {
			return nil
		}
		return s.lookup(ctx, claims.JTI)
	}
	asOpaque := func() *core.Token {
		return s.lookup(ctx, tokens.SHA256Base64URL(token))
	}

	looksJWT := strings.Count(token, ".") == 2
	if hint == "refresh_token" || !looksJWT {
		if rec := asOpaque(); rec != nil {
			return rec
		}
		return asJWT()
	}
	if rec := asJWT(); rec != nil {
		return rec
	}
	return asOpaque()
}

func (s *revokeService) lookup(ctx context.Context, id string) *core.Token {
	if id == "" {
		return nil
	}
	rec, err := s.store.GetToken(ctx, id)
	if err != nil {
		return nil
	}
	return rec
}
