package oauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/clave-auth/clave/internal/events"
	dto "github.com/clave-auth/clave/internal/http/dto/oauth"
	jwtx "github.com/clave-auth/clave/internal/jwt"
	"github.com/clave-auth/clave/internal/observability/logger"
	tokens "github.com/clave-auth/clave/internal/security/token"
	"github.com/clave-auth/clave/internal/store/core"
)

// IntrospectService resolves a token string to an active/inactive decision
// with metadata (RFC 7662).
type IntrospectService interface {
	Introspect(ctx context.Context, caller *core.Client, token, tokenTypeHint string) (*dto.IntrospectResponse, error)
}

// IntrospectDeps contains dependencies for the introspect service.
type IntrospectDeps struct {
	Store  core.Storage
	Issuer *jwtx.Issuer
	Bus    *events.Bus
}

type introspectService struct {
	store  core.Storage
	issuer *jwtx.Issuer
	bus    *events.Bus
}

// NewIntrospectService creates an IntrospectService.
func NewIntrospectService(d IntrospectDeps) IntrospectService {
	return &introspectService{store: d.Store, issuer: d.Issuer, bus: d.Bus}
}

var inactive = &dto.IntrospectResponse{Active: false}

// Introspect never reports why a token is inactive; every failure mode
// collapses to {"active":false}. A caller only sees metadata for tokens
// issued to it, so introspection cannot be used to probe other clients'
// credentials.
func (s *introspectService) Introspect(ctx context.Context, caller *core.Client, token, tokenTypeHint string) (*dto.IntrospectResponse, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.introspect"))

	if token == "" {
		return inactive, nil
	}

	rec := s.resolve(ctx, token, tokenTypeHint)
	if rec == nil {
		log.Debug("token not found")
		return inactive, nil
	}
	if !rec.Active(time.Now()) {
		return inactive, nil
	}
	if rec.ClientID != caller.ClientID {
		log.Debug("token belongs to another client")
		return inactive, nil
	}

	s.bus.Publish(events.NewEnvelope(ctx,
		events.New(events.TypeTokenIntrospected, events.SeverityInfo, rec.UserID, caller.ClientID), "clave"))

	resp := &dto.IntrospectResponse{
		Active:    true,
		Scope:     rec.Scope,
		ClientID:  rec.ClientID,
		TokenType: "Bearer",
		Exp:       rec.ExpiresAt.Unix(),
		Iat:       rec.IssuedAt.Unix(),
		Jti:       rec.ID,
		Iss:       s.issuer.Iss,
	}
	if rec.Kind == core.TokenKindRefresh {
		resp.TokenType = "refresh_token"
	}
	if rec.UserID != "" {
		resp.Sub = rec.UserID
		if u, err := s.store.GetUserByID(ctx, rec.UserID); err == nil {
			resp.Username = u.Username
		}
	} else {
		resp.Sub = rec.ClientID
	}
	return resp, nil
}

// resolve maps the presented string to a stored record. JWTs resolve via a
// full signature/exp/iss verification down to their jti; opaque strings via
// their digest. The hint only changes the order of attempts (RFC 7662 §2.1).
func (s *introspectService) resolve(ctx context.Context, token, hint string) *core.Token {
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

func (s *introspectService) lookup(ctx context.Context, id string) *core.Token {
	if id == "" {
		return nil
	}
	rec, err := s.store.GetToken(ctx, id)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			logger.From(ctx).Debug("token lookup failed", logger.Err(err))
		}
		return nil
	}
	return rec
}
