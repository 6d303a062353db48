package oauth

import (
	"github.com/clave-auth/clave/internal/cache"
	svc "github.com/clave-auth/clave/internal/http/services/oauth"
	jwtx "github.com/clave-auth/clave/internal/jwt"
)

// Controllers aggregates the OAuth endpoint controllers.
type Controllers struct {
	Authorize  *AuthorizeController
	Token      *TokenController
	Introspect *IntrospectController
	Revoke     *RevokeController
	Register   *RegisterController
	Discovery  *DiscoveryController
}

// NewControllers wires the controller aggregate.
func NewControllers(s svc.Services, sessions cache.Cache, issuer *jwtx.Issuer) *Controllers {
	return &Controllers{
		Authorize:  NewAuthorizeController(s.Authorize, sessions, issuer),
		Token:      NewTokenController(s.Token),
		Introspect: NewIntrospectController(s.Introspect, s.Clients),
		Revoke:     NewRevokeController(s.Revoke, s.Clients),
		Register:   NewRegisterController(s.Clients),
		Discovery:  NewDiscoveryController(s.Discovery),
	}
}
