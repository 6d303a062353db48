// Package oauth contains the services behind the OAuth2 protocol endpoints.
package oauth

import (
	"github.com/clave-auth/clave/internal/config"
	"github.com/clave-auth/clave/internal/events"
	jwtx "github.com/clave-auth/clave/internal/jwt"
	"github.com/clave-auth/clave/internal/security/password"
	"github.com/clave-auth/clave/internal/store/core"
)

// Deps contains everything needed to build the OAuth services.
type Deps struct {
	Store      core.Storage
	Issuer     *jwtx.Issuer
	Config     *config.Config
	Bus        *events.Bus
	HashParams password.Params
}

// Services aggregates the OAuth domain services.
type Services struct {
	Clients    ClientService
	Authorize  AuthorizeService
	Token      TokenService
	Introspect IntrospectService
	Revoke     RevokeService
	Discovery  DiscoveryService
}

// NewServices wires the service aggregate.
func NewServices(d Deps) Services {
	clients := NewClientService(ClientDeps{
		Store:      d.Store,
		Bus:        d.Bus,
		HashParams: d.HashParams,
		Supported:  d.Config.Scopes.Supported,
	})
	return Services{
		Clients: clients,
		Authorize: NewAuthorizeService(AuthorizeDeps{
			Store:  d.Store,
			Config: d.Config,
			Bus:    d.Bus,
		}),
		Token: NewTokenService(TokenDeps{
			Store:   d.Store,
			Clients: clients,
			Issuer:  d.Issuer,
			Config:  d.Config,
			Bus:     d.Bus,
		}),
		Introspect: NewIntrospectService(IntrospectDeps{
			Store:  d.Store,
			Issuer: d.Issuer,
			Bus:    d.Bus,
		}),
		Revoke: NewRevokeService(RevokeDeps{
			Store:  d.Store,
			Issuer: d.Issuer,
			Bus:    d.Bus,
		}),
		Discovery: NewDiscoveryService(d.Config),
	}
}
