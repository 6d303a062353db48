package oauth

import (
	"strings"

	"github.com/clave-auth/clave/internal/config"
	dto "github.com/clave-auth/clave/internal/http/dto/oauth"
)

// DiscoveryService builds the RFC 8414 metadata document. The document
// reflects actual configuration and is safe to cache.
type DiscoveryService interface {
	Document() *dto.DiscoveryDocument
}

type discoveryService struct {
	doc dto.DiscoveryDocument
}

// NewDiscoveryService precomputes the document; configuration is immutable
// after startup.
func NewDiscoveryService(cfg *config.Config) DiscoveryService {
	base := strings.TrimRight(cfg.Issuer, "/")
	return &discoveryService{doc: dto.DiscoveryDocument{
		Issuer:                            cfg.Issuer,
		AuthorizationEndpoint:             base + "/oauth/authorize",
		TokenEndpoint:                     base + "/oauth/token",
		IntrospectionEndpoint:             base + "/oauth/introspect",
		RevocationEndpoint:                base + "/oauth/revoke",
		RegistrationEndpoint:              base + "/clients/register",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               cfg.Grants.Enabled,
		ScopesSupported:                   cfg.Scopes.Supported,
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		CodeChallengeMethodsSupported:     cfg.PKCE.Methods,
		SubjectTypesSupported:             []string{"public"},
	}}
}

func (s *discoveryService) Document() *dto.DiscoveryDocument {
	doc := s.doc
	return &doc
}
