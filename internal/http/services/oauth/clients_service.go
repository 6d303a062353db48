package oauth

import (
	"context"
	"time"

	"github.com/clave-auth/clave/internal/events"
	dto "github.com/clave-auth/clave/internal/http/dto/oauth"
	"github.com/clave-auth/clave/internal/oautherr"
	"github.com/clave-auth/clave/internal/observability/logger"
	"github.com/clave-auth/clave/internal/security/password"
	tokens "github.com/clave-auth/clave/internal/security/token"
	"github.com/clave-auth/clave/internal/store/core"
	"github.com/clave-auth/clave/internal/validation"
)

// ClientService registers clients and authenticates them on every protocol
// call.
type ClientService interface {
	Register(ctx context.Context, req dto.RegisterRequest) (*core.Client, string, error)
	Authenticate(ctx context.Context, creds dto.ClientCredentials) (*core.Client, error)
	ReduceScope(client *core.Client, requested string) (string, error)
}

// ClientDeps contains dependencies for the client service.
type ClientDeps struct {
	Store      core.Storage
	Bus        *events.Bus
	HashParams password.Params
	Supported  []string // supported scope names advertised by discovery
}

type clientService struct {
	store      core.Storage
	bus        *events.Bus
	hashParams password.Params
	supported  map[string]struct{}

	// dummyHash equalizes Authenticate timing between unknown client and
	// wrong secret.
	dummyHash string
}

// NewClientService creates a ClientService.
func NewClientService(d ClientDeps) ClientService {
	params := d.HashParams
	if params.KeyLen == 0 {
		params = password.Default
	}
	dummy, _ := password.Hash(params, "clave-dummy-secret")
	sup := make(map[string]struct{}, len(d.Supported))
	for _, s := range d.Supported {
		sup[s] = struct{}{}
	}
	return &clientService{
		store:      d.Store,
		bus:        d.Bus,
		hashParams: params,
		supported:  sup,
		dummyHash:  dummy,
	}
}

var supportedGrants = map[string]struct{}{
	"authorization_code": {},
	"client_credentials": {},
	"refresh_token":      {},
	"password":           {},
}

// Register validates the registration, generates identifiers and stores the
// secret hash. The plaintext secret is returned exactly once; it is never
// recoverable afterwards.
func (s *clientService) Register(ctx context.Context, req dto.RegisterRequest) (*core.Client, string, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.clients.register"))

	if req.ClientName == "" {
		return nil, "", oautherr.New(oautherr.InvalidRequest, "client_name is required")
	}
	if len(req.GrantTypes) == 0 {
		return nil, "", oautherr.New(oautherr.InvalidRequest, "grant_types is required")
	}
	needsRedirect := false
	for _, g := range req.GrantTypes {
		if _, ok := supportedGrants[g]; !ok {
			return nil, "", oautherr.New(oautherr.InvalidRequest, "unsupported grant type")
		}
		if g == "authorization_code" {
			needsRedirect = true
		}
	}
	if needsRedirect && len(req.RedirectURIs) == 0 {
		return nil, "", oautherr.New(oautherr.InvalidRequest, "redirect_uris is required for authorization_code")
	}
	for _, u := range req.RedirectURIs {
		if !validRedirectURI(u) {
			return nil, "", oautherr.New(oautherr.InvalidRequest, "redirect_uris must be absolute URIs")
		}
	}
	scopes := validation.SplitScope(req.Scope)
	for _, sc := range scopes {
		if !validation.ValidScopeName(sc) {
			return nil, "", oautherr.New(oautherr.InvalidScope, "invalid scope name")
		}
		if len(s.supported) > 0 {
			if _, ok := s.supported[sc]; !ok {
				return nil, "", oautherr.New(oautherr.InvalidScope, "scope not supported")
			}
		}
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = core.AuthMethodBasic
	}
	var clientType string
	switch authMethod {
	case core.AuthMethodBasic, core.AuthMethodPost:
		clientType = core.ClientTypeConfidential
	case core.AuthMethodNone:
		clientType = core.ClientTypePublic
	default:
		return nil, "", oautherr.New(oautherr.InvalidRequest, "unsupported token_endpoint_auth_method")
	}

	suffix, err := tokens.GenerateOpaqueToken(18)
	if err != nil {
		return nil, "", oautherr.Wrap(oautherr.ServerError, "failed to generate client_id", err)
	}
	clientID := "client_" + suffix

	var plaintext, hash string
	if clientType == core.ClientTypeConfidential {
		plaintext, err = tokens.GenerateOpaqueToken(24)
		if err != nil {
			return nil, "", oautherr.Wrap(oautherr.ServerError, "failed to generate client_secret", err)
		}
		hash, err = password.Hash(s.hashParams, plaintext)
		if err != nil {
			return nil, "", oautherr.Wrap(oautherr.ServerError, "failed to hash client_secret", err)
		}
	}

	client := &core.Client{
		ClientID:     clientID,
		Name:         req.ClientName,
		SecretHash:   hash,
		Type:         clientType,
		RedirectURIs: req.RedirectURIs,
		GrantTypes:   req.GrantTypes,
		Scopes:       scopes,
		AuthMethod:   authMethod,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateClient(ctx, client); err != nil {
		log.Error("failed to store client", logger.Err(err))
		return nil, "", oautherr.Wrap(oautherr.ServerError, "failed to register client", err)
	}

	s.bus.Publish(events.NewEnvelope(ctx,
		events.New(events.TypeClientRegistered, events.SeverityInfo, "", clientID).
			WithMetadata("client_name", req.ClientName).
			WithMetadata("scope", req.Scope),
		"clave"))

	log.Info("client registered", logger.ClientID(clientID), logger.String("client_type", clientType))
	return client, plaintext, nil
}

// Authenticate resolves the client and verifies the presented secret. The
// error is identical for unknown client and wrong secret, and the work done
// is equalized so response timing does not reveal which case occurred.
func (s *clientService) Authenticate(ctx context.Context, creds dto.ClientCredentials) (*core.Client, error) {
	invalid := oautherr.New(oautherr.InvalidClient, "client authentication failed")

	if creds.BothPresented {
		return nil, oautherr.New(oautherr.InvalidRequest, "multiple client authentication methods")
	}
	if creds.ClientID == "" {
		return nil, invalid
	}

	client, err := s.store.GetClient(ctx, creds.ClientID)
	if err != nil {
		// Burn the same hashing cost as a real verification.
		password.Verify(creds.ClientSecret, s.dummyHash)
		return nil, invalid
	}

	switch client.Type {
	case core.ClientTypePublic:
		if creds.SecretPresent {
			return nil, invalid
		}
		return client, nil
	default:
		if !creds.SecretPresent {
			return nil, invalid
		}
		if !password.Verify(creds.ClientSecret, client.SecretHash) {
			return nil, invalid
		}
		return client, nil
	}
}

// ReduceScope intersects the requested scope with the client's registered
// scopes. An empty request falls back to the client default (its registered
// set); an empty intersection for a non-empty request is invalid_scope.
func (s *clientService) ReduceScope(client *core.Client, requested string) (string, error) {
	req := validation.SplitScope(requested)
	if len(req) == 0 {
		return validation.JoinScope(client.Scopes), nil
	}
	granted := validation.ReduceScope(req, client.Scopes)
	if len(granted) == 0 {
		return "", oautherr.New(oautherr.InvalidScope, "requested scope not allowed")
	}
	return validation.JoinScope(granted), nil
}

// validRedirectURI requires an absolute http(s) or custom-scheme URI without
// fragments. Matching elsewhere is always exact-string.
func validRedirectURI(uri string) bool {
	if uri == "" {
		return false
	}
	colon := -1
	for i := 0; i < len(uri); i++ {
		if uri[i] == '#' {
			return false
		}
		if uri[i] == ':' && colon < 0 {
			colon = i
		}
	}
	return colon > 0 && colon+2 < len(uri)
}
