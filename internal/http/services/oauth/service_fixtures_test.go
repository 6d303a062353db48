package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/clave-auth/clave/internal/config"
	"github.com/clave-auth/clave/internal/events"
	dto "github.com/clave-auth/clave/internal/http/dto/oauth"
	jwtx "github.com/clave-auth/clave/internal/jwt"
	"github.com/clave-auth/clave/internal/oautherr"
	"github.com/clave-auth/clave/internal/security/password"
	"github.com/clave-auth/clave/internal/store/core"
	"github.com/clave-auth/clave/internal/store/memory"
)

// cheapHash keeps Argon2 fast in tests; Verify reads costs from the hash.
var cheapHash = password.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, KeyLen: 32}

type fixture struct {
	store    *memory.Store
	cfg      *config.Config
	sink     *events.MemorySink
	bus      *events.Bus
	services Services
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Issuer = "https://auth.example.com"
	cfg.JWT.Secret = "0123456789abcdef0123456789abcdef"
	cfg.Grants.Enabled = []string{"authorization_code", "client_credentials", "refresh_token"}
	cfg.PKCE.Methods = []string{"S256"}
	cfg.Scopes.Supported = []string{"read", "write", "admin", "openid"}
	for _, m := range mutate {
		m(cfg)
	}

	st := memory.New()
	sink := events.NewMemorySink(256)
	bus := events.NewBus(events.AllowAll(), 256, sink)
	t.Cleanup(bus.Close)

	issuer, err := jwtx.NewIssuer(cfg.Issuer, []byte(cfg.JWT.Secret))
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}

	services := NewServices(Deps{
		Store:      st,
		Issuer:     issuer,
		Config:     cfg,
		Bus:        bus,
		HashParams: cheapHash,
	})

	return &fixture{store: st, cfg: cfg, sink: sink, bus: bus, services: services}
}

// registerClient registers a confidential client and returns it with its
// plaintext secret.
func (f *fixture) registerClient(t *testing.T, grants []string, scope string) (clientID, secret string) {
	t.Helper()
	client, plaintext, err := f.services.Clients.Register(context.Background(), dto.RegisterRequest{
		ClientName:              "test-app",
		RedirectURIs:            []string{"http://localhost:3000/cb"},
		GrantTypes:              grants,
		Scope:                   scope,
		TokenEndpointAuthMethod: "client_secret_basic",
	})
	if err != nil {
		t.Fatalf("register client: %v", err)
	}
	if plaintext == "" {
		t.Fatal("confidential client must receive a plaintext secret")
	}
	return client.ClientID, plaintext
}

func (f *fixture) registerPublicClient(t *testing.T, grants []string, scope string) string {
	t.Helper()
	client, plaintext, err := f.services.Clients.Register(context.Background(), dto.RegisterRequest{
		ClientName:              "spa-app",
		RedirectURIs:            []string{"http://localhost:3000/cb"},
		GrantTypes:              grants,
		Scope:                   scope,
		TokenEndpointAuthMethod: "none",
	})
	if err != nil {
		t.Fatalf("register public client: %v", err)
	}
	if plaintext != "" {
		t.Fatal("public client must not receive a secret")
	}
	return client.ClientID
}

// createUser stores a user with a cheap Argon2 hash.
func (f *fixture) createUser(t *testing.T, username, plain string) {
	t.Helper()
	hash, err := password.Hash(cheapHash, plain)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if err := f.store.CreateUser(context.Background(), &core.User{
		ID:           "user-" + username,
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}
}

func basicCreds(clientID, secret string) dto.ClientCredentials {
	return dto.ClientCredentials{
		ClientID:      clientID,
		ClientSecret:  secret,
		Method:        "client_secret_basic",
		SecretPresent: true,
	}
}

// authorizeCode runs the authorization flow for the fixture user and returns
// the raw code.
func (f *fixture) authorizeCode(t *testing.T, clientID, scope, challenge, method string) string {
	t.Helper()
	result, err := f.services.Authorize.Authorize(context.Background(), dto.AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            clientID,
		RedirectURI:         "http://localhost:3000/cb",
		Scope:               scope,
		State:               "xyz",
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		UserID:              "user-1",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if result.State != "xyz" {
		t.Fatalf("state must be returned verbatim, got %q", result.State)
	}
	return result.Code
}

func wantKind(t *testing.T, err error, kind oautherr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil error", kind.Code())
	}
	if got := oautherr.KindOf(err); got != kind {
		t.Fatalf("expected %s, got %s (%v)", kind.Code(), got.Code(), err)
	}
}
