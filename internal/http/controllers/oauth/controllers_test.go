package oauth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clave-auth/clave/internal/cache"
	cachemem "github.com/clave-auth/clave/internal/cache/memory"
	"github.com/clave-auth/clave/internal/config"
	"github.com/clave-auth/clave/internal/events"
	oauthctrl "github.com/clave-auth/clave/internal/http/controllers/oauth"
	"github.com/clave-auth/clave/internal/http/router"
	oauthsvc "github.com/clave-auth/clave/internal/http/services/oauth"
	jwtx "github.com/clave-auth/clave/internal/jwt"
	"github.com/clave-auth/clave/internal/security/password"
	tokens "github.com/clave-auth/clave/internal/security/token"
	"github.com/clave-auth/clave/internal/store/memory"
)

const (
	verifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
)

type env struct {
	srv      *httptest.Server
	sessions cache.Cache
}

func newEnv(t *testing.T) *env {
	t.Helper()

	cfg := &config.Config{}
	cfg.Issuer = "https://auth.example.com"
	cfg.JWT.Secret = "0123456789abcdef0123456789abcdef"
	cfg.Grants.Enabled = []string{"authorization_code", "client_credentials", "refresh_token"}
	cfg.PKCE.Methods = []string{"S256"}
	cfg.Scopes.Supported = []string{"read", "write"}

	st := memory.New()
	bus := events.NewBus(events.AllowAll(), 64, events.NewMemorySink(64))
	t.Cleanup(bus.Close)

	issuer, err := jwtx.NewIssuer(cfg.Issuer, []byte(cfg.JWT.Secret))
	require.NoError(t, err)

	services := oauthsvc.NewServices(oauthsvc.Deps{
		Store:      st,
		Issuer:     issuer,
		Config:     cfg,
		Bus:        bus,
		HashParams: password.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, KeyLen: 32},
	})

	sessions := cachemem.New(30 * time.Minute)
	controllers := oauthctrl.NewControllers(services, sessions, issuer)

	handler := router.New(router.Deps{
		Controllers: controllers,
		Storage:     st,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &env{srv: srv, sessions: sessions}
}

// login seeds the consent-session cache and returns the session cookie.
func (e *env) login(t *testing.T, userID string) *http.Cookie {
	t.Helper()
	sid, err := tokens.GenerateOpaqueToken(24)
	require.NoError(t, err)
	payload, _ := json.Marshal(map[string]any{
		"user_id":    userID,
		"expires_at": time.Now().Add(time.Hour).Unix(),
	})
	e.sessions.Set("sid:"+tokens.SHA256Base64URL(sid), payload, time.Hour)
	return &http.Cookie{Name: oauthctrl.SessionCookieName, Value: sid}
}

func (e *env) registerClient(t *testing.T, grants []string, scope string) (clientID, secret string) {
	t.Helper()
	body := `{"client_name":"web-app","redirect_uris":["http://localhost:3000/cb"],` +
		`"grant_types":["` + strings.Join(grants, `","`) + `"],"scope":"` + scope + `",` +
		`"token_endpoint_auth_method":"client_secret_basic"}`
	resp, err := http.Post(e.srv.URL+"/clients/register", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.ClientID)
	require.NotEmpty(t, out.ClientSecret)
	return out.ClientID, out.ClientSecret
}

// authorize runs GET /oauth/authorize and returns the code from the redirect.
func (e *env) authorize(t *testing.T, cookie *http.Cookie, clientID string) string {
	t.Helper()
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", "http://localhost:3000/cb")
	q.Set("scope", "read write")
	q.Set("state", "xyz")
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")

	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/oauth/authorize?"+q.Encode(), nil)
	req.AddCookie(cookie)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "xyz", loc.Query().Get("state"))
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func (e *env) postToken(t *testing.T, clientID, secret string, form url.Values) (*http.Response, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(clientID, secret)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func TestHTTP_AuthorizationCodeFlow(t *testing.T) {
	e := newEnv(t)
	clientID, secret := e.registerClient(t, []string{"authorization_code", "refresh_token"}, "read write")
	cookie := e.login(t, "user-1")
	code := e.authorize(t, cookie, clientID)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", "http://localhost:3000/cb")
	form.Set("code_verifier", verifier)

	resp, body := e.postToken(t, clientID, secret, form)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, "read write", body["scope"])
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
	assert.InDelta(t, 3600, body["expires_in"], 10)

	// Replay: identical parameters, second call.
	resp2, body2 := e.postToken(t, clientID, secret, form)
	require.Equal(t, http.StatusBadRequest, resp2.StatusCode)
	assert.Equal(t, "invalid_grant", body2["error"])

	// Replay revoked the first access token.
	introForm := url.Values{}
	introForm.Set("token", body["access_token"].(string))
	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/oauth/introspect", strings.NewReader(introForm.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(clientID, secret)
	introResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer introResp.Body.Close()
	var intro map[string]any
	require.NoError(t, json.NewDecoder(introResp.Body).Decode(&intro))
	assert.Equal(t, false, intro["active"])
}

func TestHTTP_ClientCredentials(t *testing.T) {
	e := newEnv(t)
	clientID, secret := e.registerClient(t, []string{"client_credentials"}, "read write")

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", "read")

	resp, body := e.postToken(t, clientID, secret, form)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "read", body["scope"])
	assert.NotEmpty(t, body["access_token"])
	_, hasRefresh := body["refresh_token"]
	assert.False(t, hasRefresh, "client_credentials must not return refresh_token")
}

func TestHTTP_RevokeRoundTrip(t *testing.T) {
	e := newEnv(t)
	clientID, secret := e.registerClient(t, []string{"client_credentials"}, "read")

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	_, body := e.postToken(t, clientID, secret, form)
	access := body["access_token"].(string)

	revoke := func() *http.Response {
		f := url.Values{}
		f.Set("token", access)
		req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/oauth/revoke", strings.NewReader(f.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(clientID, secret)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	require.Equal(t, http.StatusOK, revoke().StatusCode)
	// Idempotent.
	require.Equal(t, http.StatusOK, revoke().StatusCode)
}

func TestHTTP_IntrospectRequiresClientAuth(t *testing.T) {
	e := newEnv(t)

	form := url.Values{}
	form.Set("token", "anything")
	resp, err := http.Post(e.srv.URL+"/oauth/introspect", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalid_client", body["error"])
}

func TestHTTP_BothAuthMethodsRejected(t *testing.T) {
	e := newEnv(t)
	clientID, secret := e.registerClient(t, []string{"client_credentials"}, "read")

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", clientID)
	form.Set("client_secret", secret)

	// Basic AND post credentials at once.
	resp, body := e.postToken(t, clientID, secret, form)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", body["error"])
}

func TestHTTP_Discovery(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Get(e.srv.URL + "/.well-known/openid-configuration")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "https://auth.example.com", doc["issuer"])
	assert.Equal(t, "https://auth.example.com/oauth/token", doc["token_endpoint"])
	assert.ElementsMatch(t, []any{"code"}, doc["response_types_supported"])
	assert.ElementsMatch(t, []any{"S256"}, doc["code_challenge_methods_supported"])
	assert.NotContains(t, doc["grant_types_supported"], "password")
}

func TestHTTP_AuthorizeWithoutSessionRedirectsError(t *testing.T) {
	e := newEnv(t)
	clientID, _ := e.registerClient(t, []string{"authorization_code"}, "read write")

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", "http://localhost:3000/cb")
	q.Set("scope", "read")
	q.Set("state", "s1")
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(e.srv.URL + "/oauth/authorize?" + q.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, _ := url.Parse(resp.Header.Get("Location"))
	assert.Equal(t, "access_denied", loc.Query().Get("error"))
	assert.Equal(t, "s1", loc.Query().Get("state"))
}

func TestHTTP_ReadyZ(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
