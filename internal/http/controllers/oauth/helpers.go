package oauth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	dto "github.com/clave-auth/clave/internal/http/dto/oauth"
	"github.com/clave-auth/clave/internal/oautherr"
	"github.com/clave-auth/clave/internal/store/core"
)

// maxFormBytes caps OAuth form bodies.
const maxFormBytes = 64 << 10

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// writeJSON writes a JSON body with the given status and no-store caching.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeOAuthError renders a protocol error as its RFC body and status.
func writeOAuthError(w http.ResponseWriter, err error) {
	kind := oautherr.KindOf(err)
	writeJSON(w, kind.HTTPStatus(), errorBody{
		Error:            kind.Code(),
		ErrorDescription: oautherr.DescriptionOf(err),
	})
}

// parseClientCredentials extracts client authentication from the Basic
// header or the form body. Presenting both at once is flagged so the service
// can reject it as invalid_request. ParseForm must have run already.
func parseClientCredentials(r *http.Request) dto.ClientCredentials {
	var creds dto.ClientCredentials

	basicID, basicSecret, hasBasic := basicAuth(r)
	formID := strings.TrimSpace(r.PostForm.Get("client_id"))
	formSecret := r.PostForm.Get("client_secret")
	_, hasFormSecret := postFormHas(r, "client_secret")

	switch {
	case hasBasic && hasFormSecret:
		creds.BothPresented = true
		creds.ClientID = basicID
	case hasBasic:
		creds.ClientID = basicID
		creds.ClientSecret = basicSecret
		creds.Method = core.AuthMethodBasic
		creds.SecretPresent = true
	default:
		creds.ClientID = formID
		creds.ClientSecret = formSecret
		creds.Method = core.AuthMethodPost
		creds.SecretPresent = hasFormSecret
	}
	return creds
}

// basicAuth decodes the Authorization: Basic header and splits the pair at
// the first colon. The id and secret are returned as base64-decoded; no
// percent-decoding is applied.
func basicAuth(r *http.Request) (id, secret string, ok bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" || !strings.EqualFold(firstToken(h), "Basic") {
		return "", "", false
	}
	raw := strings.TrimSpace(h[len("Basic"):])
	dec, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", "", false
	}
	idx := strings.IndexByte(string(dec), ':')
	if idx < 0 {
		return "", "", false
	}
	return string(dec[:idx]), string(dec[idx+1:]), true
}

func firstToken(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

func postFormHas(r *http.Request, key string) (string, bool) {
	vs, ok := r.PostForm[key]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// BearerToken extracts the token from an Authorization: Bearer header.
// Scheme match is case-insensitive; trailing whitespace is stripped.
func BearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" || !strings.EqualFold(firstToken(h), "Bearer") {
		return "", false
	}
	tok := strings.TrimSpace(h[len("Bearer"):])
	return tok, tok != ""
}
