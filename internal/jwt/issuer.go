// Package jwt signs and verifies access tokens with HMAC-SHA-256.
package jwt

import (
	"errors"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

var (
	ErrShortSecret  = errors.New("jwt: signing secret must be at least 32 bytes")
	ErrInvalidToken = errors.New("jwt: token invalid")
)

// AccessClaims is the payload carried by issued access tokens.
type AccessClaims struct {
	Issuer   string
	Subject  string // user_id, or client_id for client_credentials
	Audience string // client_id
	Scope    string
	ClientID string
	JTI      string
	IssuedAt time.Time
	Expiry   time.Time
}

// Issuer signs access tokens with a process-wide HMAC secret. The secret is
// read-only after construction.
type Issuer struct {
	Iss    string
	secret []byte
}

// NewIssuer validates the secret length (32 bytes minimum) and returns an
// issuer asserting iss in every token.
func NewIssuer(iss string, secret []byte) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, ErrShortSecret
	}
	return &Issuer{Iss: iss, secret: secret}, nil
}

// Sign produces a compact HS256 JWT for the claims. The iss claim always
// comes from the issuer configuration, not the caller.
func (i *Issuer) Sign(c AccessClaims) (string, error) {
	claims := jwtv5.MapClaims{
		"iss":       i.Iss,
		"sub":       c.Subject,
		"aud":       c.Audience,
		"iat":       c.IssuedAt.Unix(),
		"exp":       c.Expiry.Unix(),
		"jti":       c.JTI,
		"client_id": c.ClientID,
	}
	if c.Scope != "" {
		claims["scope"] = c.Scope
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	tk.Header["typ"] = "JWT"
	return tk.SignedString(i.secret)
}

// Verify parses and validates a compact JWT: HS256 only ("none" and every
// other algorithm are rejected by the allowlist), signature, exp, iat not in
// the future, and iss equal to the configured issuer.
func (i *Issuer) Verify(raw string) (*AccessClaims, error) {
	parsed, err := jwtv5.Parse(raw,
		func(t *jwtv5.Token) (any, error) { return i.secret, nil },
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithIssuer(i.Iss),
		jwtv5.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	iatF, _ := claims["iat"].(float64)
	expF, _ := claims["exp"].(float64)
	if iatF == 0 || time.Unix(int64(iatF), 0).After(time.Now()) {
		return nil, ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	aud, _ := claims["aud"].(string)
	scope, _ := claims["scope"].(string)
	jti, _ := claims["jti"].(string)
	clientID, _ := claims["client_id"].(string)

	return &AccessClaims{
		Issuer:   i.Iss,
		Subject:  sub,
		Audience: aud,
		Scope:    scope,
		ClientID: clientID,
		JTI:      jti,
		IssuedAt: time.Unix(int64(iatF), 0),
		Expiry:   time.Unix(int64(expF), 0),
	}, nil
}
