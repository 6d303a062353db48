package oauth

// AuthorizeRequest carries the parsed query of GET /oauth/authorize plus the
// user resolved from the consent session.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string

	// UserID is the authenticated end user granting consent. Resolved by the
	// controller from the session cookie; empty means not logged in.
	UserID string
}

// AuthorizeResult is a successful authorization: redirect back with the code
// and the verbatim state.
type AuthorizeResult struct {
	RedirectURI string
	Code        string
	State       string
}

// SessionPayload is the cached consent-session record keyed by the session
// cookie digest.
type SessionPayload struct {
	UserID    string `json:"user_id"`
	ExpiresAt int64  `json:"expires_at"`
}
