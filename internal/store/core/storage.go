package core

import "context"

// Storage is the persistence contract for the authorization engine.
//
// Two operations carry atomicity requirements that implementations must
// honor under concurrent callers:
//
//   - ConsumeCode returns the code record exactly once; every other call for
//     the same digest returns ErrCodeConsumed (or ErrNotFound if it never
//     existed).
//   - RotateRefreshToken revokes the old refresh token and inserts the new
//     one as a single step: neither outcome is observable without the other.
//
// All other operations are independent. Implementations surface
// infrastructure faults via WrapStorage so callers can map them to
// server_error.
type Storage interface {
	Ping(ctx context.Context) error

	// Clients
	CreateClient(ctx context.Context, c *Client) error
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// Users
	CreateUser(ctx context.Context, u *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)

	// Authorization codes
	SaveAuthorizationCode(ctx context.Context, ac *AuthorizationCode) error
	ConsumeCode(ctx context.Context, codeDigest string) (*AuthorizationCode, error)

	// Tokens
	SaveToken(ctx context.Context, t *Token) error
	GetToken(ctx context.Context, id string) (*Token, error)
	RevokeToken(ctx context.Context, id string) error
	RevokeTokensByCode(ctx context.Context, codeDigest string) (int, error)
	RevokeTokensByParent(ctx context.Context, parentID string) (int, error)
	RotateRefreshToken(ctx context.Context, oldID string, replacement *Token) error
	ListClientTokens(ctx context.Context, clientID string, limit int) ([]*Token, error)
}
