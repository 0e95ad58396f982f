package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// AccountID identifies the wallet owner (a requester or provider account);
// every money-movement endpoint resolves the acting account from these claims,
// never from the request body.
type Claims struct {
	jwt.RegisteredClaims

	AccountID string    `json:"account_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
