package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	Account string
	JTI     string
}

// AccessTokenClaims represents the typed JWT issued to clients. The connected
// ledger account travels in the subject claim.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
}

// Account returns the ledger account the token was issued for.
func (c *AccessTokenClaims) Account() string {
	if c == nil {
		return ""
	}
	return c.Subject
}
