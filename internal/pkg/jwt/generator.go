// internal/pkg/jwt/generator.go
package jwt

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

type Generator struct {
	priv       *rsa.PrivateKey
	issuer     string
	audience   string
	kid        string // key id for rotation
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func NewGenerator(priv *rsa.PrivateKey, issuer, audience, kid string, accessTTL, refreshTTL time.Duration) *Generator {
	return &Generator{
		priv:       priv,
		issuer:     issuer,
		audience:   audience,
		kid:        kid,
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
	}
}

// generate mints a signed token of the given type with the given TTL.
// Returns the signed string and its jti.
func (g *Generator) generate(userID int64, email, role, tokenType string, ttl time.Duration) (string, string, error) {
	if g.priv == nil {
		return "", "", fmt.Errorf("jwt generator has nil private key")
	}

	now := time.Now()
	jti := ulid.Make().String()

	claims := &Claims{
		UserID:    userID,
		Email:     email,
		Role:      role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.issuer,
			Subject:   fmt.Sprintf("%d", userID),
			Audience:  []string{g.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        jti,
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if g.kid != "" {
		tok.Header["kid"] = g.kid
	}

	signed, err := tok.SignedString(g.priv)
	return signed, jti, err
}

// GenerateAccessToken mints a short-lived access token. The window is kept
// deliberately small; the client hides it with preventive refresh.
func (g *Generator) GenerateAccessToken(userID int64, email, role string) (string, string, error) {
	return g.generate(userID, email, role, TokenTypeAccess, g.AccessTTL)
}

// GenerateRefreshToken mints a refresh token. Refresh tokens carry identity
// only; they are never valid as bearer credentials on protected routes.
func (g *Generator) GenerateRefreshToken(userID int64, email, role string) (string, string, error) {
	return g.generate(userID, email, role, TokenTypeRefresh, g.RefreshTTL)
}
