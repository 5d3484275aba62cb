// internal/pkg/jwt/verifier.go
package jwt

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"carelink-service/internal/pkg/authcode"

	"github.com/golang-jwt/jwt/v5"
)

type Verifier struct {
	pub      *rsa.PublicKey
	issuer   string
	audience string
}

func NewVerifier(pub *rsa.PublicKey, issuer, audience string) *Verifier {
	return &Verifier{
		pub:      pub,
		issuer:   issuer,
		audience: audience,
	}
}

// Verify validates a token's signature and registered claims and returns the
// decoded claims. Failures are classified: an expired token and a malformed
// or forged one produce distinct codes.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	if v.pub == nil {
		return nil, authcode.New(authcode.CodeGenericAuthError, fmt.Errorf("jwt verifier has nil public key"))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.pub, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, authcode.New(authcode.CodeTokenExpired, err)
		}
		return nil, authcode.New(authcode.CodeTokenMalformed, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, authcode.New(authcode.CodeTokenMalformed, fmt.Errorf("invalid token claims"))
	}

	if claims.Issuer != v.issuer {
		return nil, authcode.New(authcode.CodeTokenMalformed, fmt.Errorf("invalid issuer: expected %s, got %s", v.issuer, claims.Issuer))
	}

	if !claims.VerifyAudience(v.audience, true) {
		return nil, authcode.New(authcode.CodeTokenMalformed, fmt.Errorf("invalid audience"))
	}

	return claims, nil
}

// VerifyAccessToken verifies the token and requires the access token type.
// A token_type claim that is present but not "access" (e.g. a refresh token)
// is rejected so only access-class credentials pass the gate.
func (v *Verifier) VerifyAccessToken(tokenString string) (*Claims, error) {
	claims, err := v.Verify(tokenString)
	if err != nil {
		return nil, err
	}

	if claims.TokenType != "" && claims.TokenType != TokenTypeAccess {
		return nil, authcode.New(authcode.CodeTokenTypeInvalid, fmt.Errorf("token type %q is not an access token", claims.TokenType))
	}

	return claims, nil
}

// VerifyRefreshToken verifies the token and requires the refresh token type.
func (v *Verifier) VerifyRefreshToken(tokenString string) (*Claims, error) {
	claims, err := v.Verify(tokenString)
	if err != nil {
		return nil, err
	}

	if claims.TokenType != TokenTypeRefresh {
		return nil, authcode.New(authcode.CodeTokenTypeInvalid, fmt.Errorf("token type %q is not a refresh token", claims.TokenType))
	}

	return claims, nil
}
