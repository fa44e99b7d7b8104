package anp_auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Bearer tokens issued on successful two-way authentication are JWTs signed
// with the issuing agent's JWT key pair. They stay opaque on the wire; the
// claims bind the token to one (caller, target) direction:
// sub = caller DID, aud = issuing (target) DID.

// CreateAccessToken creates a new JWT access token for callerDID, scoped to
// the issuing targetDID.
func CreateAccessToken(callerDID, targetDID string, privateKey any, algorithm string, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": callerDID,
		"aud": targetDID,
		"iat": now.Unix(),
		"exp": now.Add(expiration).Unix(),
	}

	token := jwt.NewWithClaims(jwt.GetSigningMethod(algorithm), claims)

	signedToken, err := token.SignedString(privateKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenCreation, err)
	}

	return signedToken, nil
}

// VerifyAccessToken verifies a JWT access token and returns the caller DID.
// targetDID, when non-empty, must match the token audience: a token issued by
// S to C is only valid on requests from C to S.
func VerifyAccessToken(tokenString, targetDID string, publicKey any, algorithm string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if jwt.GetSigningMethod(algorithm) != token.Method {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return publicKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
	}

	did, ok := claims["sub"].(string)
	if !ok || did == "" {
		return "", fmt.Errorf("%w: 'sub' claim missing", ErrInvalidToken)
	}

	if targetDID != "" {
		aud, _ := claims["aud"].(string)
		if aud != targetDID {
			return "", fmt.Errorf("%w: token issued for %q", ErrInvalidToken, aud)
		}
	}

	return did, nil
}
