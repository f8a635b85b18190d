package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenAuthenticator verifies HS256 bearer tokens whose subject is a member id.
type TokenAuthenticator struct {
	secret []byte
	issuer string
}

func NewTokenAuthenticator(secret, issuer string) *TokenAuthenticator {
	return &TokenAuthenticator{secret: []byte(secret), issuer: issuer}
}

func (a *TokenAuthenticator) Scheme() Scheme { return SchemeBearer }

// IssueToken signs a token for memberID valid for ttl.
func (a *TokenAuthenticator) IssueToken(memberID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   memberID,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *TokenAuthenticator) Authenticate(_ context.Context, credential string) (*Caller, error) {
	var claims jwt.RegisteredClaims
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	_, err := jwt.ParseWithClaims(credential, &claims, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return &Caller{MemberID: claims.Subject, Scheme: SchemeBearer}, nil
}
