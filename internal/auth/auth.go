// Package auth authenticates callers of the manual job triggers and checks
// that they hold the admin tier.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"membercycle/internal/membership"
)

var (
	ErrUnauthenticated = errors.New("must be authenticated")
	ErrForbidden       = errors.New("must be admin")
)

// Scheme names a credential type of the Authorization header.
type Scheme string

const (
	SchemeBearer Scheme = "Bearer"
	SchemeAPIKey Scheme = "ApiKey"
)

// Caller is an authenticated principal.
type Caller struct {
	MemberID string
	Scheme   Scheme
}

// Authenticator resolves a credential of its scheme to a caller.
type Authenticator interface {
	Scheme() Scheme
	Authenticate(ctx context.Context, credential string) (*Caller, error)
}

// Chain dispatches on the scheme of the Authorization header.
type Chain struct {
	byScheme map[Scheme]Authenticator
}

func NewChain(authenticators ...Authenticator) *Chain {
	c := &Chain{byScheme: map[Scheme]Authenticator{}}
	for _, a := range authenticators {
		c.byScheme[a.Scheme()] = a
	}
	return c
}

// AuthenticateRequest reads the Authorization header of r.
func (c *Chain) AuthenticateRequest(r *http.Request) (*Caller, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, fmt.Errorf("%w: authorization header is required", ErrUnauthenticated)
	}
	scheme, credential, ok := strings.Cut(header, " ")
	if !ok || credential == "" {
		return nil, fmt.Errorf("%w: malformed authorization header", ErrUnauthenticated)
	}
	a, ok := c.byScheme[Scheme(scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrUnauthenticated, scheme)
	}
	return a.Authenticate(r.Context(), strings.TrimSpace(credential))
}

// RequireAdmin checks that callerID names an admin-tier member.
func RequireAdmin(ctx context.Context, members membership.Service, callerID string) error {
	if callerID == "" {
		return ErrUnauthenticated
	}
	m, err := members.GetMember(ctx, callerID)
	if errors.Is(err, membership.ErrMemberNotFound) {
		return fmt.Errorf("%w: unknown caller %s", ErrForbidden, callerID)
	}
	if err != nil {
		return fmt.Errorf("failed to load caller: %w", err)
	}
	if m.Tier != membership.TierAdmin {
		return fmt.Errorf("%w: caller %s has tier %q", ErrForbidden, callerID, m.Tier)
	}
	return nil
}
