package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// VerifyFunc checks a raw bearer token and returns its claims.
type VerifyFunc func(ctx context.Context, rawToken string) (map[string]any, error)

// OIDCAuthenticator accepts bearer ID tokens issued for the configured
// client.
type OIDCAuthenticator struct {
	verify       VerifyFunc
	userRefClaim string
}

func NewOIDCAuthenticator(ctx context.Context, cfg Config) (*OIDCAuthenticator, error) {
	if cfg.Mode != ModeOIDC {
		return nil, fmt.Errorf("auth mode must be oidc (got %q)", cfg.Mode)
	}
	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.OIDCClientID})

	return NewOIDCAuthenticatorWithVerifier(func(ctx context.Context, rawToken string) (map[string]any, error) {
		idToken, err := verifier.Verify(ctx, rawToken)
		if err != nil {
			return nil, err
		}
		var claims map[string]any
		if err := idToken.Claims(&claims); err != nil {
			return nil, err
		}
		return claims, nil
	}, cfg.UserRefClaim), nil
}

func NewOIDCAuthenticatorWithVerifier(verify VerifyFunc, userRefClaim string) *OIDCAuthenticator {
	return &OIDCAuthenticator{verify: verify, userRefClaim: userRefClaim}
}

func (a *OIDCAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	rawToken := tokenFromHeader(r)
	if rawToken == "" {
		return Identity{}, ErrUnauthenticated
	}
	claims, err := a.verify(ctx, rawToken)
	if err != nil {
		return Identity{}, err
	}
	return identityFromClaims(claims, a.userRefClaim)
}

func identityFromClaims(claims map[string]any, userRefClaim string) (Identity, error) {
	subject, _ := claims["sub"].(string)
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Identity{}, errors.New("token has no subject")
	}
	userRef := extractStringClaim(claims, userRefClaim)
	if userRef == "" {
		userRef = "user:default/" + subject
	}
	return Identity{Subject: subject, UserRef: userRef}, nil
}

// extractStringClaim reads a possibly dotted claim path. A list claim
// yields its first string entry.
func extractStringClaim(claims map[string]any, path string) string {
	if path == "" {
		return ""
	}
	var cur any = claims
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[part]
	}
	switch v := cur.(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func tokenFromHeader(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(authz, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
