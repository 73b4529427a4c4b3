package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type testAuthenticator struct {
	identity Identity
	err      error
	calls    int
}

func (a *testAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	a.calls++
	return a.identity, a.err
}

func TestMiddleware_Unauthorized(t *testing.T) {
	authn := &testAuthenticator{err: ErrUnauthenticated}
	called := false
	h := Middleware{Authenticator: authn}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.test/v1/runs", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called {
		t.Fatalf("handler should not be called")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body["error"] != "unauthorized" || body["request_id"] != "rid-1" {
		t.Fatalf("body=%v", body)
	}
}

func TestMiddleware_InvalidToken(t *testing.T) {
	h := Middleware{Authenticator: &testAuthenticator{err: errors.New("bad token")}}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/v1/runs", nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if rec.Code != http.StatusUnauthorized || body["error"] != "invalid_token" {
		t.Fatalf("status=%d body=%v", rec.Code, body)
	}
}

func TestMiddleware_InjectsIdentityAndSkipsPrefixes(t *testing.T) {
	authn := &testAuthenticator{identity: Identity{Subject: "u1", UserRef: "user:default/u1"}}
	var got Identity
	h := Middleware{Authenticator: authn, SkipPrefixes: []string{"/healthz"}}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://example.test/healthz", nil))
	if authn.calls != 0 {
		t.Fatalf("Authenticate() calls=%d on skipped path", authn.calls)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://example.test/v1/runs", nil))
	if got.UserRef != "user:default/u1" {
		t.Fatalf("identity=%+v", got)
	}
}

func TestOIDCAuthenticator(t *testing.T) {
	claims := map[string]any{"sub": "abc", "backstage": map[string]any{"ent": []any{"user:default/jane"}}}
	var token string
	authn := NewOIDCAuthenticatorWithVerifier(func(ctx context.Context, raw string) (map[string]any, error) {
		token = raw
		if raw != "good" {
			return nil, errors.New("signature mismatch")
		}
		return claims, nil
	}, "backstage.ent")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := authn.Authenticate(context.Background(), req); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Authenticate() err=%v, want ErrUnauthenticated", err)
	}

	req.Header.Set("Authorization", "Bearer bad")
	if _, err := authn.Authenticate(context.Background(), req); err == nil || errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Authenticate() err=%v, want verification error", err)
	}

	req.Header.Set("Authorization", "bearer good")
	identity, err := authn.Authenticate(context.Background(), req)
	if err != nil {
		t.Fatalf("Authenticate() err=%v", err)
	}
	if token != "good" || identity.Subject != "abc" || identity.UserRef != "user:default/jane" {
		t.Fatalf("identity=%+v token=%q", identity, token)
	}
}

func TestIdentityFromClaims_FallsBackToSubject(t *testing.T) {
	identity, err := identityFromClaims(map[string]any{"sub": "jane"}, "user_ref")
	if err != nil {
		t.Fatalf("identityFromClaims() err=%v", err)
	}
	if identity.UserRef != "user:default/jane" {
		t.Fatalf("UserRef=%q", identity.UserRef)
	}
	if _, err := identityFromClaims(map[string]any{}, "user_ref"); err == nil {
		t.Fatalf("identityFromClaims() expected error without subject")
	}
}

func TestConfigFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
		want    Mode
	}{
		{name: "oidc requires issuer", env: map[string]string{"AUTH_MODE": "oidc"}, wantErr: true},
		{name: "oidc", env: map[string]string{"AUTH_MODE": "OIDC", "OIDC_ISSUER_URL": "https://id.example", "OIDC_CLIENT_ID": "codemods"}, want: ModeOIDC},
		{name: "dev", env: map[string]string{"AUTH_MODE": "dev"}, want: ModeDev},
		{name: "disabled", env: map[string]string{"AUTH_MODE": "disabled"}, want: ModeDisabled},
		{name: "unknown", env: map[string]string{"AUTH_MODE": "basic"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OIDC_ISSUER_URL", "")
			t.Setenv("OIDC_CLIENT_ID", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := ConfigFromEnv()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ConfigFromEnv() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ConfigFromEnv() err=%v", err)
			}
			if cfg.Mode != tt.want {
				t.Fatalf("Mode=%q, want %q", cfg.Mode, tt.want)
			}
		})
	}
}

func TestNew_DevAndDisabled(t *testing.T) {
	authn, err := New(context.Background(), Config{Mode: ModeDev, DevSubject: "dev", DevUserRef: "user:default/dev"})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	identity, err := authn.Authenticate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil || identity.UserRef != "user:default/dev" {
		t.Fatalf("Authenticate()=%+v err=%v", identity, err)
	}

	authn, err = New(context.Background(), Config{Mode: ModeDisabled})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	identity, err = authn.Authenticate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil || identity != (Identity{}) {
		t.Fatalf("Authenticate()=%+v err=%v", identity, err)
	}
}
