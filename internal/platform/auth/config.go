package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/env"
)

type Mode string

const (
	ModeOIDC     Mode = "oidc"
	ModeDev      Mode = "dev"
	ModeDisabled Mode = "disabled"
)

type Config struct {
	Mode Mode

	// UserRefClaim names the token claim holding the caller's catalog
	// entity ref. Tokens without it fall back to user:default/<sub>.
	UserRefClaim string

	OIDCIssuerURL string
	OIDCClientID  string

	DevSubject string
	DevUserRef string
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(strings.TrimSpace(env.String("AUTH_MODE", string(ModeOIDC))))
	var mode Mode
	switch modeRaw {
	case string(ModeOIDC):
		mode = ModeOIDC
	case string(ModeDev):
		mode = ModeDev
	case string(ModeDisabled):
		mode = ModeDisabled
	default:
		return Config{}, fmt.Errorf("AUTH_MODE must be one of: oidc, dev, disabled (got %q)", modeRaw)
	}

	cfg := Config{
		Mode:          mode,
		UserRefClaim:  strings.TrimSpace(env.String("AUTH_USER_REF_CLAIM", "user_ref")),
		OIDCIssuerURL: strings.TrimSpace(env.String("OIDC_ISSUER_URL", "")),
		OIDCClientID:  strings.TrimSpace(env.String("OIDC_CLIENT_ID", "")),
		DevSubject:    strings.TrimSpace(env.String("DEV_AUTH_SUBJECT", "dev-user")),
		DevUserRef:    strings.TrimSpace(env.String("DEV_AUTH_USER_REF", "user:default/dev-user")),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeOIDC:
		if c.OIDCIssuerURL == "" {
			return errors.New("OIDC_ISSUER_URL is required when AUTH_MODE=oidc")
		}
		if c.OIDCClientID == "" {
			return errors.New("OIDC_CLIENT_ID is required when AUTH_MODE=oidc")
		}
		if c.UserRefClaim == "" {
			return errors.New("AUTH_USER_REF_CLAIM is required when AUTH_MODE=oidc")
		}
	case ModeDev:
		if c.DevSubject == "" {
			return errors.New("DEV_AUTH_SUBJECT is required when AUTH_MODE=dev")
		}
	case ModeDisabled:
	case "":
		return errors.New("AUTH_MODE is required")
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}
	return nil
}
