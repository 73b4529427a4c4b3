package postgres

import (
	"strings"
	"testing"
)

func TestConfigFromEnv_RequiresURL(t *testing.T) {
	t.Setenv("DATABASE_URL", " ")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("ConfigFromEnv() expected error for blank DATABASE_URL")
	}
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("DATABASE_URL", defaultURL)
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "4")
	t.Setenv("DATABASE_MAX_IDLE_CONNS", "8")
	if _, err := ConfigFromEnv(); err == nil || !strings.Contains(err.Error(), "DATABASE_MAX_IDLE_CONNS") {
		t.Fatalf("ConfigFromEnv() err=%v, want idle conns error", err)
	}

	t.Setenv("DATABASE_MAX_IDLE_CONNS", "2")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.MaxOpenConns != 4 || cfg.MaxIdleConns != 2 {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestRedactedURL(t *testing.T) {
	got := Config{URL: "postgres://codemods:s3cret@db:5432/codemods"}.RedactedURL()
	if strings.Contains(got, "s3cret") {
		t.Fatalf("RedactedURL()=%q leaks the password", got)
	}
}
