package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/env"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  strings.TrimSpace(env.String("MINIO_ENDPOINT", "localhost:9000")),
		AccessKey: env.String("MINIO_ACCESS_KEY", "codemods"),
		SecretKey: env.String("MINIO_SECRET_KEY", "codemodsminio"),
		Region:    env.String("MINIO_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    strings.TrimSpace(env.String("CODEMODS_ARCHIVE_BUCKET", "codemod-events")),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("MINIO_ENDPOINT is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("MINIO_ENDPOINT must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("MINIO_ACCESS_KEY is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("MINIO_SECRET_KEY is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("MINIO_REGION is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("CODEMODS_ARCHIVE_BUCKET is required")
	}
	return nil
}
