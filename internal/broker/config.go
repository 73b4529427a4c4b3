package broker

import (
	"errors"
	"time"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/env"
)

type Config struct {
	// EventPollInterval paces event subscriptions.
	EventPollInterval time.Duration
	// ClaimPollInterval bounds how long an idle claimer waits before
	// looking again, which picks up runs dispatched by other processes.
	ClaimPollInterval time.Duration
	HeartbeatInterval time.Duration
	VacuumInterval    time.Duration
	VacuumTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		EventPollInterval: time.Second,
		ClaimPollInterval: 5 * time.Second,
		HeartbeatInterval: time.Second,
		VacuumInterval:    5 * time.Minute,
		VacuumTimeout:     24 * time.Hour,
	}
}

func ConfigFromEnv() (Config, error) {
	def := DefaultConfig()
	var (
		cfg Config
		err error
	)
	if cfg.EventPollInterval, err = env.Duration("CODEMODS_EVENT_POLL_INTERVAL", def.EventPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.ClaimPollInterval, err = env.Duration("CODEMODS_CLAIM_POLL_INTERVAL", def.ClaimPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.HeartbeatInterval, err = env.Duration("CODEMODS_HEARTBEAT_INTERVAL", def.HeartbeatInterval); err != nil {
		return Config{}, err
	}
	if cfg.VacuumInterval, err = env.Duration("CODEMODS_VACUUM_INTERVAL", def.VacuumInterval); err != nil {
		return Config{}, err
	}
	if cfg.VacuumTimeout, err = env.Duration("CODEMODS_VACUUM_TIMEOUT", def.VacuumTimeout); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.EventPollInterval <= 0:
		return errors.New("CODEMODS_EVENT_POLL_INTERVAL must be positive")
	case c.ClaimPollInterval <= 0:
		return errors.New("CODEMODS_CLAIM_POLL_INTERVAL must be positive")
	case c.HeartbeatInterval <= 0:
		return errors.New("CODEMODS_HEARTBEAT_INTERVAL must be positive")
	case c.VacuumInterval <= 0:
		return errors.New("CODEMODS_VACUUM_INTERVAL must be positive")
	case c.VacuumTimeout <= c.HeartbeatInterval:
		return errors.New("CODEMODS_VACUUM_TIMEOUT must exceed CODEMODS_HEARTBEAT_INTERVAL")
	}
	return nil
}
