package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every runtime setting, loaded from SCENEBRIDGE_* environment
// variables.
type Config struct {
	// Addr is the HTTP and websocket listen address.
	Addr string `env:"SCENEBRIDGE_ADDR" envDefault:":8080"`

	// APIKey is the shared secret user-category envelopes must carry.
	APIKey string `env:"SCENEBRIDGE_API_KEY"`

	// PeerURL, when set, is the ws:// or wss:// address of the engine peer
	// this process dials on startup.
	PeerURL        string        `env:"SCENEBRIDGE_PEER_URL"`
	AutoReconnect  bool          `env:"SCENEBRIDGE_AUTO_RECONNECT" envDefault:"true"`
	ReconnectDelay time.Duration `env:"SCENEBRIDGE_RECONNECT_DELAY" envDefault:"5s"`

	ActionTimeout time.Duration `env:"SCENEBRIDGE_ACTION_TIMEOUT" envDefault:"30s"`

	MoveSpeed   float64       `env:"SCENEBRIDGE_MOVE_SPEED" envDefault:"5"`
	MoveTick    time.Duration `env:"SCENEBRIDGE_MOVE_TICK" envDefault:"50ms"`
	MoveEpsilon float64       `env:"SCENEBRIDGE_MOVE_EPSILON" envDefault:"0.1"`

	// PermissiveGrants gives every attached session the default permission
	// set. Disable it to manage grants explicitly.
	PermissiveGrants bool `env:"SCENEBRIDGE_PERMISSIVE_GRANTS" envDefault:"true"`

	// AssetDir is where the local asset loader resolves model paths.
	AssetDir string `env:"SCENEBRIDGE_ASSET_DIR" envDefault:"assets"`
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.MoveSpeed <= 0 {
		return fmt.Errorf("move speed must be positive, got %v", c.MoveSpeed)
	}
	if c.MoveTick <= 0 {
		return fmt.Errorf("move tick must be positive, got %v", c.MoveTick)
	}
	if c.MoveEpsilon <= 0 {
		return fmt.Errorf("move epsilon must be positive, got %v", c.MoveEpsilon)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive, got %v", c.ReconnectDelay)
	}
	return nil
}
