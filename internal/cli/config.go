// Package cli holds configuration and the loopback interactive channel
// for the spaauth demo binary.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/aussiebroadwan/spaauth/pkg/spaauth"
)

type Config struct {
	ClientID              string `env:"SPAAUTH_CLIENT_ID,required"`
	MetadataURI           string `env:"SPAAUTH_METADATA_URI"`
	AuthorizationEndpoint string `env:"SPAAUTH_AUTHORIZATION_ENDPOINT"`
	TokenEndpoint         string `env:"SPAAUTH_TOKEN_ENDPOINT"`
	EndSessionEndpoint    string `env:"SPAAUTH_END_SESSION_ENDPOINT"`
	RedirectURI           string `env:"SPAAUTH_REDIRECT_URI" envDefault:"http://127.0.0.1:8910/callback"`
	Scope                 string `env:"SPAAUTH_SCOPE" envDefault:"openid profile"`
	CacheMode             string `env:"SPAAUTH_CACHE_MODE" envDefault:"persistent"`
	StatePath             string `env:"SPAAUTH_STATE_PATH"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat             string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads configuration from the environment, with a .env file in the
// working directory taken into account when present.
func Load() (Config, error) {
	// Missing .env is the normal case, not an error.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.StatePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("failed to locate home directory: %w", err)
		}
		cfg.StatePath = filepath.Join(home, ".spaauth", "state.db")
	}

	return cfg, nil
}

// Authority maps the environment configuration onto authority options.
func (c Config) Authority() spaauth.AuthorityOptions {
	return spaauth.AuthorityOptions{
		Name:                  "default",
		ClientID:              c.ClientID,
		MetadataURI:           c.MetadataURI,
		AuthorizationEndpoint: c.AuthorizationEndpoint,
		TokenEndpoint:         c.TokenEndpoint,
		EndSessionEndpoint:    c.EndSessionEndpoint,
		RedirectURI:           c.RedirectURI,
		DefaultScope:          c.Scope,
		CacheMode:             spaauth.CacheMode(c.CacheMode),
		// A terminal has no hidden iframe to attempt silent auth in.
		DisableSilentAuth: true,
	}
}
