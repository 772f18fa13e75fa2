package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/kraikub/katrade-accounts/pkg/database"
	"github.com/kraikub/katrade-accounts/pkg/utilities"
)

// Config is the process configuration for the API server. Nested structs
// are parsed from the same environment without a prefix.
type Config struct {
	Port     string `env:"PORT" envDefault:"8431"`
	Log      utilities.Config
	Database database.Config

	JWTSecret string        `env:"JWT_SECRET,required,notEmpty"`
	Issuer    string        `env:"TOKEN_ISSUER" envDefault:"katrade-accounts"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
	CodeTTL   time.Duration `env:"CODE_TTL" envDefault:"10m"`

	MailServiceHost string        `env:"MAIL_SERVICE_HOST,required,notEmpty"`
	MailTimeout     time.Duration `env:"MAIL_TIMEOUT" envDefault:"10s"`

	SigninRatePerMinute int   `env:"SIGNIN_RATE_PER_MINUTE" envDefault:"30"`
	DefaultAppQuota     int   `env:"DEFAULT_APP_QUOTA" envDefault:"3"`
	SnowflakeNode       int64 `env:"SNOWFLAKE_NODE" envDefault:"1"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if len(c.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters")
	}
	if c.TokenTTL <= 0 || c.CodeTTL <= 0 {
		return errors.New("TOKEN_TTL and CODE_TTL must be positive")
	}
	if c.SigninRatePerMinute <= 0 {
		return fmt.Errorf("invalid SIGNIN_RATE_PER_MINUTE: %d", c.SigninRatePerMinute)
	}
	if c.DefaultAppQuota < 0 {
		return fmt.Errorf("invalid DEFAULT_APP_QUOTA: %d", c.DefaultAppQuota)
	}
	return nil
}
