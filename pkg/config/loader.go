package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load fills the given struct from environment variables, using `env`
// tags to map fields.
//
// Example:
//
//	type Config struct {
//	    Port      int    `env:"HTTP_PORT" envDefault:"8080"`
//	    ZohoOrgID string `env:"ZOHO_ORGANIZATION_ID,required"`
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
