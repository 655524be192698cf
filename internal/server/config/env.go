package config

import "github.com/caarlos0/env/v11"

// parseEnv overlays USERMGMT_-prefixed environment variables onto the config.
// Unset variables leave the current values in place.
func parseEnv(config *Config) {
	if err := env.Parse(config); err != nil {
		panic(err)
	}
}
