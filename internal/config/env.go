package config

import (
	"github.com/caarlos0/env/v11"
)

// parseEnv overlays ASSETSYNC_* environment variables. Unset variables leave
// the current value in place.
func parseEnv(config *Config) {
	if err := env.Parse(config); err != nil {
		panic(err)
	}
}
