// Package config loads a fednode's runtime configuration: a .env file via
// godotenv (if present), then YAML + environment overrides via
// pkg/config.Load, matching the teacher's config-loading order.
package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	pkgconfig "github.com/coopfed/fednet/pkg/config"
)

// Load loads .env (if present), then the environment-specific YAML
// configuration named env.
func Load(env string, log *logrus.Logger) (*pkgconfig.Config, error) {
	if log == nil {
		log = logrus.New()
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("config: failed to load .env file")
	}
	return pkgconfig.Load(env)
}

// LoadFromEnv loads configuration using FEDNET_ENV, the fednode equivalent
// of pkg/config.LoadFromEnv with .env support layered in front.
func LoadFromEnv(log *logrus.Logger) (*pkgconfig.Config, error) {
	return Load(os.Getenv("FEDNET_ENV"), log)
}
