package internal

import (
	"fmt"

	"github.com/adamroke/ytmp3ify/internal/api"
	"github.com/adamroke/ytmp3ify/internal/api/auth"
	"github.com/adamroke/ytmp3ify/internal/extract"
	"github.com/adamroke/ytmp3ify/internal/media"
	"github.com/adamroke/ytmp3ify/internal/remux"
	"github.com/adamroke/ytmp3ify/internal/scratch"
	"github.com/adamroke/ytmp3ify/internal/ytdl"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the top-level server configuration, assembled from the
// config files and environment of each subsystem.
type Config struct {
	Rest       api.RestConfig `yaml:"api"`
	Auth       auth.Config    `yaml:"auth" env-required:"true"`
	Downloader ytdl.Config    `yaml:"downloader"`
	Remux      remux.Config   `yaml:"remux"`
	Media      media.Config   `yaml:"media"`
	Scratch    scratch.Config `yaml:"scratch"`
	Extract    extract.Config `yaml:"extract"`
}

// LoadFromFile reads a YAML configuration file in to the Config,
// applying environment variable overrides and defaults.
func (config *Config) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	return nil
}

// LoadFromEnv populates the Config purely from environment variables
// and struct defaults, for deployments without a config file.
func (config *Config) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	return nil
}
