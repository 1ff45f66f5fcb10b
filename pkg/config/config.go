// Package config provides a reusable loader for executord configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"github.com/spf13/viper"

	"github.com/Jeffrey-P-McAteer/weverywhere/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for one executord server. Unlike the
// original layered, glob-merged configuration this package was adapted
// from, a single file plus environment overrides is all an executor needs
// (its Non-goals exclude multi-node orchestration config).
type Config struct {
	Identity struct {
		HumanName      string `mapstructure:"human_name" json:"human_name"`
		PrivateKeyPath string `mapstructure:"private_key_path" json:"private_key_path"`
		ValiditySecs   int    `mapstructure:"validity_seconds" json:"validity_seconds"`
	} `mapstructure:"identity" json:"identity"`

	Trust struct {
		PeersFile string `mapstructure:"peers_file" json:"peers_file"`
	} `mapstructure:"trust" json:"trust"`

	Network struct {
		Interface     string `mapstructure:"interface" json:"interface"`
		MulticastAddr string `mapstructure:"multicast_addr" json:"multicast_addr"`
		Port          int    `mapstructure:"port" json:"port"`
	} `mapstructure:"network" json:"network"`

	Fuel struct {
		UntrustedBudget uint64 `mapstructure:"untrusted_budget" json:"untrusted_budget"`
		TrustedBudget   uint64 `mapstructure:"trusted_budget" json:"trusted_budget"`
	} `mapstructure:"fuel" json:"fuel"`

	RateLimit struct {
		PerSecond float64 `mapstructure:"per_second" json:"per_second"`
		Burst     int     `mapstructure:"burst" json:"burst"`
	} `mapstructure:"rate_limit" json:"rate_limit"`

	Metrics struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"metrics" json:"metrics"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

func setDefaults() {
	viper.SetDefault("identity.validity_seconds", 3600)
	viper.SetDefault("network.multicast_addr", "224.0.0.3")
	viper.SetDefault("network.port", 2240)
	viper.SetDefault("fuel.untrusted_budget", 16384)
	viper.SetDefault("rate_limit.per_second", 20)
	viper.SetDefault("rate_limit.burst", 40)
	viper.SetDefault("metrics.listen_addr", "127.0.0.1:9464")
	viper.SetDefault("logging.level", "info")
}

// Load reads path (or, if empty, "executord.yaml" from the current
// directory and /etc/executord) and applies WEVERYWHERE_-prefixed
// environment overrides on top. The resulting configuration is stored in
// AppConfig and returned.
func Load(path string) (*Config, error) {
	setDefaults()

	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("executord")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/executord")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, utils.Wrap(err, "load config")
		}
	}

	viper.SetEnvPrefix("weverywhere")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the WEVERYWHERE_CONFIG environment
// variable as the config file path, if set.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("WEVERYWHERE_CONFIG", ""))
}
