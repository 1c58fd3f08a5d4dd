// Package config provides a reusable loader for fednet node configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/coopfed/fednet/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a fednet node. It mirrors
// the structure of the YAML files under cmd/fednode/config.
type Config struct {
	Federation struct {
		ScopeID       string `mapstructure:"scope_id" json:"scope_id"`
		FederationID  string `mapstructure:"federation_id" json:"federation_id"`
		NodeDID       string `mapstructure:"node_did" json:"node_did"`
		TrustedPeers  []string `mapstructure:"trusted_peers" json:"trusted_peers"`
	} `mapstructure:"federation" json:"federation"`

	DAG struct {
		StorePath    string `mapstructure:"store_path" json:"store_path"`
		GenesisFile  string `mapstructure:"genesis_file" json:"genesis_file"`
	} `mapstructure:"dag" json:"dag"`

	Execution struct {
		AutoIssueReceipts  bool   `mapstructure:"auto_issue_receipts" json:"auto_issue_receipts"`
		AnchorReceipts     bool   `mapstructure:"anchor_receipts" json:"anchor_receipts"`
		ReceiptExportDir   string `mapstructure:"receipt_export_dir" json:"receipt_export_dir"`
		FuelLimit          uint64 `mapstructure:"fuel_limit" json:"fuel_limit"`
		ExecutionTimeoutMS int    `mapstructure:"execution_timeout_ms" json:"execution_timeout_ms"`
	} `mapstructure:"execution" json:"execution"`

	Scheduler struct {
		BasePriceMicros uint64 `mapstructure:"base_price_micros" json:"base_price_micros"`
		DispatchTimeoutMS int  `mapstructure:"dispatch_timeout_ms" json:"dispatch_timeout_ms"`
	} `mapstructure:"scheduler" json:"scheduler"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/fednode/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the FEDNET_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("FEDNET_ENV", ""))
}
