//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package config provides configuration management for the policy
// engine using [Viper] for flexible configuration sources, grounded on
// the teacher's pkg/core/config package.
//
// Configuration can be provided via:
//   - A YAML configuration file
//   - Environment variables with the APE_ prefix
//   - Programmatic defaults
//
// # Configuration File
//
// By default the engine looks for ape-config.yaml in the current
// directory. Override the location with:
//
//	APE_CONFIG_PATH=/etc/accessengine
//	APE_CONFIG_FILENAME=production-config
//
// # Configuration Keys
//
// Only the keys below are recognised by the core engine; per spec.md §6,
// any other key present in the file or environment is ignored rather
// than rejected:
//   - log.level: log level configuration (default ".:info")
//   - audit.cachesize: PolicyEngineOptions.AuditCacheSize (default 4096)
//   - tags.disableevaluation: PolicyEngineOptions.DisableTagPolicyEvaluation (default false)
//
// [Viper]: https://github.com/spf13/viper
package config

import (
	"os"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/coreauthz/engine/internal/logging"
	"github.com/coreauthz/engine/pkg/policy"
)

// Environment variable and default path constants for configuration loading.
const (
	// EnvVarPrefix is the prefix for all access-policy-engine environment
	// variables. For example the key "log.level" becomes APE_LOG_LEVEL.
	EnvVarPrefix string = "APE"

	// ConfigPathEnv specifies the directory containing the configuration file.
	ConfigPathEnv string = "APE_CONFIG_PATH"

	// ConfigFileNameEnv specifies the configuration file name (without extension).
	ConfigFileNameEnv string = "APE_CONFIG_FILENAME"

	// ConfigDefaultPath is the default directory to search for config files.
	ConfigDefaultPath string = "."

	// ConfigDefaultFilename is the default configuration file name (without extension).
	ConfigDefaultFilename string = "ape-config"
)

// Configuration key constants for use with [VConfig].
const (
	// LogLevel configures the logging mini-DSL consumed by internal/logging.
	LogLevel string = "log.level"

	// AuditCacheSize bounds PolicyEngineOptions.AuditCacheSize.
	AuditCacheSize string = "audit.cachesize"

	// TagsDisableEvaluation mirrors PolicyEngineOptions.DisableTagPolicyEvaluation.
	TagsDisableEvaluation string = "tags.disableevaluation"
)

var (
	once    sync.Once
	logger  = logging.GetLogger("policyengine.config")
	// VConfig is the global Viper configuration instance. Most
	// applications don't need to access it directly; use [Load] to
	// obtain ready-to-use [policy.EngineOptions].
	VConfig *viper.Viper
)

// Init sets up Viper's search paths, environment-variable handling, and
// defaults without reading any file. Safe to call multiple times;
// subsequent calls are no-ops. Load calls Init automatically.
func Init() {
	once.Do(doInitialize)
}

// ResetConfig clears all configuration and reinitializes with defaults.
//
// WARNING: intended for tests only. It discards any previously loaded
// configuration file or environment variable override and resets the
// global VConfig instance.
func ResetConfig() {
	VConfig = nil
	once = sync.Once{}
	Init()
}

func doInitialize() {
	VConfig = viper.New()

	VConfig.AddConfigPath(getConfigPath())
	VConfig.SetConfigName(getConfigFileName())
	VConfig.SetConfigType("yaml")

	VConfig.SetEnvPrefix(EnvVarPrefix)
	VConfig.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	VConfig.AutomaticEnv()

	VConfig.SetDefault(LogLevel, ".:info")
	VConfig.SetDefault(AuditCacheSize, 4096)
	VConfig.SetDefault(TagsDisableEvaluation, false)
}

func getConfigPath() string {
	if p, ok := os.LookupEnv(ConfigPathEnv); ok {
		return p
	}
	return ConfigDefaultPath
}

func getConfigFileName() string {
	if n, ok := os.LookupEnv(ConfigFileNameEnv); ok {
		return n
	}
	return ConfigDefaultFilename
}

// Load initialises Viper (if not already done), reads the configuration
// file if present (a missing file is not an error; env vars and defaults
// still apply), and returns the engine options derived from it. It also
// applies log.level to internal/logging via UpdateLogLevels.
func Load() (policy.EngineOptions, error) {
	Init()

	if err := VConfig.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return policy.EngineOptions{}, err
		}
		logger.Debugf("config", "Load", "no config file found, using defaults and environment")
	}

	logging.UpdateLogLevels(VConfig.GetString(LogLevel))

	return policy.EngineOptions{
		AuditCacheSize:             VConfig.GetInt(AuditCacheSize),
		DisableTagPolicyEvaluation: VConfig.GetBool(TagsDisableEvaluation),
	}, nil
}
