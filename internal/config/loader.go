package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// InitViper points Viper at the configuration file and binds the
// environment inputs. If configFile is empty, ambit.yaml/.yml is
// searched in the standard locations; a missing file is not an error.
// The search requires an explicit YAML extension so the binary itself
// (same base name, no extension) is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// Nothing found: leave name/type set without search paths so
		// ReadInConfig returns ConfigFileNotFoundError, which Load
		// treats as env-only operation.
		viper.SetConfigName("ambit")
		viper.SetConfigType("yaml")
	}

	// Defaults that a zero check after unmarshal cannot express: an
	// explicit false or empty string in the file must win over them.
	viper.SetDefault("fail_closed", true)
	viper.SetDefault("headless", true)
	viper.SetDefault("enable_scope_validation", true)
	viper.SetDefault("history_path", "./ambit-history.db")

	bindEnvKeys()
}

// findConfigFile searches standard locations for an ambit config file
// with an explicit YAML extension.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".ambit"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "ambit"))
		}
	} else {
		paths = append(paths, "/etc/ambit")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths returns the first ambit.yaml or ambit.yml found
// in the given directories, or empty.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "ambit"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindEnvKeys binds each documented environment input by its exact
// name. No prefix, no AutomaticEnv: the environment surface is this
// list and nothing else, everything further comes from the file.
func bindEnvKeys() {
	_ = viper.BindEnv("scope_file", "SCOPE_FILE")
	_ = viper.BindEnv("fail_closed", "FAIL_CLOSED")
	_ = viper.BindEnv("engagement_id", "ENGAGEMENT_ID")
	_ = viper.BindEnv("headless", "HEADLESS")
	_ = viper.BindEnv("burp_proxy_url", "BURP_PROXY_URL")
	_ = viper.BindEnv("evidence_dir", "EVIDENCE_DIR")
	_ = viper.BindEnv("default_timeout", "DEFAULT_TIMEOUT")
	_ = viper.BindEnv("max_sessions", "MAX_SESSIONS")
	_ = viper.BindEnv("enable_scope_validation", "ENABLE_SCOPE_VALIDATION")
	_ = viper.BindEnv("audit_dir", "AUDIT_DIR")
}

// Load reads the configuration, applies defaults, and validates.
func Load() (*Config, error) {
	cfg, err := LoadRaw()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadRaw reads the configuration and applies defaults without
// validating. Commands that only need a corner of the config (approve
// needs the spool directory, nothing else) use this so an unset
// SCOPE_FILE does not stop them.
func LoadRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// No file: environment variables and defaults only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the loaded config file path, or empty when
// running from environment variables alone.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
