package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds all flowengine configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	DBPath          string `mapstructure:"db_path"`
	LogLevel        string `mapstructure:"log_level"`
	RedisAddr       string `mapstructure:"redis_addr"`
	InternalAPIURL  string `mapstructure:"internal_api_url"`
	PublicURL       string `mapstructure:"public_url"`
	VaultPassphrase string `mapstructure:"vault_passphrase"`
	VaultSalt       string `mapstructure:"vault_salt"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:     ":4100",
		DBPath:         filepath.Join(flowengineDir(), "flowengine.db"),
		LogLevel:       "info",
		TimeoutSeconds: 600,
	}
}

func flowengineDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowengine"
	}
	return filepath.Join(home, ".flowengine")
}

func settingsPath() string {
	return filepath.Join(flowengineDir(), "settings.json")
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"listen-addr":      "listen_addr",
	"db-path":          "db_path",
	"log-level":        "log_level",
	"redis-addr":       "redis_addr",
	"internal-api-url": "internal_api_url",
	"public-url":       "public_url",
	"vault-passphrase": "vault_passphrase",
	"vault-salt":       "vault_salt",
	"timeout-seconds":  "timeout_seconds",
}

// newConfigViper registers defaults and the FLOWENGINE_ env prefix.
func newConfigViper() *viper.Viper {
	v := viper.New()
	d := defaultConfig()
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("redis_addr", d.RedisAddr)
	v.SetDefault("internal_api_url", d.InternalAPIURL)
	v.SetDefault("public_url", d.PublicURL)
	v.SetDefault("vault_passphrase", d.VaultPassphrase)
	v.SetDefault("vault_salt", d.VaultSalt)
	v.SetDefault("timeout_seconds", d.TimeoutSeconds)

	v.SetEnvPrefix("FLOWENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// bindFlags binds every known flag defined on cmd to its config key.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// loadConfig reads the settings file (ignored if missing) and resolves the
// layered configuration.
func loadConfig(v *viper.Viper, path string) (Config, error) {
	if path == "" {
		path = settingsPath()
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
