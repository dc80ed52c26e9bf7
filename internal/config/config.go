package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Log      LogConfig      `mapstructure:"log"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
}

// DatabaseConfig holds sqlite settings. An empty path keeps the audit log in
// memory only.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LedgerConfig holds fee settings.
type LedgerConfig struct {
	ReferenceCurrency string `mapstructure:"reference_currency"`
}

// LogConfig selects the zap profile.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// SnapshotConfig points at the rates/users/accounts file loaded at start.
type SnapshotConfig struct {
	Path string `mapstructure:"path"`
}

func defaultConfigPath() string {
	if p := os.Getenv("SPLITPAY_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "splitpay", "config.toml")
}

// Load reads configuration from file and env. Env var overrides use prefix
// SPLITPAY_; a .env file in the working directory is loaded first.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "splitpay", "audit.db"))
	v.SetDefault("ledger.reference_currency", "RON")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("snapshot.path", "")

	v.SetConfigType("toml")
	if cfgPath := os.Getenv("SPLITPAY_CONFIG"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "splitpay"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("SPLITPAY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// a missing file is fine, a broken one is not
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	c.Ledger.ReferenceCurrency = strings.ToUpper(strings.TrimSpace(c.Ledger.ReferenceCurrency))
	return c, nil
}

// Save writes cfg to $SPLITPAY_CONFIG or the default location, creating the
// directory if needed.
func Save(cfg Config) error {
	path := defaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("database.path", cfg.Database.Path)
	v.Set("ledger.reference_currency", cfg.Ledger.ReferenceCurrency)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.development", cfg.Log.Development)
	v.Set("snapshot.path", cfg.Snapshot.Path)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
