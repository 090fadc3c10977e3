package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// Config is the CLI configuration stored in ~/.slugctl/config.toml.
type Config struct {
	Server ConfigServer `toml:"server"`
	Auth   ConfigAuth   `toml:"auth"`
	Sync   ConfigSync   `toml:"sync"`
	Codec  ConfigCodec  `toml:"codec"`
}

type ConfigServer struct {
	URL      string `toml:"url"`
	DeviceID string `toml:"device_id"`
}

type ConfigAuth struct {
	Email        string `toml:"email"`
	AccessToken  string `toml:"access_token"`
	RefreshToken string `toml:"refresh_token"`
}

// ConfigSync selects the conflict strategy and where local records live.
// Store is "file" (default) or "couch".
type ConfigSync struct {
	Strategy    string `toml:"strategy"`
	Interval    string `toml:"interval"`
	Concurrency int    `toml:"concurrency"`
	Store       string `toml:"store"`
	CouchURL    string `toml:"couch_url"`
	CouchDB     string `toml:"couch_db"`
}

// ConfigCodec holds explicit codec settings. Compress and Encrypt take
// "on", "off" or "auto"; auto leaves the choice to the policy.
type ConfigCodec struct {
	Mode      string `toml:"mode"`
	Compress  string `toml:"compress"`
	Algorithm string `toml:"algorithm"`
	Encrypt   string `toml:"encrypt"`
	Policy    string `toml:"policy"`
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".slugctl")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig returns a zero Config when the file does not exist yet.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a field using dot notation, e.g. "sync.strategy".
func setConfigValue(cfg *Config, key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("key must use dot notation: section.field (e.g. server.url)")
	}

	switch section {
	case "server":
		switch field {
		case "url":
			cfg.Server.URL = value
		case "device_id":
			cfg.Server.DeviceID = value
		default:
			return fmt.Errorf("unknown field %q in section [server]", field)
		}
	case "auth":
		switch field {
		case "email":
			cfg.Auth.Email = value
		case "access_token":
			cfg.Auth.AccessToken = value
		case "refresh_token":
			cfg.Auth.RefreshToken = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	case "sync":
		switch field {
		case "strategy":
			cfg.Sync.Strategy = value
		case "interval":
			cfg.Sync.Interval = value
		case "concurrency":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return fmt.Errorf("sync.concurrency must be a non-negative integer")
			}
			cfg.Sync.Concurrency = n
		case "store":
			cfg.Sync.Store = value
		case "couch_url":
			cfg.Sync.CouchURL = value
		case "couch_db":
			cfg.Sync.CouchDB = value
		default:
			return fmt.Errorf("unknown field %q in section [sync]", field)
		}
	case "codec":
		switch field {
		case "mode":
			cfg.Codec.Mode = value
		case "compress":
			cfg.Codec.Compress = value
		case "algorithm":
			cfg.Codec.Algorithm = value
		case "encrypt":
			cfg.Codec.Encrypt = value
		case "policy":
			cfg.Codec.Policy = value
		default:
			return fmt.Errorf("unknown field %q in section [codec]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: server, auth, sync, codec)", section)
	}

	// Reject values the client could not start with.
	_, err := offlineConfig(cfg, "")
	return err
}

var passphrase string

var rootCmd = &cobra.Command{
	Use:           "slugctl",
	Short:         "slugstate command-line client",
	Long:          "Encode application state into compact tokens and keep it in sync across devices.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&passphrase, "passphrase", "", "passphrase for encrypted tokens (default $SLUGCTL_PASSPHRASE)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
