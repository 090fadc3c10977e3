package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"slugstate/internal/domain"
	"slugstate/internal/repository"
	"slugstate/internal/service"
	"slugstate/internal/transport"
	"slugstate/pkg/autoconfig"
	"slugstate/pkg/codec"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/google/uuid"
)

const defaultCouchDB = "slugctl"

var errCustomStrategy = errors.New("the custom strategy needs a resolver and is not available from the command line")

// client bundles everything a state command needs.
type client struct {
	cfg       *Config
	engine    *service.OfflineService
	transport *transport.HTTPTransport
}

func resolvePassphrase() string {
	if passphrase != "" {
		return passphrase
	}
	return os.Getenv("SLUGCTL_PASSPHRASE")
}

// parseToggle maps "on"/"off" to an explicit setting and "auto" or ""
// to an unset one.
func parseToggle(name, value string) (*bool, error) {
	switch strings.ToLower(value) {
	case "", "auto":
		return nil, nil
	case "on", "true", "yes":
		return autoconfig.Bool(true), nil
	case "off", "false", "no":
		return autoconfig.Bool(false), nil
	default:
		return nil, fmt.Errorf("%s must be on, off or auto, got %q", name, value)
	}
}

func codecSettings(cfg *Config) (autoconfig.Settings, autoconfig.Mode, error) {
	var settings autoconfig.Settings

	compress, err := parseToggle("codec.compress", cfg.Codec.Compress)
	if err != nil {
		return settings, 0, err
	}
	encrypt, err := parseToggle("codec.encrypt", cfg.Codec.Encrypt)
	if err != nil {
		return settings, 0, err
	}
	algorithm, err := codec.ParseAlgorithm(cfg.Codec.Algorithm)
	if err != nil {
		return settings, 0, err
	}
	mode, err := autoconfig.ParseMode(cfg.Codec.Mode)
	if err != nil {
		return settings, 0, err
	}

	settings.Compress = compress
	settings.Encrypt = encrypt
	settings.Algorithm = algorithm
	// Records have to outlive the process, so small values are persisted too.
	settings.PersistOffline = autoconfig.Bool(true)

	return settings, mode, nil
}

func loadPolicy(cfg *Config) (*autoconfig.Policy, error) {
	if cfg.Codec.Policy == "" {
		return autoconfig.DefaultPolicy(), nil
	}
	return autoconfig.LoadPolicy(cfg.Codec.Policy)
}

// offlineConfig turns the file config into engine options.
func offlineConfig(cfg *Config, password string) (service.OfflineConfig, error) {
	var out service.OfflineConfig

	strategy, err := domain.ParseResolutionStrategy(cfg.Sync.Strategy)
	if err != nil {
		return out, err
	}
	if strategy == domain.ResolutionCustom {
		return out, errCustomStrategy
	}

	var interval time.Duration
	if cfg.Sync.Interval != "" {
		interval, err = time.ParseDuration(cfg.Sync.Interval)
		if err != nil {
			return out, fmt.Errorf("invalid sync.interval: %w", err)
		}
	}

	switch cfg.Sync.Store {
	case "", "file", "couch":
	default:
		return out, fmt.Errorf("sync.store must be file or couch, got %q", cfg.Sync.Store)
	}

	settings, mode, err := codecSettings(cfg)
	if err != nil {
		return out, err
	}
	policy, err := loadPolicy(cfg)
	if err != nil {
		return out, err
	}

	return service.OfflineConfig{
		Strategy:    strategy,
		Settings:    settings,
		Mode:        mode,
		Policy:      policy,
		Password:    password,
		Interval:    interval,
		Concurrency: cfg.Sync.Concurrency,
		DeviceID:    cfg.Server.DeviceID,
	}, nil
}

func openStore(ctx context.Context, cfg *Config, dir string) (repository.LocalStore, error) {
	if cfg.Sync.Store != "couch" {
		return repository.NewFileStore(filepath.Join(dir, "state"))
	}

	if cfg.Sync.CouchURL == "" {
		return nil, fmt.Errorf("sync.couch_url is required for the couch store")
	}
	couch, err := kivik.New("couch", cfg.Sync.CouchURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
	}

	dbName := cfg.Sync.CouchDB
	if dbName == "" {
		dbName = defaultCouchDB
	}
	exists, err := couch.DBExists(ctx, dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}
	if !exists {
		if err := couch.CreateDB(ctx, dbName); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}
	return repository.NewCouchStore(couch, dbName), nil
}

// newTransport returns nil when the CLI has no server session.
func newTransport(cfg *Config) *transport.HTTPTransport {
	if cfg.Server.URL == "" || cfg.Auth.AccessToken == "" {
		return nil
	}

	tr := transport.NewHTTPTransport(cfg.Server.URL, nil)
	tr.SetTokens(cfg.Auth.AccessToken, cfg.Auth.RefreshToken)
	tr.OnRefresh(func(accessToken string) {
		cfg.Auth.AccessToken = accessToken
		if err := saveConfig(cfg); err != nil {
			log.Printf("Failed to persist refreshed token: %v", err)
		}
	})
	return tr
}

func newClient(ctx context.Context) (*client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	dir, err := configDir()
	if err != nil {
		return nil, err
	}

	if cfg.Server.DeviceID == "" {
		cfg.Server.DeviceID = uuid.New().String()
		if err := saveConfig(cfg); err != nil {
			return nil, err
		}
	}

	opts, err := offlineConfig(cfg, resolvePassphrase())
	if err != nil {
		return nil, err
	}

	keys, _, err := generatedKey()
	if err != nil {
		return nil, err
	}
	c := codec.New(codec.Options{Keys: keys})

	store, err := openStore(ctx, cfg, dir)
	if err != nil {
		return nil, err
	}

	tr := newTransport(cfg)
	var remote service.RemoteTransport
	if tr != nil {
		remote = tr
	}

	return &client{
		cfg:       cfg,
		engine:    service.NewOfflineService(c, store, remote, opts),
		transport: tr,
	}, nil
}

// readValue parses a JSON argument; "-" reads it from stdin.
func readValue(arg string, stdin io.Reader) (any, error) {
	data := []byte(arg)
	if arg == "-" {
		var err error
		data, err = io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("value must be JSON: %w", err)
	}
	return value, nil
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(value)
}

func valueOrDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func maskToken(token string) string {
	if len(token) <= 12 {
		return "****"
	}
	return token[:6] + "..." + token[len(token)-4:]
}
