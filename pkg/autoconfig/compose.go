package autoconfig

import (
	"fmt"

	"slugstate/pkg/codec"
)

// Mode decides how a Plan is combined with explicit settings.
type Mode int

const (
	// ModeDefaults fills every unset setting from the Plan.
	ModeDefaults Mode = iota
	// ModeAdvisory never applies the Plan; unset settings are off.
	ModeAdvisory
)

func (m Mode) String() string {
	switch m {
	case ModeDefaults:
		return "defaults"
	case ModeAdvisory:
		return "advisory"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "defaults":
		return ModeDefaults, nil
	case "advisory":
		return ModeAdvisory, nil
	default:
		return 0, fmt.Errorf("unknown auto-config mode: %q", s)
	}
}

// Settings are the caller's explicit choices. A nil field is unset.
type Settings struct {
	Compress       *bool
	Algorithm      codec.Algorithm
	Encrypt        *bool
	PersistInURL   *bool
	PersistOffline *bool
}

// Config is the effective configuration used for one write.
type Config struct {
	Compress       bool
	Algorithm      codec.Algorithm
	Encrypt        bool
	PersistInURL   bool
	PersistOffline bool
}

// Bool returns a pointer to v for use in Settings.
func Bool(v bool) *bool {
	return &v
}

// Compose merges explicit settings with plan. Explicit settings always
// win; plan may be nil.
func Compose(settings Settings, plan *Plan, mode Mode) Config {
	var inferred Plan
	if plan != nil && mode == ModeDefaults {
		inferred = *plan
	}

	cfg := Config{
		Compress:       pick(settings.Compress, inferred.ShouldCompress),
		Encrypt:        pick(settings.Encrypt, inferred.ShouldEncrypt),
		PersistInURL:   pick(settings.PersistInURL, inferred.PersistInURL),
		PersistOffline: pick(settings.PersistOffline, inferred.PersistOffline),
	}

	switch {
	case !cfg.Compress:
		cfg.Algorithm = codec.AlgorithmNone
	case settings.Algorithm != "" && settings.Algorithm != codec.AlgorithmNone:
		cfg.Algorithm = settings.Algorithm
	case inferred.CompressionAlgorithm != "" && inferred.CompressionAlgorithm != codec.AlgorithmNone:
		cfg.Algorithm = inferred.CompressionAlgorithm
	default:
		cfg.Algorithm = codec.AlgorithmFast
	}

	return cfg
}

// EncodeOptions converts the config into codec options.
func (c Config) EncodeOptions(password string) codec.EncodeOptions {
	return codec.EncodeOptions{
		Compress:  c.Compress,
		Algorithm: c.Algorithm,
		Encrypt:   c.Encrypt,
		Password:  password,
	}
}

func pick(explicit *bool, inferred bool) bool {
	if explicit != nil {
		return *explicit
	}
	return inferred
}
