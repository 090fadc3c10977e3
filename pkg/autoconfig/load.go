package autoconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// LoadPolicy reads policy overrides from a .json, .jsonc, .yaml or .yml
// file. Fields missing from the file keep their default values.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	return ParsePolicy(data, filepath.Ext(path))
}

// ParsePolicy decodes policy overrides in the format named by ext.
func ParsePolicy(data []byte, ext string) (*Policy, error) {
	policy := DefaultPolicy()

	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), policy); err != nil {
			return nil, fmt.Errorf("parsing policy file: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, policy); err != nil {
			return nil, fmt.Errorf("parsing policy file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported policy file extension: %q", ext)
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}
