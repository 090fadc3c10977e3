package autoconfig

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writePolicy(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write policy: %v", err)
	}
	return path
}

func TestLoadPolicy_JSONC(t *testing.T) {
	path := writePolicy(t, "policy.jsonc", `{
  // compress earlier than the default
  "compress_threshold": 512,
  "url_budget": 1500, /* tighter budget */
}`)

	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}

	if policy.CompressThreshold != 512 {
		t.Errorf("expected compress threshold 512, got %d", policy.CompressThreshold)
	}
	if policy.URLBudget != 1500 {
		t.Errorf("expected URL budget 1500, got %d", policy.URLBudget)
	}
	if policy.StrongThreshold != DefaultStrongThreshold {
		t.Errorf("unset strong threshold should keep default, got %d", policy.StrongThreshold)
	}
	if !reflect.DeepEqual(policy.SensitiveTerms, DefaultSensitiveTerms) {
		t.Errorf("unset terms should keep defaults, got %v", policy.SensitiveTerms)
	}
}

func TestLoadPolicy_YAML(t *testing.T) {
	path := writePolicy(t, "policy.yaml", `
strong_threshold: 20480
sensitive_terms:
  - password
  - iban
`)

	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}

	if policy.StrongThreshold != 20480 {
		t.Errorf("expected strong threshold 20480, got %d", policy.StrongThreshold)
	}
	if !reflect.DeepEqual(policy.SensitiveTerms, []string{"password", "iban"}) {
		t.Errorf("unexpected terms: %v", policy.SensitiveTerms)
	}
}

func TestLoadPolicy_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unsupported extension", "policy.toml", `url_budget = 10`},
		{"invalid json", "policy.json", `{"url_budget": }`},
		{"invalid thresholds", "policy.yml", "compress_threshold: 4096\nstrong_threshold: 1024\n"},
		{"empty term", "policy.json", `{"sensitive_terms": ["password", ""]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadPolicy(writePolicy(t, tt.file, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
