package proxycred

import (
	"strings"
	"testing"
)

func TestGenerateHasStablePrefixAndEntropy(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		key, err := Generate()
		if err != nil {
			t.Fatalf("Generate() error: %v", err)
		}
		if !strings.HasPrefix(key, keyPrefix) {
			t.Fatalf("expected prefix %q, got %q", keyPrefix, key)
		}
		suffix := strings.TrimPrefix(key, keyPrefix)
		if len(suffix) < 32 {
			t.Errorf("suffix too short for >=32 bytes of entropy: %q (%d chars)", suffix, len(suffix))
		}
		if seen[key] {
			t.Fatalf("Generate() produced a duplicate key: %s", key)
		}
		seen[key] = true
	}
}

func TestModelAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		model   string
		want    bool
	}{
		{"no restriction", nil, "gpt-4", true},
		{"empty restriction", []string{}, "gpt-4", true},
		{"model in list", []string{"gpt-4o-mini"}, "gpt-4o-mini", true},
		{"model not in list", []string{"gpt-4o-mini"}, "gpt-4", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Credential{AllowedModels: tt.allowed}
			if got := c.ModelAllowed(tt.model); got != tt.want {
				t.Errorf("ModelAllowed(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}
