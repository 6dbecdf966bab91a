package internal

import (
	"strings"
	"testing"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Vault.SelfEntity != "Me" {
		t.Errorf("self entity = %q, want %q", cfg.Vault.SelfEntity, "Me")
	}
	if cfg.Matching.FuzzyThreshold != 0.8 {
		t.Errorf("fuzzy threshold = %v, want 0.8", cfg.Matching.FuzzyThreshold)
	}
}

func TestFullConfig_SectionsValidated(t *testing.T) {
	cases := map[string]func(*Config){
		"auth":      func(c *Config) { c.Auth.Mode, c.Auth.Token = "token", "" },
		"vault":     func(c *Config) { c.Vault.Path = "" },
		"self":      func(c *Config) { c.Vault.SelfEntity = "" },
		"threshold": func(c *Config) { c.Matching.FuzzyThreshold = 1.5 },
		"attempts":  func(c *Config) { c.Storage.MaxWriteAttempts = 0 },
		"provider":  func(c *Config) { c.LLM.Provider = "oracle" },
		"embedder":  func(c *Config) { c.Search.Embedder = "bag-of-words" },
		"port":      func(c *Config) { c.App.HTTP.Port = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestPredicatesConfig_Overlap(t *testing.T) {
	cfg := PredicatesConfig{Single: []string{"birthday"}, Multi: []string{"likes", "birthday"}}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("overlapping predicates should fail")
	}
	if !strings.Contains(err.Error(), "birthday") {
		t.Errorf("error should name the predicate: %v", err)
	}
}
