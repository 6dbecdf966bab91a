package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/vaultkeeper/internal/capability"
	"github.com/starford/vaultkeeper/internal/search"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration. It is loaded once and
// never mutated afterwards.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Vault      VaultConfig       `yaml:"vault"`
	SQLite     SQLiteConfig      `yaml:"sqlite"`
	Matching   MatchingConfig    `yaml:"matching"`
	Predicates PredicatesConfig  `yaml:"predicates"`
	Storage    StorageConfig     `yaml:"storage"`
	LLM        LLMConfig         `yaml:"llm"`
	Search     SearchConfig      `yaml:"search"`
	Auth       AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.Vault, &c.SQLite, &c.Matching, &c.Predicates, &c.Storage, &c.LLM, &c.Search, &c.Auth,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	// LogFile receives logs of interactive commands so the terminal stays
	// clean. Servers log to stdout.
	LogFile string     `yaml:"log_file"`
	HTTP    HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig locates the Markdown vault and names the user's own entity.
type VaultConfig struct {
	Path        string   `yaml:"path"`
	SelfEntity  string   `yaml:"self_entity"`
	SelfAliases []string `yaml:"self_aliases"`
	// InstructionsNote is a vault-relative note whose text is appended to
	// every capability prompt when present.
	InstructionsNote string `yaml:"instructions_note"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.SelfEntity, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// MatchingConfig tunes entity resolution and extraction.
type MatchingConfig struct {
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
	MinConfidence  float64 `yaml:"min_confidence"`
}

// Validate validates the matching configuration.
func (c *MatchingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.FuzzyThreshold, validation.Required, validation.Min(0.5), validation.Max(1.0)),
		validation.Field(&c.MinConfidence, validation.Min(0.0), validation.Max(1.0)),
	)
}

// PredicatesConfig declares predicate cardinality. Single-valued
// predicates are overwritten; everything else accumulates values. Multi is
// informational and must not overlap Single.
type PredicatesConfig struct {
	Single []string `yaml:"single"`
	Multi  []string `yaml:"multi"`
}

// Validate validates the predicate declarations.
func (c *PredicatesConfig) Validate() error {
	single := make(map[string]bool, len(c.Single))
	for _, p := range c.Single {
		single[p] = true
	}
	for _, p := range c.Multi {
		if single[p] {
			return fmt.Errorf("predicates: %q is declared both single and multi", p)
		}
	}
	return nil
}

// StorageConfig bounds the optimistic write loop.
type StorageConfig struct {
	MaxWriteAttempts int `yaml:"max_write_attempts"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxWriteAttempts, validation.Required, validation.Min(1), validation.Max(1000)),
	)
}

// LLMConfig selects the language capability.
type LLMConfig struct {
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	APIKey        string        `yaml:"api_key"`
	BaseURL       string        `yaml:"base_url"`
	MaxRetries    int           `yaml:"max_retries"`
	Backoff       time.Duration `yaml:"backoff"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Validate validates the LLM configuration.
func (c *LLMConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.In(
			capability.ProviderAuto, capability.ProviderAnthropic, capability.ProviderOpenAI, capability.ProviderRules)),
		validation.Field(&c.MaxRetries, validation.Min(0), validation.Max(10)),
		validation.Field(&c.RatePerSecond, validation.Min(0.0)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// SearchConfig configures the semantic index.
type SearchConfig struct {
	Embedder        string        `yaml:"embedder"`
	Model           string        `yaml:"model"`
	OllamaURL       string        `yaml:"ollama_url"`
	APIKey          string        `yaml:"api_key"`
	PersistPath     string        `yaml:"persist_path"`
	MinScore        float64       `yaml:"min_score"`
	Limit           int           `yaml:"limit"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// Validate validates the search configuration.
func (c *SearchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Embedder, validation.In(search.EmbedderHashing, search.EmbedderOllama, search.EmbedderOpenAI)),
		validation.Field(&c.MinScore, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.Limit, validation.Required, validation.Min(1), validation.Max(100)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			LogFile:  "./vaultkeeper.log",
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path:       "./vault",
			SelfEntity: "Me",
		},
		SQLite: SQLiteConfig{
			Path: "./vaultkeeper.db",
		},
		Matching: MatchingConfig{
			FuzzyThreshold: 0.8,
			MinConfidence:  0.5,
		},
		Predicates: PredicatesConfig{
			Single: []string{"birthday", "age", "lives_in", "works_at", "partner", "email", "phone"},
		},
		Storage: StorageConfig{
			MaxWriteAttempts: 5,
		},
		LLM: LLMConfig{
			Provider:   capability.ProviderAuto,
			MaxRetries: 3,
			Backoff:    500 * time.Millisecond,
			Timeout:    60 * time.Second,
		},
		Search: SearchConfig{
			Embedder: search.EmbedderHashing,
			MinScore: 0.35,
			Limit:    10,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
