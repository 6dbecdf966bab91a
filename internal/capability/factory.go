package capability

import (
	"log/slog"
	"os"
	"strings"

	"github.com/starford/vaultkeeper/internal/apperr"
)

// Provider names accepted by New.
const (
	ProviderAuto      = "auto"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderRules     = "rules"
)

// Settings selects and configures a Capability.
type Settings struct {
	Provider     string
	Model        string
	APIKey       string
	BaseURL      string
	Instructions string
	Retry        RetryConfig
}

// New builds the configured Capability wrapped in Retrying. The "auto"
// provider picks Anthropic, then OpenAI, by which API key is present in the
// environment, and otherwise falls back to the rule-based capability.
func New(s Settings, logger *slog.Logger) (Capability, error) {
	if logger == nil {
		logger = slog.Default()
	}
	provider := strings.ToLower(strings.TrimSpace(s.Provider))
	if provider == "" || provider == ProviderAuto {
		provider = autoProvider(s)
		logger.Info("capability: provider selected", slog.String("provider", provider))
	}

	var c Completer
	switch provider {
	case ProviderRules:
		return NewRules(), nil
	case ProviderAnthropic:
		a, err := NewAnthropic(s.APIKey, s.Model, s.BaseURL)
		if err != nil {
			return nil, err
		}
		c = a
	case ProviderOpenAI:
		o, err := NewOpenAI(s.APIKey, s.Model, s.BaseURL)
		if err != nil {
			return nil, err
		}
		c = o
	default:
		return nil, apperr.Newf("capability: unknown provider %q", s.Provider)
	}
	return NewRetrying(NewLLM(c, s.Instructions, logger), s.Retry, logger), nil
}

func autoProvider(s Settings) string {
	switch {
	case s.APIKey != "" && s.BaseURL != "":
		return ProviderOpenAI
	case os.Getenv("ANTHROPIC_API_KEY") != "":
		return ProviderAnthropic
	case os.Getenv("OPENAI_API_KEY") != "" || os.Getenv("OPENAI_BASE_URL") != "":
		return ProviderOpenAI
	default:
		return ProviderRules
	}
}
