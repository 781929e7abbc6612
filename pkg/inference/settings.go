package inference

import (
	"strings"

	"github.com/pkg/errors"
)

type Provider string

const (
	ProviderGoogleAI  Provider = "googleai"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
)

const (
	DefaultModel       = "gemini-3-pro-preview"
	DefaultTitleModel  = "gemini-2.5-flash-lite"
	DefaultTemperature = 0.7
)

type Settings struct {
	Provider    Provider `yaml:"provider"`
	Model       string   `yaml:"model"`
	TitleModel  string   `yaml:"title_model"`
	Temperature float64  `yaml:"temperature"`
	APIKey      string   `yaml:"api_key"`
	OllamaURL   string   `yaml:"ollama_url"`
}

func DefaultSettings() Settings {
	return Settings{
		Provider:    ProviderGoogleAI,
		Model:       DefaultModel,
		TitleModel:  DefaultTitleModel,
		Temperature: DefaultTemperature,
		OllamaURL:   "http://localhost:11434",
	}
}

// Validate rejects settings that would only fail on the first chat turn.
func (s Settings) Validate() error {
	switch s.Provider {
	case ProviderGoogleAI, ProviderOpenAI, ProviderAnthropic:
		if strings.TrimSpace(s.APIKey) == "" {
			return errors.Errorf("inference: %s requires an API key", s.Provider)
		}
	case ProviderOllama:
		if strings.TrimSpace(s.OllamaURL) == "" {
			return errors.New("inference: ollama requires a server URL")
		}
	default:
		return errors.Errorf("inference: unsupported provider %q", s.Provider)
	}
	if strings.TrimSpace(s.Model) == "" {
		return errors.Errorf("inference: %s requires a model (inference.model or DOCCHAT_MODEL)", s.Provider)
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return errors.Errorf("inference: temperature %v out of range", s.Temperature)
	}
	return nil
}
