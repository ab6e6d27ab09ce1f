package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	openrouterx "github.com/tanpawarit/voice-persona-agents/pkg/openrouter"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"600"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	// Per-persona overrides, e.g. LLM_PERSONA_MODELS=gm:openai/gpt-4o,leo:openai/gpt-4o-mini
	PersonaModels       map[string]string  `envconfig:"PERSONA_MODELS" split_words:"true"`
	PersonaTemperatures map[string]float32 `envconfig:"PERSONA_TEMPERATURES" split_words:"true"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	for persona, model := range c.PersonaModels {
		if strings.TrimSpace(model) == "" {
			return fmt.Errorf("%w: model override for persona %s is empty", contractx.ErrValidation, persona)
		}
	}
	return nil
}

// OpenRouterFor returns the model settings for a persona, falling back to
// the defaults when no override is configured.
func (c Config) OpenRouterFor(personaID string) openrouterx.Config {
	personaID = strings.TrimSpace(personaID)
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	if v := strings.TrimSpace(c.PersonaModels[personaID]); v != "" {
		modelName = v
	}
	if v, ok := c.PersonaTemperatures[personaID]; ok && v >= 0 {
		temp = v
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
