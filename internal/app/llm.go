package app

import (
	"fmt"
	"os"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/adagate/internal/control"
	"github.com/MrWong99/adagate/pkg/provider/llm"
	"github.com/MrWong99/adagate/pkg/provider/llm/anyllm"
)

// DefaultLLMFactory builds per-connection chat models through any-llm. The
// model string has the form "<provider>/<model>"; a bare model name defaults
// to openai. An empty model falls back to the server-configured provider.
func DefaultLLMFactory(fallback llm.Provider) control.LLMFactory {
	return func(model, apiKeyEnv string) (llm.Provider, error) {
		if model == "" {
			if fallback == nil {
				return nil, fmt.Errorf("app: connection names no model and no default llm provider is configured")
			}
			return fallback, nil
		}

		providerName, modelID, ok := strings.Cut(model, "/")
		if !ok {
			providerName, modelID = "openai", model
		}

		var opts []anyllmlib.Option
		if apiKeyEnv != "" {
			key := os.Getenv(apiKeyEnv)
			if key == "" {
				return nil, fmt.Errorf("app: environment variable %s is empty", apiKeyEnv)
			}
			opts = append(opts, anyllmlib.WithAPIKey(key))
		}
		return anyllm.New(providerName, modelID, opts...)
	}
}
