package main

import (
	"testing"

	"github.com/MrWong99/adagate/pkg/provider/ui"
)

// Every provider type accepted in a connection config must be constructible
// from this binary; the factories register themselves via the blank imports
// in main.go.
func TestUIProviderFactoriesRegistered(t *testing.T) {
	t.Setenv("ADAGATE_TEST_UI_KEY", "test-key")

	types := []string{
		ui.TypeThesys, ui.TypeGoogle, ui.TypeTomorrow,
		ui.TypeOpenAI, ui.TypeAnthropic,
	}
	for _, typ := range types {
		t.Run(typ, func(t *testing.T) {
			provider, err := ui.New(ui.Config{
				ProviderType: typ,
				APIKeyEnv:    "ADAGATE_TEST_UI_KEY",
				BaseURL:      "https://example.invalid/v1",
				Model:        "test-model",
			})
			if err != nil {
				t.Fatalf("ui.New(%s): %v", typ, err)
			}
			if provider == nil {
				t.Fatalf("ui.New(%s) returned nil provider", typ)
			}
		})
	}
}
