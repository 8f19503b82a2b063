package thesys

import (
	"strings"
	"testing"

	"github.com/MrWong99/adagate/pkg/provider/ui"
	"github.com/MrWong99/adagate/pkg/types"
)

func TestNew_DefaultsForThesys(t *testing.T) {
	t.Setenv("THESYS_KEY", "secret")
	p, err := New(ui.Config{ProviderType: ui.TypeThesys, APIKeyEnv: "THESYS_KEY"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != DefaultModel {
		t.Errorf("model = %q", p.model)
	}
	if p.Kind() != ui.KindC1 {
		t.Errorf("Kind = %q", p.Kind())
	}
}

func TestNew_AlternateEndpointsRequireURL(t *testing.T) {
	t.Setenv("VIZ_KEY", "secret")
	for _, pt := range []string{ui.TypeGoogle, ui.TypeTomorrow} {
		t.Run(pt, func(t *testing.T) {
			_, err := New(ui.Config{ProviderType: pt, APIKeyEnv: "VIZ_KEY"})
			if err == nil {
				t.Error("expected error without base_url")
			}
			_, err = New(ui.Config{
				ProviderType: pt,
				APIKeyEnv:    "VIZ_KEY",
				BaseURL:      "https://viz.example.com/v1",
				Model:        "viz-1",
			})
			if err != nil {
				t.Errorf("New with base_url: %v", err)
			}
		})
	}
}

func TestNew_MissingKey(t *testing.T) {
	if _, err := New(ui.Config{ProviderType: ui.TypeThesys}); err == nil {
		t.Error("expected error without api_key_env")
	}
}

func TestSystemPrompt_AppendsTools(t *testing.T) {
	t.Setenv("THESYS_KEY", "secret")
	p, err := New(ui.Config{ProviderType: ui.TypeThesys, APIKeyEnv: "THESYS_KEY"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := p.SystemPrompt([]types.ToolDefinition{{Name: "calc_multiply", Description: "Multiply."}})
	if !strings.Contains(got, "- calc_multiply: Multiply.") {
		t.Errorf("SystemPrompt missing bullet: %q", got)
	}
}

func TestConvertMessages_CallerSystemPromptWins(t *testing.T) {
	out := convertMessages("builtin prompt", []types.Message{
		{Role: "system", Content: "caller prompt"},
		{Role: "assistant", Content: "hi"},
	})
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0].OfSystem == nil || out[1].OfAssistant == nil {
		t.Errorf("transcript roles wrong: %+v", out)
	}

	// Without a caller system message the builtin prompt is prepended.
	out = convertMessages("builtin prompt", []types.Message{{Role: "user", Content: "hi"}})
	if len(out) != 2 || out[0].OfSystem == nil {
		t.Fatalf("builtin prompt not prepended, len = %d", len(out))
	}
}

func TestFactoryRegistration(t *testing.T) {
	t.Setenv("THESYS_KEY", "secret")
	p, err := ui.New(ui.Config{ProviderType: ui.TypeThesys, APIKeyEnv: "THESYS_KEY"})
	if err != nil {
		t.Fatalf("ui.New: %v", err)
	}
	if p.Kind() != ui.KindC1 {
		t.Errorf("Kind = %q", p.Kind())
	}
}
