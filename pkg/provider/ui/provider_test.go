package ui

import (
	"strings"
	"testing"

	"github.com/MrWong99/adagate/pkg/types"
)

func TestKnownType(t *testing.T) {
	for _, name := range []string{TypeThesys, TypeGoogle, TypeTomorrow, TypeOpenAI, TypeAnthropic} {
		if !KnownType(name) {
			t.Errorf("KnownType(%q) = false", name)
		}
	}
	if KnownType("azure") {
		t.Error("KnownType(azure) = true")
	}
}

func TestAppendToolList(t *testing.T) {
	base := "Generate UI."

	if got := AppendToolList(base, nil); got != base {
		t.Errorf("no tools: got %q", got)
	}

	tools := []types.ToolDefinition{
		{Name: "calc_multiply", Description: "Multiply two numbers."},
		{Name: "planner_create_plan"},
	}
	got := AppendToolList(base, tools)
	if !strings.HasPrefix(got, base) {
		t.Errorf("base prompt lost: %q", got)
	}
	if !strings.Contains(got, "- calc_multiply: Multiply two numbers.") {
		t.Errorf("tool bullet missing: %q", got)
	}
	if !strings.Contains(got, "- planner_create_plan") {
		t.Errorf("description-less bullet missing: %q", got)
	}
}

func TestNew_UnknownType(t *testing.T) {
	if _, err := New(Config{ProviderType: "azure"}); err == nil {
		t.Error("expected error for unknown provider type")
	}
}

func TestResolveAPIKey(t *testing.T) {
	cfg := Config{ProviderType: TypeThesys}
	if _, err := cfg.ResolveAPIKey(); err == nil {
		t.Error("expected error without api_key_env")
	}

	cfg.APIKeyEnv = "UI_TEST_KEY_UNSET"
	if _, err := cfg.ResolveAPIKey(); err == nil {
		t.Error("expected error for empty env var")
	}

	t.Setenv("UI_TEST_KEY", "secret")
	cfg.APIKeyEnv = "UI_TEST_KEY"
	key, err := cfg.ResolveAPIKey()
	if err != nil || key != "secret" {
		t.Errorf("ResolveAPIKey = %q, %v", key, err)
	}
}

func TestRegister_OverridesAndRemoves(t *testing.T) {
	called := false
	Register("custom", func(cfg Config) (Provider, error) {
		called = true
		return nil, nil
	})
	defer Register("custom", nil)

	if _, err := New(Config{ProviderType: "custom"}); err != nil {
		t.Fatalf("New: %v", err)
	}
	if !called {
		t.Error("custom factory not invoked")
	}

	Register("custom", nil)
	if _, err := New(Config{ProviderType: "custom"}); err == nil {
		t.Error("expected error after factory removal")
	}
}
