package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/adagate/internal/config"
)

func TestValidate_DuplicateToolServerNames(t *testing.T) {
	t.Parallel()
	yaml := `
tools:
  servers:
    - name: tools
      transport: stdio
      command: /bin/a
    - name: tools
      transport: stdio
      command: /bin/b
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate tool server names, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
}

func TestValidate_WebsocketRequiresURL(t *testing.T) {
	t.Parallel()
	yaml := `
tools:
  servers:
    - name: ws
      transport: websocket
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for websocket transport without url, got nil")
	}
	if !strings.Contains(err.Error(), "url") {
		t.Errorf("error should mention url, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: shouty
media:
  voice:
    speed_factor: 9.0
tools:
  servers:
    - name: bad
      transport: stdio
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "speed_factor") {
		t.Errorf("error should mention speed_factor, got: %v", err)
	}
	if !strings.Contains(errStr, "command") {
		t.Errorf("error should mention command, got: %v", err)
	}
}

func TestValidate_NegativeSampleRate(t *testing.T) {
	t.Parallel()
	yaml := `
media:
  capture_sample_rate: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative sample rate, got nil")
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	// Sanity-check that the map is populated.
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	// Check that "openai" is in the LLM list.
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"openai\"")
	}
}
