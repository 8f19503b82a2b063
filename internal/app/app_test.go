package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/adagate/internal/app"
	"github.com/MrWong99/adagate/internal/config"
	"github.com/MrWong99/adagate/internal/observe"
	"github.com/MrWong99/adagate/pkg/provider/llm"
	llmmock "github.com/MrWong99/adagate/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/adagate/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/adagate/pkg/provider/tts/mock"
)

// testConfig returns a minimal gateway config for tests.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: ":0",
			LogLevel:   config.LogInfo,
		},
		Media: config.MediaConfig{
			SystemPrompt: "keep it short",
			Voice:        config.VoiceConfig{VoiceID: "calm-v1"},
		},
	}
}

// testProviders returns a full mock provider set so the media path mounts.
func testProviders() *app.Providers {
	return &app.Providers{
		LLM: &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "ok", FinishReason: "stop"}}},
		STT: &sttmock.Provider{},
		TTS: &ttsmock.Provider{},
	}
}

func newTestApp(t *testing.T, providers *app.Providers) *app.App {
	t.Helper()

	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	a, err := app.New(context.Background(), testConfig(), providers, app.WithMetrics(metrics))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func TestApp_ServesOperationalEndpoints(t *testing.T) {
	a := newTestApp(t, testProviders())
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/api/connections", "/api/sessions", "/api/voice-bus"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + path)
			if err != nil {
				t.Fatalf("GET %s: %v", path, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("GET %s: status = %d", path, resp.StatusCode)
			}
		})
	}
}

func TestApp_VoiceBusReportsChannels(t *testing.T) {
	a := newTestApp(t, testProviders())
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/voice-bus")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["bus"]; !ok {
		t.Errorf("response lacks bus stats: %v", body)
	}
	if _, ok := body["channels"]; !ok {
		t.Errorf("response lacks channel stats: %v", body)
	}
}

func TestApp_OfferOpensChannel(t *testing.T) {
	a := newTestApp(t, testProviders())
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	payload, _ := json.Marshal(map[string]any{"sdp": "v=0\r\n", "type": "offer"})
	resp, err := http.Post(srv.URL+"/api/offer", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var answer map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if answer["type"] != "answer" || answer["pc_id"] == "" {
		t.Errorf("answer = %v", answer)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/offer?pc_id="+answer["pc_id"], nil)
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	del.Body.Close()
	if del.StatusCode != http.StatusNoContent {
		t.Errorf("close status = %d", del.StatusCode)
	}
}

func TestApp_MediaDisabledWithoutVoiceProviders(t *testing.T) {
	a := newTestApp(t, &app.Providers{LLM: &llmmock.Provider{}})
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	payload, _ := json.Marshal(map[string]any{"sdp": "v=0\r\n", "type": "offer"})
	resp, err := http.Post(srv.URL+"/api/offer", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Error("offer endpoint should not be mounted without voice providers")
	}
}

func TestApp_ApplyConfigIsSafe(t *testing.T) {
	diff := config.ConfigDiff{
		VoiceChanged:  true,
		NewVoice:      config.VoiceConfig{VoiceID: "new-voice"},
		PromptChanged: true,
		NewPrompt:     "be thorough",
	}

	// With media mounted.
	newTestApp(t, testProviders()).ApplyConfig(diff)

	// Without media; must not panic.
	newTestApp(t, &app.Providers{LLM: &llmmock.Provider{}}).ApplyConfig(diff)
}

func TestDefaultLLMFactory(t *testing.T) {
	fallback := &llmmock.Provider{}

	t.Run("empty model uses fallback", func(t *testing.T) {
		f := app.DefaultLLMFactory(fallback)
		p, err := f("", "")
		if err != nil {
			t.Fatalf("factory: %v", err)
		}
		if p != llm.Provider(fallback) {
			t.Error("expected the fallback provider")
		}
	})

	t.Run("empty model without fallback fails", func(t *testing.T) {
		f := app.DefaultLLMFactory(nil)
		if _, err := f("", ""); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("missing credential env fails", func(t *testing.T) {
		f := app.DefaultLLMFactory(nil)
		if _, err := f("openai/gpt-4o", "ADAGATE_TEST_MISSING_KEY"); err == nil {
			t.Error("expected an error")
		}
	})
}
