package openai

import "testing"

func TestDimensionsFor(t *testing.T) {
	cases := map[string]int{
		"text-embedding-3-small": 1536,
		"text-embedding-3-large": 3072,
		"text-embedding-ada-002": 1536,
		"Text-Embedding-3-Large": 3072, // matching is case-insensitive
		"some-future-model":      fallbackDimensions,
	}
	for model, want := range cases {
		if got := dimensionsFor(model); got != want {
			t.Errorf("%s: dimensions = %d, want %d", model, got, want)
		}
		p := &Provider{model: model}
		if got := p.Dimensions(); got != want {
			t.Errorf("%s: Dimensions() = %d, want %d", model, got, want)
		}
	}
}

func TestModelID(t *testing.T) {
	p := &Provider{model: "my-custom-embeddings-model"}
	if got := p.ModelID(); got != "my-custom-embeddings-model" {
		t.Errorf("ModelID() = %q", got)
	}
}

func TestNew(t *testing.T) {
	if _, err := New("", "text-embedding-3-small"); err == nil {
		t.Error("empty API key must be rejected")
	}

	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("model = %q, want default %q", p.ModelID(), DefaultModel)
	}

	if _, err := New("sk-test", "text-embedding-3-small",
		WithBaseURL("https://embed.internal.example.com"),
		WithOrganization("org-123"),
	); err != nil {
		t.Fatalf("New with options: %v", err)
	}
}

func TestToFloat32(t *testing.T) {
	in := []float64{1.0, 2.5, -0.5}
	out := toFloat32(in)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	for i, v := range out {
		if v != float32(in[i]) {
			t.Errorf("out[%d] = %v, want %v", i, v, float32(in[i]))
		}
	}

	if got := toFloat32(nil); len(got) != 0 {
		t.Errorf("nil input: got %v", got)
	}
}
