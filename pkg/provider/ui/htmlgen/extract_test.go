package htmlgen

import (
	"strings"
	"testing"
)

// feedAll streams the input to an extractor in chunks of the given size and
// returns the concatenated output.
func feedAll(t *testing.T, input string, chunkSize int) string {
	t.Helper()
	var ex extractor
	var out strings.Builder
	for i := 0; i < len(input); i += chunkSize {
		end := i + chunkSize
		if end > len(input) {
			end = len(input)
		}
		out.WriteString(ex.Feed(input[i:end]))
	}
	return out.String()
}

func TestExtractor_WholeDocument(t *testing.T) {
	input := `{"htmlContent": "<div>hello</div>", "other": 1}`
	var ex extractor
	if got := ex.Feed(input); got != "<div>hello</div>" {
		t.Errorf("Feed = %q", got)
	}
	if !ex.Started() {
		t.Error("Started = false")
	}
}

func TestExtractor_ChunkSizes(t *testing.T) {
	input := `{"status":"ok","htmlContent":"<p class=\"x\">a &amp; b\nline2</p>","done":true}`
	want := "<p class=\"x\">a &amp; b\nline2</p>"
	for _, size := range []int{1, 2, 3, 7, 64} {
		if got := feedAll(t, input, size); got != want {
			t.Errorf("chunk size %d: got %q, want %q", size, got, want)
		}
	}
}

func TestExtractor_EscapeSplitAcrossChunks(t *testing.T) {
	var ex extractor
	var out strings.Builder
	out.WriteString(ex.Feed(`{"htmlContent":"a\`))
	out.WriteString(ex.Feed(`"b"}`))
	if got := out.String(); got != `a"b` {
		t.Errorf("got %q, want %q", got, `a"b`)
	}
}

func TestExtractor_UnicodeEscape(t *testing.T) {
	input := `{"htmlContent":"caf\u00e9"}`
	for _, size := range []int{1, 4, len(input)} {
		if got := feedAll(t, input, size); got != "café" {
			t.Errorf("chunk size %d: got %q", size, got)
		}
	}
}

func TestExtractor_KeySplitAcrossChunks(t *testing.T) {
	var ex extractor
	var out strings.Builder
	out.WriteString(ex.Feed(`{"htmlCon`))
	out.WriteString(ex.Feed(`tent":"<b>x</b>"}`))
	if got := out.String(); got != "<b>x</b>" {
		t.Errorf("got %q", got)
	}
}

func TestExtractor_KeyQuotedInsideOtherValue(t *testing.T) {
	input := `{"note": "wrap the markup in \"htmlContent\"", "htmlContent": "<p>hi</p>"}`
	for _, size := range []int{1, 5, len(input)} {
		if got := feedAll(t, input, size); got != "<p>hi</p>" {
			t.Errorf("chunk size %d: got %q, want %q", size, got, "<p>hi</p>")
		}
	}
}

func TestExtractor_KeyAsValueNotMistakenForKey(t *testing.T) {
	var ex extractor
	got := ex.Feed(`{"field": "htmlContent", "htmlContent": "<b>real</b>"}`)
	if got != "<b>real</b>" {
		t.Errorf("Feed = %q, want %q", got, "<b>real</b>")
	}
}

func TestExtractor_NoKey(t *testing.T) {
	var ex extractor
	if got := ex.Feed(`{"text":"plain reply"}`); got != "" {
		t.Errorf("Feed = %q, want empty", got)
	}
	if ex.Started() {
		t.Error("Started = true without key")
	}
	if ex.Raw() != `{"text":"plain reply"}` {
		t.Errorf("Raw = %q", ex.Raw())
	}
}

func TestExtractor_StopsAtClosingQuote(t *testing.T) {
	var ex extractor
	got := ex.Feed(`{"htmlContent":"<i>a</i>","htmlContent":"<i>b</i>"}`)
	if got != "<i>a</i>" {
		t.Errorf("Feed = %q, want first value only", got)
	}
	// Further input after completion yields nothing.
	if more := ex.Feed(`"trailing"`); more != "" {
		t.Errorf("Feed after done = %q", more)
	}
}
