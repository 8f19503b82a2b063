package htmlui

import (
	"strings"
	"testing"
)

func TestEscapeHTML(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`<script>alert("x")</script>`, `&lt;script&gt;alert(&quot;x&quot;)&lt;/script&gt;`},
		{`a & b`, `a &amp; b`},
		{`it's`, `it&#x27;s`},
		{`plain`, `plain`},
	}
	for _, tc := range tests {
		if got := EscapeHTML(tc.in); got != tc.want {
			t.Errorf("EscapeHTML(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestKnownFramework(t *testing.T) {
	for _, name := range []string{"tailwind", "shadcn", "chakra", "mui", "bootstrap", "inline"} {
		if !KnownFramework(name) {
			t.Errorf("KnownFramework(%q) = false", name)
		}
	}
	if KnownFramework("vue") {
		t.Error("KnownFramework(vue) = true")
	}
	if KnownFramework("") {
		t.Error("KnownFramework(empty) = true")
	}
}

func TestSimpleMessage_PerFramework(t *testing.T) {
	tests := []struct {
		framework string
		wantMark  string
	}{
		{FrameworkTailwind, `class="bg-white`},
		{FrameworkShadcn, `bg-card`},
		{FrameworkInline, `style=`},
		{"unknown", `style=`},
	}
	for _, tc := range tests {
		t.Run(tc.framework, func(t *testing.T) {
			got := SimpleMessage("hello", tc.framework)
			if !strings.Contains(got, "hello") {
				t.Errorf("message not embedded: %s", got)
			}
			if !strings.Contains(got, tc.wantMark) {
				t.Errorf("framework marker %q missing: %s", tc.wantMark, got)
			}
		})
	}
}

func TestErrorMessage_HasTitle(t *testing.T) {
	for _, fw := range []string{FrameworkTailwind, FrameworkShadcn, FrameworkInline} {
		got := ErrorMessage("boom", fw)
		if !strings.Contains(got, "Processing Error") {
			t.Errorf("%s: missing title: %s", fw, got)
		}
		if !strings.Contains(got, "boom") {
			t.Errorf("%s: missing detail: %s", fw, got)
		}
	}
}

func TestEnsureWrapped(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantSame bool
	}{
		{"already wrapped div", `<div class="x">y</div>`, true},
		{"full document", `<!DOCTYPE html><html></html>`, true},
		{"section", `<section>y</section>`, true},
		{"bare fragment", `<span>y</span>`, false},
		{"plain text", `hello`, false},
		{"empty", ``, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := EnsureWrapped(tc.content, FrameworkTailwind)
			if tc.wantSame {
				if got != strings.TrimSpace(tc.content) {
					t.Errorf("content rewrapped: %s", got)
				}
				return
			}
			if !strings.HasPrefix(got, `<div class="w-full`) {
				t.Errorf("fragment not wrapped: %s", got)
			}
			if !strings.Contains(got, tc.content) {
				t.Errorf("fragment lost: %s", got)
			}
		})
	}
}
