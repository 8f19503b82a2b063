// Package htmlui generates framework-appropriate HTML snippets for simple
// responses, error callouts, and loading states.
//
// HTML-style UI providers stream arbitrary markup, but plain responses and
// per-turn errors need a deterministic local rendering that matches the
// client's UI framework preference. Keeping these snippets here avoids mixing
// component-tree payloads with HTML payloads at the call sites.
package htmlui

import "strings"

// Framework names accepted in connection preferences.
const (
	FrameworkTailwind  = "tailwind"
	FrameworkShadcn    = "shadcn"
	FrameworkChakra    = "chakra"
	FrameworkMUI       = "mui"
	FrameworkBootstrap = "bootstrap"
	FrameworkInline    = "inline"
)

// DefaultFramework is used when the client states no preference.
const DefaultFramework = FrameworkTailwind

// KnownFramework reports whether name is a supported UI framework.
func KnownFramework(name string) bool {
	switch name {
	case FrameworkTailwind, FrameworkShadcn, FrameworkChakra, FrameworkMUI, FrameworkBootstrap, FrameworkInline:
		return true
	}
	return false
}

// EscapeHTML escapes the characters that would change markup meaning.
func EscapeHTML(text string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#x27;",
	)
	return r.Replace(text)
}

// SimpleMessage renders a plain text message as a framework-styled card.
// The message is inserted verbatim; escape it first if it is user content.
func SimpleMessage(message, framework string) string {
	switch framework {
	case FrameworkShadcn:
		return `<div class="rounded-lg border bg-card text-card-foreground shadow-sm max-w-2xl">` +
			`<div class="p-4"><p class="text-sm text-muted-foreground leading-relaxed">` + message + `</p></div></div>`
	case FrameworkTailwind:
		return `<div class="bg-white p-4 rounded-lg shadow-sm border border-gray-200 max-w-2xl">` +
			`<p class="text-gray-800 text-sm leading-relaxed">` + message + `</p></div>`
	default:
		return `<div style="background: white; padding: 16px; border-radius: 8px; border: 1px solid #e5e7eb; box-shadow: 0 1px 3px rgba(0,0,0,0.1); max-width: 640px;">` +
			`<p style="color: #374151; font-size: 14px; line-height: 1.5; margin: 0;">` + message + `</p></div>`
	}
}

// ErrorMessage renders a "Processing Error" callout with the given detail.
func ErrorMessage(detail, framework string) string {
	switch framework {
	case FrameworkShadcn:
		return `<div class="rounded-lg border border-destructive/50 bg-destructive/10 text-destructive max-w-2xl">` +
			`<div class="p-4"><h3 class="font-medium text-sm">Processing Error</h3>` +
			`<p class="text-sm mt-1">` + detail + `</p></div></div>`
	case FrameworkTailwind:
		return `<div class="bg-red-50 border border-red-200 rounded-lg p-4 max-w-2xl">` +
			`<h3 class="text-sm font-medium text-red-800">Processing Error</h3>` +
			`<p class="mt-1 text-sm text-red-700">` + detail + `</p></div>`
	default:
		return `<div style="background: #fef2f2; border: 1px solid #fecaca; border-radius: 8px; padding: 16px; max-width: 640px;">` +
			`<h3 style="font-weight: 600; font-size: 14px; color: #991b1b; margin: 0 0 4px 0;">Processing Error</h3>` +
			`<p style="font-size: 14px; color: #dc2626; margin: 0; line-height: 1.5;">` + detail + `</p></div>`
	}
}

// LoadingMessage renders a transient loading indicator.
func LoadingMessage(message, framework string) string {
	if message == "" {
		message = "Processing..."
	}
	switch framework {
	case FrameworkShadcn, FrameworkTailwind:
		return `<div class="bg-blue-50 border border-blue-200 rounded-lg p-4 max-w-2xl">` +
			`<div class="flex items-center">` +
			`<div class="animate-spin rounded-full h-5 w-5 border-b-2 border-blue-600"></div>` +
			`<p class="ml-3 text-sm text-blue-700">` + message + `</p></div></div>`
	default:
		return `<div style="background: #eff6ff; border: 1px solid #bfdbfe; border-radius: 8px; padding: 16px; max-width: 640px;">` +
			`<p style="font-size: 14px; color: #1d4ed8; margin: 0; line-height: 1.5;">` + message + `</p></div>`
	}
}

// block-level tags that indicate content is already wrapped.
var blockPrefixes = []string{
	"<div", "<section", "<article", "<main", "<header", "<footer", "<aside", "<nav",
	"<!doctype", "<html",
}

// EnsureWrapped wraps an HTML fragment in a framework-appropriate container
// unless it already starts with a block-level element or a full document.
func EnsureWrapped(content, framework string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return content
	}

	lower := strings.ToLower(content)
	for _, p := range blockPrefixes {
		if strings.HasPrefix(lower, p) {
			return content
		}
	}
	return wrapFragment(content, framework)
}

// wrapFragment places a fragment inside the framework's standard card shell.
func wrapFragment(fragment, framework string) string {
	switch framework {
	case FrameworkTailwind:
		return `<div class="w-full max-w-4xl mx-auto p-4">` +
			`<div class="bg-white rounded-lg shadow-sm border border-gray-200 overflow-hidden">` + fragment + `</div></div>`
	case FrameworkShadcn:
		return `<div class="w-full max-w-4xl mx-auto p-4">` +
			`<div class="rounded-lg border bg-card text-card-foreground shadow-sm overflow-hidden">` + fragment + `</div></div>`
	case FrameworkChakra:
		return `<div class="chakra-container" style="width: 100%; max-width: 1024px; margin: 0 auto; padding: 16px;">` +
			`<div class="chakra-box" style="background: white; border-radius: 8px; border: 1px solid #e2e8f0; overflow: hidden;">` + fragment + `</div></div>`
	case FrameworkMUI:
		return `<div class="MuiContainer-root MuiContainer-maxWidthLg" style="width: 100%; max-width: 1024px; margin: 0 auto; padding: 16px;">` +
			`<div class="MuiPaper-root MuiPaper-elevation1" style="background: white; border-radius: 8px; overflow: hidden;">` + fragment + `</div></div>`
	case FrameworkBootstrap:
		return `<div class="container" style="max-width: 1024px;">` +
			`<div class="card" style="background: white; overflow: hidden;">` + fragment + `</div></div>`
	default:
		return `<div style="width: 100%; max-width: 1024px; margin: 0 auto; padding: 16px;">` +
			`<div style="background: white; border-radius: 8px; border: 1px solid #e5e7eb; overflow: hidden;">` + fragment + `</div></div>`
	}
}
