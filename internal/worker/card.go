package worker

import "encoding/json"

// Locally rendered component-tree cards for c1-style providers. Plain and
// error responses never reach the generation backend, so the worker builds
// the minimal component payload itself, wrapped in the same content envelope
// the providers stream.

// c1TextCard renders plain text as a Card holding one TextContent block.
func c1TextCard(text string) string {
	return c1Envelope(map[string]any{
		"component": map[string]any{
			"component": "Card",
			"props": map[string]any{
				"children": []any{
					map[string]any{
						"component": "TextContent",
						"props":     map[string]any{"textMarkdown": text},
					},
				},
			},
		},
	})
}

// c1ErrorCard renders a turn failure as an error Callout.
func c1ErrorCard(detail string) string {
	return c1Envelope(map[string]any{
		"component": "Callout",
		"props": map[string]any{
			"variant":     "error",
			"title":       "Processing Error",
			"description": detail,
		},
	})
}

func c1Envelope(card map[string]any) string {
	data, err := json.Marshal(card)
	if err != nil {
		return "<content></content>"
	}
	return "<content>" + string(data) + "</content>"
}
