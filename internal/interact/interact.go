// Package interact normalizes user_interaction frames from generated UI into
// synthetic chat messages.
//
// A form submission or button click becomes (a) a human-readable message
// displayed as if the user typed it and (b) an AI-context message that drives
// the LLM turn. Input changes are displayed but never trigger a turn. A
// deduplication window absorbs the double-fire patterns generated UIs tend to
// produce.
package interact

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"
)

// Interaction sub-kinds.
const (
	KindFormSubmit  = "form_submit"
	KindButtonClick = "button_click"
	KindInputChange = "input_change"
)

// Interaction is the decoded payload of a user_interaction frame.
type Interaction struct {
	// Type is one of the Kind* constants.
	Type string `json:"interaction_type"`

	// Context carries the structured event data (formId, formData, buttonId, …).
	Context map[string]any `json:"context"`

	// ThreadID scopes the resulting messages to a conversation thread.
	ThreadID string `json:"thread_id"`
}

// Normalized is the chat-path rendering of an interaction.
type Normalized struct {
	// DisplayText is shown in the transcript as the user's message.
	DisplayText string

	// AIText is the message that drives the LLM turn.
	AIText string

	// TriggerAI reports whether this interaction starts an AI turn.
	TriggerAI bool
}

// Normalize converts an interaction into its chat-path rendering.
// Unknown sub-kinds return an error; the caller logs and ignores them.
func Normalize(in Interaction) (Normalized, error) {
	switch in.Type {
	case KindFormSubmit:
		return normalizeForm(in.Context), nil
	case KindButtonClick:
		return normalizeButton(in.Context), nil
	case KindInputChange:
		return normalizeInput(in.Context), nil
	default:
		return Normalized{}, fmt.Errorf("interact: unknown interaction type %q", in.Type)
	}
}

func normalizeForm(ctx map[string]any) Normalized {
	formID := stringField(ctx, "formId")
	fields := flattenFields(ctx["formData"])

	display := "Submitted form"
	if formID != "" {
		display = fmt.Sprintf("Submitted form %q", formID)
	}
	if fields != "" {
		display += " with " + fields
	}

	ai := fmt.Sprintf("The user submitted form %q", formID)
	if fields != "" {
		ai += " with values: " + fields
	}
	ai += ". Respond to this submission."

	return Normalized{DisplayText: display, AIText: ai, TriggerAI: true}
}

func normalizeButton(ctx map[string]any) Normalized {
	label := stringField(ctx, "buttonText")
	if label == "" {
		label = stringField(ctx, "buttonId")
	}
	if label == "" {
		label = "a button"
	}

	display := fmt.Sprintf("Clicked %q", label)
	ai := fmt.Sprintf("The user clicked %q", label)
	if action := stringField(ctx, "action"); action != "" {
		ai += fmt.Sprintf(" (action: %s)", action)
	}
	ai += ". Respond to this action."

	return Normalized{DisplayText: display, AIText: ai, TriggerAI: true}
}

func normalizeInput(ctx map[string]any) Normalized {
	field := stringField(ctx, "fieldId")
	if field == "" {
		field = stringField(ctx, "fieldName")
	}
	display := "Changed an input"
	if field != "" {
		display = fmt.Sprintf("Changed %q", field)
	}
	if value := stringField(ctx, "value"); value != "" {
		display += fmt.Sprintf(" to %q", value)
	}
	// Input changes are transcript-only.
	return Normalized{DisplayText: display, TriggerAI: false}
}

// stringField reads a string value from a context map.
func stringField(ctx map[string]any, key string) string {
	if v, ok := ctx[key].(string); ok {
		return v
	}
	return ""
}

// flattenFields renders a formData object as "a=1, b=two" with sorted keys.
func flattenFields(v any) string {
	data, ok := v.(map[string]any)
	if !ok || len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, ", ")
}

// DefaultWindow is the standard deduplication window.
const DefaultWindow = 5 * time.Second

// Deduper suppresses repeated interactions within a time window. Two
// interactions are duplicates when their type and canonical context JSON
// hash identically.
type Deduper struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[uint64]time.Time
	now    func() time.Time
}

// NewDeduper creates a Deduper; window ≤ 0 uses [DefaultWindow].
func NewDeduper(window time.Duration) *Deduper {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Deduper{
		window: window,
		seen:   make(map[uint64]time.Time),
		now:    time.Now,
	}
}

// Duplicate records the interaction and reports whether an identical one was
// seen within the window. Expired entries are pruned on each call.
func (d *Deduper) Duplicate(in Interaction) bool {
	h := hashInteraction(in)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for k, at := range d.seen {
		if now.Sub(at) > d.window {
			delete(d.seen, k)
		}
	}

	if at, ok := d.seen[h]; ok && now.Sub(at) <= d.window {
		return true
	}
	d.seen[h] = now
	return false
}

// hashInteraction hashes type + canonical context JSON. encoding/json sorts
// map keys, so semantically equal contexts hash equally.
func hashInteraction(in Interaction) uint64 {
	h := fnv.New64a()
	h.Write([]byte(in.Type))
	h.Write([]byte{0})
	if data, err := json.Marshal(in.Context); err == nil {
		h.Write(data)
	}
	return h.Sum64()
}
