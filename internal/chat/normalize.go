package chat

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"research-dashboard/internal/domain"
)

// fallbackAnswer is shown when the backend returns no usable text.
const fallbackAnswer = "I could not find a specific answer in the provided documents."

// fallbackLabel names citations whose shape carries no usable title.
const fallbackLabel = "Document"

// NormalizeAnswer extracts answer text and citations from a raw
// assistant payload of unknown shape.
//
// Known shapes, in precedence order: a wrapped {"answer": {...}} object
// (with the text under answer.response or answer itself), a direct
// {"response": ...} object, or a bare JSON string. Anything else
// degrades to the stringified payload, and blank text degrades to a
// fixed fallback sentence. Never panics, whatever the input.
func NormalizeAnswer(raw json.RawMessage) (string, []domain.Citation) {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fallbackOr(strings.TrimSpace(string(raw))), nil
	}

	switch value := payload.(type) {
	case string:
		return fallbackOr(strings.TrimSpace(value)), nil
	case map[string]any:
		text, entries := answerParts(value)
		return fallbackOr(text), NormalizeCitations(entries)
	default:
		return fallbackOr(strings.TrimSpace(string(raw))), nil
	}
}

// answerParts locates the text and citation list inside a payload object.
func answerParts(payload map[string]any) (string, []any) {
	if answer, ok := payload["answer"]; ok && answer != nil {
		switch wrapped := answer.(type) {
		case string:
			return strings.TrimSpace(wrapped), nil
		case map[string]any:
			text, _ := wrapped["response"].(string)
			return strings.TrimSpace(text), anySlice(wrapped["citations"])
		}
	}
	if response, ok := payload["response"].(string); ok {
		return strings.TrimSpace(response), anySlice(payload["citations"])
	}
	return "", nil
}

// NormalizeCitations maps arbitrarily shaped citation entries into the
// canonical form. Non-object entries are discarded; objects missing
// known fields fall back to positional and generic labels. Never panics.
func NormalizeCitations(entries []any) []domain.Citation {
	if len(entries) == 0 {
		return nil
	}

	out := make([]domain.Citation, 0, len(entries))
	for i, entry := range entries {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}

		source := firstString(obj, "source", "url")
		if source == "" {
			source = fmt.Sprintf("Source %d", i+1)
		}

		label := firstString(obj, "document_name", "title")
		if label == "" {
			label = hostOf(source)
		}
		if label == "" {
			label = fallbackLabel
		}

		out = append(out, domain.Citation{Source: source, DisplayLabel: label})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// fallbackOr substitutes the fallback sentence for blank answers.
func fallbackOr(text string) string {
	if text == "" {
		return fallbackAnswer
	}
	return text
}

// anySlice coerces a decoded JSON value to a slice, or nil.
func anySlice(value any) []any {
	slice, _ := value.([]any)
	return slice
}

// firstString returns the first non-blank string among the named keys.
func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := obj[key].(string); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

// hostOf derives a display host from an absolute URL, or empty.
func hostOf(source string) string {
	parsed, err := url.Parse(source)
	if err != nil || !parsed.IsAbs() || parsed.Hostname() == "" {
		return ""
	}
	return parsed.Hostname()
}
