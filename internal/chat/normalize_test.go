package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"research-dashboard/internal/domain"
)

// TestNormalizeAnswerShapes verifies the known payload shapes.
func TestNormalizeAnswerShapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"wrapped response", `{"answer": {"response": "The market grew 4%."}}`, "The market grew 4%."},
		{"answer as string", `{"answer": "Plain answer."}`, "Plain answer."},
		{"direct response", `{"response": "Direct answer."}`, "Direct answer."},
		{"bare string", `"Just text."`, "Just text."},
		{"blank response", `{"answer": {"response": "   "}}`, fallbackAnswer},
		{"empty object", `{}`, fallbackAnswer},
		{"null answer", `{"answer": null}`, fallbackAnswer},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			text, _ := NormalizeAnswer(json.RawMessage(tc.raw))
			assert.Equal(t, tc.want, text)
		})
	}
}

// TestNormalizeAnswerUnknownShapeStringifies verifies payloads outside
// the known shapes degrade to their raw text.
func TestNormalizeAnswerUnknownShapeStringifies(t *testing.T) {
	text, citations := NormalizeAnswer(json.RawMessage(`[1, 2, 3]`))
	assert.Equal(t, "[1, 2, 3]", text)
	assert.Nil(t, citations)

	text, _ = NormalizeAnswer(json.RawMessage(`not even json`))
	assert.Equal(t, "not even json", text)
}

// TestNormalizeCitationsFallbackChain verifies the label and source
// fallbacks for degenerate citation entries.
func TestNormalizeCitationsFallbackChain(t *testing.T) {
	raw := `{"answer": {"response": "ok", "citations": [
		{"document_name": "Report A", "source": "https://example.com/a.pdf"},
		{},
		{"url": "https://news.example.org/article"},
		{"title": "Filing B", "source": "internal-ref-7"}
	]}}`

	_, citations := NormalizeAnswer(json.RawMessage(raw))
	assert.Equal(t, []domain.Citation{
		{Source: "https://example.com/a.pdf", DisplayLabel: "Report A"},
		{Source: "Source 2", DisplayLabel: "Document"},
		{Source: "https://news.example.org/article", DisplayLabel: "news.example.org"},
		{Source: "internal-ref-7", DisplayLabel: "Filing B"},
	}, citations)
}

// TestNormalizeCitationsDiscardsNonObjects verifies positional numbering
// counts discarded entries.
func TestNormalizeCitationsDiscardsNonObjects(t *testing.T) {
	citations := NormalizeCitations([]any{"loose string", nil, 42.0, map[string]any{}})
	assert.Equal(t, []domain.Citation{
		{Source: "Source 4", DisplayLabel: "Document"},
	}, citations)
}

// TestNormalizeCitationsTotality feeds hostile values through every
// field and expects no panic.
func TestNormalizeCitationsTotality(t *testing.T) {
	assert.NotPanics(t, func() {
		NormalizeCitations([]any{
			map[string]any{"source": 12.5, "document_name": []any{"x"}},
			map[string]any{"url": nil, "title": map[string]any{}},
			map[string]any{"source": "   "},
			map[string]any{"source": "::not a url::"},
		})
	})

	assert.Nil(t, NormalizeCitations(nil))
	assert.Nil(t, NormalizeCitations([]any{"only", "strings"}))
}
