package api

import "strings"

// ComposeQuery flattens the query form into the single backend query
// string: the free-text question followed by optional search-tag and
// trusted-source suffixes.
func ComposeQuery(req SubmitRequest) string {
	var b strings.Builder
	b.WriteString(req.Query)

	if tags := joinNonEmpty(req.SearchTags); tags != "" {
		b.WriteString("\n\nSearch tags/topics: ")
		b.WriteString(tags)
	}
	if sources := joinNonEmpty(req.TrustedSources); sources != "" {
		b.WriteString("\nDatasources/URLs: ")
		b.WriteString(sources)
	}
	return b.String()
}

// joinNonEmpty joins trimmed values, dropping blanks.
func joinNonEmpty(values []string) string {
	kept := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, ", ")
}
