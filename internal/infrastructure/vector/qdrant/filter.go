package qdrant

import "github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"

// buildFilter translates a domain search filter into a Qdrant filter body.
// Returns nil when the filter does not restrict anything.
func buildFilter(filter domain.SearchFilter) map[string]any {
	must := make([]map[string]any, 0, 2)

	if filter.SourceType != "" {
		must = append(must, map[string]any{
			"key":   "source_type",
			"match": map[string]any{"value": string(filter.SourceType)},
		})
	}
	if len(filter.DocumentIDs) > 0 {
		must = append(must, map[string]any{
			"key":   "doc_id",
			"match": map[string]any{"any": filter.DocumentIDs},
		})
	}

	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}
