package qdrant

import (
	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/vector"
)

// RenderFilter converts a filter tree into Qdrant's JSON filter. Metadata
// keys live under the "metadata." payload prefix.
func RenderFilter(f domain.Filter) map[string]any {
	switch f.Op {
	case domain.FilterAnd:
		return map[string]any{"must": conditions(f.Children)}
	case domain.FilterOr:
		return map[string]any{"should": conditions(f.Children)}
	case domain.FilterNot:
		return map[string]any{"must_not": conditions(f.Children)}
	case "":
		return map[string]any{}
	default:
		return map[string]any{"must": []map[string]any{condition(f)}}
	}
}

func conditions(children []domain.Filter) []map[string]any {
	out := make([]map[string]any, 0, len(children))
	for _, c := range children {
		out = append(out, condition(c))
	}
	return out
}

func condition(f domain.Filter) map[string]any {
	key := "metadata." + f.Field
	switch f.Op {
	case domain.FilterEq:
		if len(f.Values) == 0 {
			return map[string]any{"key": key, "match": map[string]any{"any": []any{}}}
		}
		return map[string]any{"key": key, "match": map[string]any{"value": matchValue(f.Field, f.Values[0])}}
	case domain.FilterIn:
		values := make([]any, 0, len(f.Values))
		for _, v := range f.Values {
			values = append(values, matchValue(f.Field, v))
		}
		return map[string]any{"key": key, "match": map[string]any{"any": values}}
	case domain.FilterRange:
		return map[string]any{"key": key, "range": map[string]any{"gte": f.Min, "lte": f.Max}}
	default:
		// Nested boolean groups are filters themselves.
		return RenderFilter(f)
	}
}

func matchValue(field, raw string) any {
	if vector.IsNumericField(field) {
		if n, ok := vector.Number(raw); ok {
			return int64(n)
		}
	}
	return raw
}
