package redis

import (
	"strconv"
	"strings"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/vector"
)

// RenderQuery converts a filter tree into RediSearch query syntax. The zero
// filter matches everything.
func RenderQuery(f domain.Filter) string {
	switch f.Op {
	case domain.FilterEq:
		if len(f.Values) == 0 {
			return "-*"
		}
		return match(f.Field, f.Values)
	case domain.FilterIn:
		return match(f.Field, f.Values)
	case domain.FilterRange:
		return "@" + f.Field + ":[" + num(f.Min) + " " + num(f.Max) + "]"
	case domain.FilterAnd:
		return group(f.Children, " ")
	case domain.FilterOr:
		return group(f.Children, " | ")
	case domain.FilterNot:
		if len(f.Children) == 0 {
			return "*"
		}
		return "-" + RenderQuery(f.Children[0])
	default:
		return "*"
	}
}

func match(field string, values []string) string {
	if vector.IsNumericField(field) {
		parts := make([]string, 0, len(values))
		for _, v := range values {
			n, _ := vector.Number(v)
			parts = append(parts, "@"+field+":["+num(n)+" "+num(n)+"]")
		}
		if len(parts) == 1 {
			return parts[0]
		}
		return "(" + strings.Join(parts, " | ") + ")"
	}

	escaped := make([]string, 0, len(values))
	for _, v := range values {
		escaped = append(escaped, escapeTag(v))
	}
	return "@" + field + ":{" + strings.Join(escaped, " | ") + "}"
}

func group(children []domain.Filter, sep string) string {
	if len(children) == 0 {
		return "*"
	}
	parts := make([]string, 0, len(children))
	for _, c := range children {
		parts = append(parts, RenderQuery(c))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func escapeTag(v string) string {
	var b strings.Builder
	for _, r := range v {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 127) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
