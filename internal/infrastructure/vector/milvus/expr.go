package milvus

import (
	"strconv"
	"strings"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/vector"
)

// RenderExpr converts a filter tree into a Milvus boolean expression. The
// zero filter renders as an empty expression.
func RenderExpr(f domain.Filter) string {
	switch f.Op {
	case domain.FilterEq:
		if len(f.Values) == 0 {
			return "false"
		}
		return f.Field + " == " + literal(f.Field, f.Values[0])
	case domain.FilterIn:
		parts := make([]string, 0, len(f.Values))
		for _, v := range f.Values {
			parts = append(parts, literal(f.Field, v))
		}
		return f.Field + " in [" + strings.Join(parts, ", ") + "]"
	case domain.FilterRange:
		return "(" + f.Field + " >= " + num(f.Min) + " and " + f.Field + " <= " + num(f.Max) + ")"
	case domain.FilterAnd:
		return join(f.Children, " and ")
	case domain.FilterOr:
		return join(f.Children, " or ")
	case domain.FilterNot:
		if len(f.Children) == 0 {
			return ""
		}
		if expr := RenderExpr(f.Children[0]); expr != "" {
			return "not (" + expr + ")"
		}
		return ""
	default:
		return ""
	}
}

func join(children []domain.Filter, sep string) string {
	parts := make([]string, 0, len(children))
	for _, c := range children {
		if expr := RenderExpr(c); expr != "" {
			parts = append(parts, expr)
		}
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return "(" + strings.Join(parts, sep) + ")"
	}
}

func literal(field, v string) string {
	if vector.IsNumericField(field) {
		if n, ok := vector.Number(v); ok {
			return num(n)
		}
	}
	return strconv.Quote(v)
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
