package vector

import (
	"fmt"
	"strconv"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

// TagFields are string metadata keys every backend indexes for filtering.
var TagFields = []string{
	domain.MetaBucketName,
	domain.MetaObjectName,
	domain.MetaFileID,
	domain.MetaDocID,
	domain.MetaPath,
	domain.MetaChunkID,
}

// NumericFields are metadata keys compared as numbers.
var NumericFields = []string{
	domain.MetaPage,
	domain.MetaSummary,
	domain.MetaStartIndex,
}

func IsNumericField(field string) bool {
	for _, f := range NumericFields {
		if f == field {
			return true
		}
	}
	return false
}

// Number converts a metadata value to float64. Booleans count as 0/1.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// FilterFields extracts the indexed metadata keys, numbers normalized.
func FilterFields(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(TagFields)+len(NumericFields))
	for _, f := range TagFields {
		if v, ok := metadata[f]; ok && v != nil {
			out[f] = fmt.Sprintf("%v", v)
		}
	}
	for _, f := range NumericFields {
		if v, ok := metadata[f]; ok {
			if n, ok := Number(v); ok {
				out[f] = n
			}
		}
	}
	return out
}
