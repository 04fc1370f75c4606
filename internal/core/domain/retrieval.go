package domain

import "strings"

type SearchType string

const (
	SearchSimilarity                  SearchType = "similarity"
	SearchSimilarityDistanceThreshold SearchType = "similarity_distance_threshold"
	SearchSimilarityScoreThreshold    SearchType = "similarity_score_threshold"
	SearchMMR                         SearchType = "mmr"
)

func ParseSearchType(raw string) (SearchType, bool) {
	switch SearchType(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SearchSimilarity:
		return SearchSimilarity, true
	case SearchSimilarityDistanceThreshold:
		return SearchSimilarityDistanceThreshold, true
	case SearchSimilarityScoreThreshold:
		return SearchSimilarityScoreThreshold, true
	case SearchMMR:
		return SearchMMR, true
	default:
		return "", false
	}
}

// RetrievalRequest carries one retriever call. Authorization is copied from
// the caller's header and resolved to readable buckets by the retriever.
type RetrievalRequest struct {
	Query             string     `json:"text"`
	Embedding         []float32  `json:"embedding,omitempty"`
	SearchType        SearchType `json:"search_type"`
	K                 int        `json:"k"`
	DistanceThreshold *float64   `json:"distance_threshold,omitempty"`
	ScoreThreshold    float64    `json:"score_threshold"`
	FetchK            int        `json:"fetch_k"`
	LambdaMult        float64    `json:"lambda_mult"`

	Hierarchical bool `json:"hierarchical"`
	KSummaries   int  `json:"k_summaries"`
	KChunks      int  `json:"k_chunks"`

	BucketNames   []string `json:"bucket_names,omitempty"`
	ObjectName    string   `json:"object_name,omitempty"`
	Authorization string   `json:"-"`
}

// ScoredDoc is a vector store hit. Embedding is only populated when the
// caller asked for vectors (MMR).
type ScoredDoc struct {
	Doc       TextDoc
	Score     float64
	Distance  float64
	Embedding []float32
}

type RerankScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

type FilterOp string

const (
	FilterAnd   FilterOp = "and"
	FilterOr    FilterOp = "or"
	FilterEq    FilterOp = "eq"
	FilterIn    FilterOp = "in"
	FilterRange FilterOp = "range"
	FilterNot   FilterOp = "not"
)

// Filter is a backend-neutral metadata predicate rendered by each vector store.
type Filter struct {
	Op       FilterOp
	Field    string
	Values   []string
	Min      float64
	Max      float64
	Children []Filter
}

func Eq(field, value string) Filter {
	return Filter{Op: FilterEq, Field: field, Values: []string{value}}
}

func In(field string, values ...string) Filter {
	return Filter{Op: FilterIn, Field: field, Values: values}
}

func Range(field string, lo, hi float64) Filter {
	return Filter{Op: FilterRange, Field: field, Min: lo, Max: hi}
}

func And(children ...Filter) Filter {
	return Filter{Op: FilterAnd, Children: compact(children)}
}

func Or(children ...Filter) Filter {
	return Filter{Op: FilterOr, Children: compact(children)}
}

// Not negates a filter. Negating the zero filter gives the zero filter.
func Not(child Filter) Filter {
	if child.IsZero() {
		return Filter{}
	}
	return Filter{Op: FilterNot, Children: []Filter{child}}
}

func (f Filter) IsZero() bool {
	return f.Op == ""
}

func compact(children []Filter) []Filter {
	out := make([]Filter, 0, len(children))
	for _, c := range children {
		if !c.IsZero() {
			out = append(out, c)
		}
	}
	return out
}
