package vector

import "math"

// MaximalMarginalRelevance picks up to k candidate indices balancing
// similarity to the query (weight lambda) against similarity to the already
// selected candidates (weight 1-lambda).
func MaximalMarginalRelevance(query []float32, candidates [][]float32, lambda float64, k int) []int {
	k = min(k, len(candidates))
	if k <= 0 {
		return nil
	}

	toQuery := make([]float64, len(candidates))
	best := 0
	for i, c := range candidates {
		toQuery[i] = CosineSimilarity(query, c)
		if toQuery[i] > toQuery[best] {
			best = i
		}
	}

	selected := []int{best}
	taken := map[int]bool{best: true}
	// maxToSelected[i] is the highest similarity of candidate i to any selected one.
	maxToSelected := make([]float64, len(candidates))
	for i, c := range candidates {
		maxToSelected[i] = CosineSimilarity(c, candidates[best])
	}

	for len(selected) < k {
		next := -1
		nextScore := math.Inf(-1)
		for i := range candidates {
			if taken[i] {
				continue
			}
			score := lambda*toQuery[i] - (1-lambda)*maxToSelected[i]
			if score > nextScore {
				next, nextScore = i, score
			}
		}
		if next < 0 {
			break
		}
		selected = append(selected, next)
		taken[next] = true
		for i, c := range candidates {
			if sim := CosineSimilarity(c, candidates[next]); sim > maxToSelected[i] {
				maxToSelected[i] = sim
			}
		}
	}
	return selected
}

func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
