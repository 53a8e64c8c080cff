package similarity

import (
	"math"
	"sort"
	"strings"

	"github.com/errorpulse/backend/internal/storage/models"
)

// DefaultThreshold is the minimum similarity ratio for a candidate to count
// as similar.
const DefaultThreshold = 0.7

// Match is a candidate error with its similarity score on a 0-100 scale.
type Match struct {
	models.ErrorEvent
	Similarity int `json:"similarity"`
}

// FindSimilar ranks candidates by Levenshtein similarity to target,
// descending. Candidates scoring below threshold and the target itself are
// excluded. O(n*m) per pair, so callers must cap the candidate pool; past a
// few hundred candidates this needs an index instead.
func FindSimilar(target *models.ErrorEvent, candidates []models.ErrorEvent, threshold float64) []Match {
	targetMsg := strings.ToLower(target.Message)

	var matches []Match
	for _, candidate := range candidates {
		if candidate.ID == target.ID {
			continue
		}

		candidateMsg := strings.ToLower(candidate.Message)
		score := Ratio(targetMsg, candidateMsg)
		if score < threshold {
			continue
		}

		matches = append(matches, Match{
			ErrorEvent: candidate,
			Similarity: int(math.Round(score * 100)),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	return matches
}

// Ratio returns 1 - editDistance/maxLen, in [0, 1]. Two empty strings are
// identical by definition.
func Ratio(a, b string) float64 {
	if a == b {
		return 1.0
	}

	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}

	return 1.0 - float64(levenshtein(a, b))/float64(maxLen)
}

// levenshtein computes classic edit distance with a two-row matrix.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(a)+1)
	curr := make([]int, len(a)+1)

	for j := 0; j <= len(a); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(b); i++ {
		curr[0] = i
		for j := 1; j <= len(a); j++ {
			cost := 1
			if b[i-1] == a[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j-1]+cost, // substitution
				curr[j-1]+1,    // insertion
				prev[j]+1,      // deletion
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(a)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
