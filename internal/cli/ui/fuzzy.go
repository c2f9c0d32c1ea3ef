package ui

import (
	"slices"
	"strings"
)

const (
	// DefaultMaxDistance is the largest edit distance offered as a suggestion
	DefaultMaxDistance = 3
	// DefaultMaxSuggestions caps the number of suggestions returned
	DefaultMaxSuggestions = 3
)

// FuzzyMatchOptions configures fuzzy matching behavior
type FuzzyMatchOptions struct {
	MaxDistance    int  // Maximum Levenshtein distance to consider (default: 3)
	MaxSuggestions int  // Maximum number of suggestions to return (default: 3)
	CaseSensitive  bool // Whether matching is case-sensitive (default: false)
}

// FindSimilar returns the candidates closest to target, nearest first.
// Ties keep candidate order.
//
// Example:
//
//	FindSimilar("lifecycel", []string{"log_call", "lifecycle", "benchmark"}, nil)
//	// Returns: ["lifecycle"]
func FindSimilar(target string, candidates []string, opts *FuzzyMatchOptions) []string {
	o := FuzzyMatchOptions{MaxDistance: DefaultMaxDistance, MaxSuggestions: DefaultMaxSuggestions}
	if opts != nil {
		o.CaseSensitive = opts.CaseSensitive
		if opts.MaxDistance > 0 {
			o.MaxDistance = opts.MaxDistance
		}
		if opts.MaxSuggestions > 0 {
			o.MaxSuggestions = opts.MaxSuggestions
		}
	}

	type match struct {
		value    string
		distance int
	}
	var matches []match
	for _, c := range candidates {
		a, b := target, c
		if !o.CaseSensitive {
			a, b = strings.ToLower(a), strings.ToLower(b)
		}
		if d := LevenshteinDistance(a, b); d <= o.MaxDistance {
			matches = append(matches, match{c, d})
		}
	}
	slices.SortStableFunc(matches, func(x, y match) int { return x.distance - y.distance })

	out := make([]string, 0, min(len(matches), o.MaxSuggestions))
	for _, m := range matches[:min(len(matches), o.MaxSuggestions)] {
		out = append(out, m.value)
	}
	return out
}

// LevenshteinDistance is the number of single-rune insertions, deletions
// or substitutions needed to turn s1 into s2.
func LevenshteinDistance(s1, s2 string) int {
	a, b := []rune(s1), []rune(s2)
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
