package ledger

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/vantagedata/datamarket/pkg/models"
)

// fuzzyThreshold is the minimum normalized similarity for a token match.
const fuzzyThreshold = 0.75

// matchesQuery reports whether the listing matches the free-text query.
// Substring hits on name, category, or description match directly; otherwise
// each query token is compared against name tokens with normalized
// levenshtein similarity, so near-misspellings still find the listing.
func matchesQuery(l *models.Listing, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}

	name := strings.ToLower(l.Name)
	if strings.Contains(name, q) ||
		strings.Contains(strings.ToLower(l.Category), q) ||
		strings.Contains(strings.ToLower(l.Description), q) {
		return true
	}

	nameTokens := strings.Fields(name)
	for _, qt := range strings.Fields(q) {
		for _, nt := range nameTokens {
			if similarity(qt, nt) >= fuzzyThreshold {
				return true
			}
		}
	}
	return false
}

// similarity normalizes levenshtein distance into [0,1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}
