package analyzer

import (
	"fmt"
	"strings"

	"github.com/ludo-technologies/evotrace/domain"
)

// ParseTokenSequence parses the "[tok1;tok2;tok3]" wire format a revision
// source may hand a CodeBlock's tokens in. Callers that already populate
// CodeBlock.Tokens directly never need this.
func ParseTokenSequence(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("invalid token sequence format: %q", s)
	}
	inner := s[1 : len(s)-1]
	if inner == "" {
		return nil, fmt.Errorf("empty token sequence")
	}
	return strings.Split(inner, ";"), nil
}

type tokenPair struct {
	a, b string
}

// bigrams returns the set of adjacent token pairs in tokens. A sequence of
// fewer than two tokens has no bigrams.
func bigrams(tokens []string) map[tokenPair]struct{} {
	set := make(map[tokenPair]struct{})
	for i := 0; i+1 < len(tokens); i++ {
		set[tokenPair{tokens[i], tokens[i+1]}] = struct{}{}
	}
	return set
}

// NgramSimilarity computes the Dice coefficient over bigram sets (not
// multisets: a repeated bigram counts once), scaled to 0-100. A sequence
// shorter than two tokens has no bigrams at all, so any pair where either
// side has fewer than two tokens is always 0, identical tokens included.
func NgramSimilarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	setA := bigrams(a)
	setB := bigrams(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for pair := range setA {
		if _, ok := setB[pair]; ok {
			intersection++
		}
	}

	return roundTo2(2.0 * float64(intersection) / float64(len(setA)+len(setB)) * 100.0)
}

// LcsSimilarity computes longest-common-subsequence similarity, scaled to
// 0-100: lcsLength / max(len(a), len(b)) * 100. Two empty sequences are
// defined as fully similar (100); one empty and one non-empty is 0.
func LcsSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 100.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	length := lcsLength(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	return roundTo2(float64(length) / float64(maxLen) * 100.0)
}

func lcsLength(a, b []string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// LcsSimilarityBanded is a bounded approximation of LcsSimilarity that only
// explores a diagonal band of width 2*band+1 around the main diagonal,
// trading a small amount of recall for O(n*band) time instead of O(n*m).
// bandWidth is typically max(bandWidthMin, floor(shorterLen*bandWidthRatio)).
func LcsSimilarityBanded(a, b []string, bandWidth int) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 100.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	if bandWidth < 0 {
		bandWidth = 0
	}

	n, m := len(a), len(b)
	const negInf = -1 << 30
	prev := make([]int, m+1)
	curr := make([]int, m+1)
	for j := range prev {
		prev[j] = negInf
	}
	prev[0] = 0

	for i := 1; i <= n; i++ {
		for j := range curr {
			curr[j] = negInf
		}
		lo := i - bandWidth
		if lo < 0 {
			lo = 0
		}
		hi := i + bandWidth
		if hi > m {
			hi = m
		}
		if lo == 0 {
			curr[0] = 0
		}
		start := lo
		if start < 1 {
			start = 1
		}
		for j := start; j <= hi; j++ {
			best := negInf
			if a[i-1] == b[j-1] && prev[j-1] != negInf {
				best = prev[j-1] + 1
			}
			if prev[j] > best {
				best = prev[j]
			}
			if curr[j-1] != negInf && curr[j-1] > best {
				best = curr[j-1]
			}
			curr[j] = best
		}
		prev, curr = curr, prev
	}

	length := prev[m]
	if length < 0 {
		length = 0
	}
	maxLen := n
	if m > maxLen {
		maxLen = m
	}
	return roundTo2(float64(length) / float64(maxLen) * 100.0)
}

// ComputeClonePair scores two code blocks from the same revision, matching
// domain.ClonePair's contract: n-gram similarity is always computed; LCS
// is only computed (and HasLCS set) when the n-gram score does not already
// clear ngramThreshold, since the combined score never needs it otherwise.
func ComputeClonePair(a, b domain.CodeBlock, ngramThreshold float64) domain.ClonePair {
	pair := domain.ClonePair{
		BlockAID:        a.ID,
		BlockBID:        b.ID,
		NgramSimilarity: NgramSimilarity(a.Tokens, b.Tokens),
	}
	if pair.NgramSimilarity < ngramThreshold {
		pair.LcsSimilarity = LcsSimilarity(a.Tokens, b.Tokens)
		pair.HasLCS = true
	}
	return pair
}

// ComputeClonePairBanded is ComputeClonePair's performance-oriented twin:
// it uses the banded LCS approximation instead of the full DP, which
// matters once cross-revision candidate pairs run into the thousands.
func ComputeClonePairBanded(a, b domain.CodeBlock, ngramThreshold float64, bandWidthMin int, bandWidthRatio float64) domain.ClonePair {
	pair := domain.ClonePair{
		BlockAID:        a.ID,
		BlockBID:        b.ID,
		NgramSimilarity: NgramSimilarity(a.Tokens, b.Tokens),
	}
	if pair.NgramSimilarity < ngramThreshold {
		shorter := len(a.Tokens)
		if len(b.Tokens) < shorter {
			shorter = len(b.Tokens)
		}
		band := int(float64(shorter) * bandWidthRatio)
		if band < bandWidthMin {
			band = bandWidthMin
		}
		pair.LcsSimilarity = LcsSimilarityBanded(a.Tokens, b.Tokens, band)
		pair.HasLCS = true
	}
	return pair
}

// JaccardSimilarity is the token-set Jaccard index (0.0-1.0), used as a
// cheap pre-filter before the more expensive n-gram/LCS computation.
func JaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}
	intersection := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

func roundTo2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
