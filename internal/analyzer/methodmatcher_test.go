package analyzer

import (
	"context"
	"testing"

	"github.com/ludo-technologies/evotrace/domain"
	"github.com/ludo-technologies/evotrace/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch_ExactMatchViaTokenHash(t *testing.T) {
	cfg := config.DefaultConfig()
	m := NewMethodMatcher(cfg)

	toks := []string{"func", "foo", "(", ")", "return", "1"}
	source := []domain.CodeBlock{{ID: "s1", Tokens: toks}}
	target := []domain.CodeBlock{{ID: "t1", Tokens: toks}}

	matches := m.Match(context.Background(), source, target)
	require.Len(t, matches, 1)
	assert.Equal(t, "t1", matches[0].TargetBlockID)
	assert.Equal(t, domain.MatchExact, matches[0].MatchType)
	assert.Equal(t, 100.0, matches[0].Similarity)
}

func TestMatch_NoCandidateYieldsMatchNone(t *testing.T) {
	cfg := config.DefaultConfig()
	m := NewMethodMatcher(cfg)

	source := []domain.CodeBlock{{ID: "s1", Tokens: []string{"func", "foo", "(", ")"}}}
	target := []domain.CodeBlock{{ID: "t1", Tokens: []string{"package", "main", "import", "os", "exit", "1", "x", "y"}}}

	matches := m.Match(context.Background(), source, target)
	require.Len(t, matches, 1)
	assert.Equal(t, domain.MatchNone, matches[0].MatchType)
	assert.Equal(t, "", matches[0].TargetBlockID)
}

func TestMatch_FuzzyMatchWithMinorEdit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Thresholds.SimilarityThreshold = 50
	m := NewMethodMatcher(cfg)

	source := []domain.CodeBlock{{ID: "s1", Tokens: []string{"func", "foo", "(", ")", "return", "1"}}}
	target := []domain.CodeBlock{{ID: "t1", Tokens: []string{"func", "foo", "(", ")", "return", "2"}}}

	matches := m.Match(context.Background(), source, target)
	require.Len(t, matches, 1)
	assert.Equal(t, domain.MatchFuzzy, matches[0].MatchType)
	assert.Equal(t, "t1", matches[0].TargetBlockID)
}

func TestMatch_Phase0NameMatchingWinsOverHashMatch(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Filtering.EnableNameMatching = true
	m := NewMethodMatcher(cfg)

	toks := []string{"func", "foo", "(", ")", "return", "1"}
	source := []domain.CodeBlock{{ID: "s1", Tokens: toks, FilePath: "a.go", MethodName: "Foo"}}
	target := []domain.CodeBlock{
		{ID: "t1", Tokens: toks, FilePath: "a.go", MethodName: "Foo"},
		{ID: "t2", Tokens: toks, FilePath: "b.go", MethodName: "Bar"},
	}

	matches := m.Match(context.Background(), source, target)
	require.Len(t, matches, 1)
	assert.Equal(t, "t1", matches[0].TargetBlockID)
}

func TestMatch_DetectsMovedAndRenamed(t *testing.T) {
	cfg := config.DefaultConfig()
	m := NewMethodMatcher(cfg)
	toks := []string{"func", "foo", "(", ")", "return", "1"}

	moved := m.Match(context.Background(),
		[]domain.CodeBlock{{ID: "s1", Tokens: toks, FilePath: "a.go", MethodName: "Foo"}},
		[]domain.CodeBlock{{ID: "t1", Tokens: toks, FilePath: "b.go", MethodName: "Foo"}},
	)
	require.Len(t, moved, 1)
	assert.Equal(t, domain.MatchMoved, moved[0].MatchType)

	renamed := m.Match(context.Background(),
		[]domain.CodeBlock{{ID: "s1", Tokens: toks, FilePath: "a.go", MethodName: "Foo"}},
		[]domain.CodeBlock{{ID: "t1", Tokens: toks, FilePath: "a.go", MethodName: "Bar"}},
	)
	require.Len(t, renamed, 1)
	assert.Equal(t, domain.MatchRenamed, renamed[0].MatchType)
}

func TestMatch_EachTargetClaimedAtMostOnce(t *testing.T) {
	cfg := config.DefaultConfig()
	m := NewMethodMatcher(cfg)
	toks := []string{"func", "foo", "(", ")", "return", "1"}

	source := []domain.CodeBlock{
		{ID: "s1", Tokens: toks},
		{ID: "s2", Tokens: toks},
	}
	target := []domain.CodeBlock{{ID: "t1", Tokens: toks}}

	matches := m.Match(context.Background(), source, target)
	require.Len(t, matches, 2)
	claimed := 0
	for _, mm := range matches {
		if mm.TargetBlockID == "t1" {
			claimed++
		}
	}
	assert.Equal(t, 1, claimed)
}

func TestSkipByLength(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Filtering.LengthSkipRatio = 0.3
	m := NewMethodMatcher(cfg)

	assert.True(t, m.skipByLength(make([]string, 6), make([]string, 10)))
	assert.False(t, m.skipByLength(make([]string, 8), make([]string, 10)))
}

func TestLshEnabled_AutoUsesThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LSH.Enabled = "auto"
	cfg.LSH.AutoThreshold = 100
	m := NewMethodMatcher(cfg)

	assert.False(t, m.lshEnabled(50))
	assert.True(t, m.lshEnabled(200))
}

func TestLshEnabled_ExplicitOverride(t *testing.T) {
	cfg := config.DefaultConfig()
	m := NewMethodMatcher(cfg)

	cfg.LSH.Enabled = "true"
	assert.True(t, m.lshEnabled(0))

	cfg.LSH.Enabled = "false"
	assert.False(t, m.lshEnabled(1000000))
}

func TestCachedSimilarity_MemoizesAcrossCalls(t *testing.T) {
	cfg := config.DefaultConfig()
	m := NewMethodMatcher(cfg)

	a := domain.CodeBlock{ID: "a", Tokens: []string{"func", "foo", "(", ")", "return", "1"}}
	b := domain.CodeBlock{ID: "b", Tokens: []string{"func", "foo", "(", ")", "return", "2"}}

	sim1 := m.cachedSimilarity(a, b)
	sim2 := m.cachedSimilarity(b, a)
	assert.Equal(t, sim1, sim2)
}

func TestPairCacheKey_OrderIndependent(t *testing.T) {
	assert.Equal(t, pairCacheKey("x", "y"), pairCacheKey("y", "x"))
}
