package analyzer

import (
	"fmt"
	"sort"

	"github.com/ludo-technologies/evotrace/domain"
	"github.com/ludo-technologies/evotrace/internal/config"
)

// GroupDetector clusters the code blocks of a single revision into clone
// groups using a disjoint set seeded with every block, unioned wherever a
// ClonePair's effective similarity clears the grouping threshold.
type GroupDetector struct {
	cfg *config.Config
}

// NewGroupDetector creates a GroupDetector for the given configuration.
func NewGroupDetector(cfg *config.Config) *GroupDetector {
	return &GroupDetector{cfg: cfg}
}

// DetectGroups returns every clone group (two or more mutually similar
// blocks) found among blocks, using the already-scored pairs. Every block
// id is inserted into the disjoint set up front, so a block with no
// similar partner simply ends up in its own untracked singleton set and
// is not present in the returned groups.
func (gd *GroupDetector) DetectGroups(blocks []domain.CodeBlock, pairs []domain.ClonePair) []*domain.CloneGroup {
	ds := NewDisjointSet()
	for _, b := range blocks {
		ds.Add(b.ID)
	}

	threshold := gd.cfg.Grouping.GroupThreshold
	ngramThreshold := gd.cfg.Thresholds.SimilarityThreshold

	type scoredPair struct {
		a, b string
		sim  float64
	}
	var accepted []scoredPair
	for _, p := range pairs {
		sim := p.EffectiveSimilarity(ngramThreshold)
		if sim >= threshold {
			ds.Union(p.BlockAID, p.BlockBID)
			accepted = append(accepted, scoredPair{p.BlockAID, p.BlockBID, sim})
		}
	}

	rootGroups := ds.Groups()
	groupsByRoot := make(map[string]*domain.CloneGroup, len(rootGroups))
	for root, members := range rootGroups {
		if len(members) < 2 {
			continue
		}
		g := domain.NewCloneGroup(groupID(members))
		for _, m := range members {
			g.AddMember(m)
		}
		groupsByRoot[root] = g
	}

	for _, sp := range accepted {
		root := ds.Find(sp.a)
		if g, ok := groupsByRoot[root]; ok {
			g.SetSimilarity(sp.a, sp.b, sp.sim)
		}
	}

	groups := make([]*domain.CloneGroup, 0, len(groupsByRoot))
	for _, g := range groupsByRoot {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}

// groupID derives a deterministic id for a group from its (already sorted)
// member ids, so the same clustering always produces the same id without
// needing a counter threaded through the caller.
func groupID(sortedMembers []string) string {
	return fmt.Sprintf("grp:%s", sortedMembers[0])
}

// GeneratePairs scores candidate block pairs within a single revision for
// GroupDetector. It exists only as a fallback for a revision source that
// doesn't supply domain.Revision.ClonePairs itself; EvolutionTracker prefers
// the caller-supplied pairs and calls this only when a revision has none.
// Below the LSH auto-enable threshold every pair is scored directly; at
// scale, candidates are restricted to what an LshIndex over MinHash
// signatures surfaces, trading a small amount of recall for avoiding the
// full O(n^2) comparison.
func GeneratePairs(cfg *config.Config, blocks []domain.CodeBlock) []domain.ClonePair {
	threshold := cfg.Thresholds.SimilarityThreshold
	bandMin, bandRatio := cfg.Thresholds.BandWidthMin, cfg.Thresholds.BandWidthRatio

	useLSH := cfg.LSH.Enabled == "true" ||
		(cfg.LSH.Enabled != "false" && len(blocks) >= cfg.LSH.AutoThreshold)

	if !useLSH {
		var pairs []domain.ClonePair
		for i := 0; i < len(blocks); i++ {
			for j := i + 1; j < len(blocks); j++ {
				if skipPairByLength(cfg, blocks[i].Tokens, blocks[j].Tokens) {
					continue
				}
				pairs = append(pairs, ComputeClonePairBanded(blocks[i], blocks[j], threshold, bandMin, bandRatio))
			}
		}
		return pairs
	}

	byID := make(map[string]domain.CodeBlock, len(blocks))
	for _, b := range blocks {
		byID[b.ID] = b
	}

	hasher := NewMinHasher(cfg.LSH.NumPermutations)
	lsh := NewLSHIndex(LSHConfig{Bands: cfg.LSH.Bands, Rows: cfg.LSH.Rows})
	signatures := make(map[string]*MinHashSignature, len(blocks))
	for _, b := range blocks {
		sig := hasher.ComputeSignature(b.Tokens)
		signatures[b.ID] = sig
		_ = lsh.AddFragment(b.ID, sig)
	}

	seen := make(map[string]bool)
	var pairs []domain.ClonePair
	for _, b := range blocks {
		for _, candID := range lsh.FindCandidates(signatures[b.ID]) {
			if candID == b.ID {
				continue
			}
			key := pairKey(b.ID, candID)
			if seen[key] {
				continue
			}
			seen[key] = true
			other, ok := byID[candID]
			if !ok || skipPairByLength(cfg, b.Tokens, other.Tokens) {
				continue
			}
			pairs = append(pairs, ComputeClonePairBanded(b, other, threshold, bandMin, bandRatio))
		}
	}
	return pairs
}

// skipPairByLength reports whether a and b differ enough in length that
// scoring the pair isn't worth it: (longer-shorter)/longer > LengthSkipRatio.
func skipPairByLength(cfg *config.Config, a, b []string) bool {
	ratio := cfg.Filtering.LengthSkipRatio
	if ratio <= 0 || len(a) == 0 || len(b) == 0 {
		return false
	}
	shorter, longer := len(a), len(b)
	if shorter > longer {
		shorter, longer = longer, shorter
	}
	return float64(shorter) < float64(longer)*(1-ratio)
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}
