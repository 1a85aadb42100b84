package analyzer

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cespare/xxhash/v2"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/ludo-technologies/evotrace/domain"
	"github.com/ludo-technologies/evotrace/internal/config"
)

// MethodMatcher matches the code blocks of one revision against the next:
// an exact phase over token hashes, followed by a fuzzy phase over
// n-gram/LCS similarity, optionally accelerated by an LshIndex and an
// optional name-based phase run first when blocks carry identity info.
type MethodMatcher struct {
	cfg    *config.Config
	logger *log.Logger
	meter  metric.Meter

	candidatesCounter metric.Int64Counter
	cacheHitCounter   metric.Int64Counter
	phaseDuration     metric.Float64Histogram

	cacheMu sync.RWMutex
	cache   map[string]float64
}

// MatcherOption configures optional ambient infrastructure on a MethodMatcher.
type MatcherOption func(*MethodMatcher)

// WithLogger redirects the matcher's diagnostics to a caller-supplied logger.
func WithLogger(logger *log.Logger) MatcherOption {
	return func(m *MethodMatcher) { m.logger = logger }
}

// WithMeter wires an OpenTelemetry meter for the matcher's ambient counters.
func WithMeter(meter metric.Meter) MatcherOption {
	return func(m *MethodMatcher) { m.meter = meter }
}

// NewMethodMatcher creates a MethodMatcher for the given configuration.
func NewMethodMatcher(cfg *config.Config, opts ...MatcherOption) *MethodMatcher {
	m := &MethodMatcher{
		cfg:    cfg,
		logger: log.Default(),
		meter:  noop.NewMeterProvider().Meter("evotrace/methodmatcher"),
		cache:  make(map[string]float64),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.candidatesCounter, _ = m.meter.Int64Counter("evotrace.matcher.candidates_considered")
	m.cacheHitCounter, _ = m.meter.Int64Counter("evotrace.matcher.cache_hits")
	m.phaseDuration, _ = m.meter.Float64Histogram("evotrace.matcher.fuzzy_phase_seconds")
	return m
}

// blockIndex is a per-revision lookup table built once per Match call.
type blockIndex struct {
	blocks   map[string]domain.CodeBlock
	ordinals map[string]uint32
	byOrdCap uint32
}

func newBlockIndex(blocks []domain.CodeBlock) *blockIndex {
	idx := &blockIndex{
		blocks:   make(map[string]domain.CodeBlock, len(blocks)),
		ordinals: make(map[string]uint32, len(blocks)),
	}
	for i, b := range blocks {
		idx.blocks[b.ID] = b
		idx.ordinals[b.ID] = uint32(i)
	}
	idx.byOrdCap = uint32(len(blocks))
	return idx
}

// Match matches every block in source against target, returning one
// MethodMatch per source block (MatchType NONE when nothing was found).
func (m *MethodMatcher) Match(ctx context.Context, source, target []domain.CodeBlock) []domain.MethodMatch {
	targetIdx := newBlockIndex(target)
	claimedTargets := roaring.New()
	claimedSource := make(map[string]bool, len(source))
	matches := make(map[string]domain.MethodMatch, len(source))

	if m.cfg.Filtering.EnableNameMatching {
		m.matchPhase0(source, target, targetIdx, claimedTargets, claimedSource, matches)
	}
	m.matchPhase1(source, target, targetIdx, claimedTargets, claimedSource, matches)
	m.matchPhase2(ctx, source, target, targetIdx, claimedTargets, claimedSource, matches)

	result := make([]domain.MethodMatch, 0, len(source))
	for _, b := range source {
		if mm, ok := matches[b.ID]; ok {
			result = append(result, mm)
		} else {
			result = append(result, domain.MethodMatch{SourceBlockID: b.ID, MatchType: domain.MatchNone})
		}
	}
	return result
}

// matchPhase0 matches blocks whose (FilePath, MethodName) identity is
// shared exactly between the two revisions. This is the optional
// enrichment described for name-carrying revision sources; blocks without
// both fields populated are silently skipped.
func (m *MethodMatcher) matchPhase0(source, target []domain.CodeBlock, targetIdx *blockIndex,
	claimedTargets *roaring.Bitmap, claimedSource map[string]bool, matches map[string]domain.MethodMatch) {

	type identity struct{ file, name string }
	byIdentity := make(map[identity]string)
	for _, t := range target {
		if t.FilePath == "" || t.MethodName == "" {
			continue
		}
		byIdentity[identity{t.FilePath, t.MethodName}] = t.ID
	}

	for _, s := range source {
		if s.FilePath == "" || s.MethodName == "" {
			continue
		}
		targetID, ok := byIdentity[identity{s.FilePath, s.MethodName}]
		if !ok {
			continue
		}
		ord := targetIdx.ordinals[targetID]
		if claimedTargets.Contains(ord) {
			continue
		}
		t := targetIdx.blocks[targetID]
		matches[s.ID] = domain.MethodMatch{
			SourceBlockID:    s.ID,
			TargetBlockID:    targetID,
			MatchType:        domain.MatchExact,
			Similarity:       100,
			SignatureChanged: !sameTokens(s.Tokens, t.Tokens),
		}
		claimedTargets.Add(ord)
		claimedSource[s.ID] = true
	}
}

// matchPhase1 matches remaining blocks by an exact hash of their full
// token sequence, sub-classifying into MOVED/RENAMED when both blocks
// carry file/name identity and it changed across the match.
func (m *MethodMatcher) matchPhase1(source, target []domain.CodeBlock, targetIdx *blockIndex,
	claimedTargets *roaring.Bitmap, claimedSource map[string]bool, matches map[string]domain.MethodMatch) {

	hashIndex := make(map[uint64][]string)
	for _, t := range target {
		ord := targetIdx.ordinals[t.ID]
		if claimedTargets.Contains(ord) {
			continue
		}
		h := blockHash(t)
		hashIndex[h] = append(hashIndex[h], t.ID)
	}
	for _, ids := range hashIndex {
		sort.Strings(ids)
	}

	for _, s := range source {
		if claimedSource[s.ID] {
			continue
		}
		candidates := hashIndex[blockHash(s)]
		var targetID string
		for _, cand := range candidates {
			ord := targetIdx.ordinals[cand]
			if !claimedTargets.Contains(ord) {
				targetID = cand
				break
			}
		}
		if targetID == "" {
			continue
		}
		t := targetIdx.blocks[targetID]
		matches[s.ID] = domain.MethodMatch{
			SourceBlockID: s.ID,
			TargetBlockID: targetID,
			MatchType:     detectMatchType(s, t),
			Similarity:    100,
		}
		claimedTargets.Add(targetIdx.ordinals[targetID])
		claimedSource[s.ID] = true
	}
}

func detectMatchType(s, t domain.CodeBlock) domain.MatchType {
	if s.FilePath == "" || s.MethodName == "" || t.FilePath == "" || t.MethodName == "" {
		return domain.MatchExact
	}
	switch {
	case s.FilePath == t.FilePath && s.MethodName == t.MethodName:
		return domain.MatchExact
	case s.FilePath != t.FilePath:
		return domain.MatchMoved
	default:
		return domain.MatchRenamed
	}
}

func sameTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func tokenHash(tokens []string) uint64 {
	return xxhash.Sum64String(strings.Join(tokens, "\x1f"))
}

// blockHash is the exact-match key for a block: its caller-supplied
// TokenHash when present (the revision source already guarantees equal
// TokenHash implies equal Tokens), or a hash of Tokens itself otherwise.
func blockHash(b domain.CodeBlock) uint64 {
	if b.TokenHash != "" {
		return xxhash.Sum64String(b.TokenHash)
	}
	return tokenHash(b.Tokens)
}

// matchPhase2 scores every still-unclaimed source block against still-
// unclaimed target blocks using n-gram/LCS similarity, optionally
// restricting candidates via an LshIndex and always respecting
// Filtering.TopK, LengthSkipRatio and JaccardPrefilter. The work is
// chunked across a worker pool once the unclaimed source*target product
// exceeds Performance.ParallelMinPairs.
func (m *MethodMatcher) matchPhase2(ctx context.Context, source, target []domain.CodeBlock, targetIdx *blockIndex,
	claimedTargets *roaring.Bitmap, claimedSource map[string]bool, matches map[string]domain.MethodMatch) {

	var unclaimedSource []domain.CodeBlock
	for _, s := range source {
		if !claimedSource[s.ID] {
			unclaimedSource = append(unclaimedSource, s)
		}
	}
	var unclaimedTarget []domain.CodeBlock
	for _, t := range target {
		if !claimedTargets.Contains(targetIdx.ordinals[t.ID]) {
			unclaimedTarget = append(unclaimedTarget, t)
		}
	}
	if len(unclaimedSource) == 0 || len(unclaimedTarget) == 0 {
		return
	}

	thresholds := m.cfg.Filtering.ProgressiveThresholds
	if len(thresholds) == 0 {
		thresholds = []float64{m.cfg.Thresholds.SimilarityThreshold}
	}

	lshEnabled := m.lshEnabled(len(unclaimedTarget))
	var lsh *LSHIndex
	var hasher *MinHasher
	if lshEnabled {
		hasher = NewMinHasher(m.cfg.LSH.NumPermutations)
		lsh = NewLSHIndex(LSHConfig{Bands: m.cfg.LSH.Bands, Rows: m.cfg.LSH.Rows})
		for _, t := range unclaimedTarget {
			sig := hasher.ComputeSignature(t.Tokens)
			_ = lsh.AddFragment(t.ID, sig)
		}
		stats := lsh.GetStats()
		m.logger.Printf("phase2 lsh: fragments=%d buckets=%d avg_bucket_size=%.2f max_bucket_size=%d",
			stats.NumFragments, stats.NumBuckets, stats.AvgBucketSize, stats.MaxBucketSize)
	}

	for _, threshold := range thresholds {
		if len(unclaimedSource) == 0 || len(unclaimedTarget) == 0 {
			break
		}
		targetByID := make(map[string]domain.CodeBlock, len(unclaimedTarget))
		for _, t := range unclaimedTarget {
			targetByID[t.ID] = t
		}

		results := m.scoreChunked(ctx, unclaimedSource, unclaimedTarget, targetByID, lsh, hasher, threshold)

		// Accept round results deterministically: sort source ids so
		// claim order never depends on worker completion order, then
		// re-check target availability (an earlier source in this same
		// round may have just claimed it).
		sort.Slice(results, func(i, j int) bool { return results[i].sourceID < results[j].sourceID })
		for _, r := range results {
			if r.targetID == "" {
				continue
			}
			ord := targetIdx.ordinals[r.targetID]
			if claimedTargets.Contains(ord) {
				continue
			}
			matches[r.sourceID] = domain.MethodMatch{
				SourceBlockID: r.sourceID,
				TargetBlockID: r.targetID,
				MatchType:     domain.MatchFuzzy,
				Similarity:    r.similarity,
			}
			claimedTargets.Add(ord)
			claimedSource[r.sourceID] = true
		}

		var nextSource []domain.CodeBlock
		for _, s := range unclaimedSource {
			if !claimedSource[s.ID] {
				nextSource = append(nextSource, s)
			}
		}
		var nextTarget []domain.CodeBlock
		for _, t := range unclaimedTarget {
			if !claimedTargets.Contains(targetIdx.ordinals[t.ID]) {
				nextTarget = append(nextTarget, t)
			}
		}
		unclaimedSource, unclaimedTarget = nextSource, nextTarget
	}

	if lshEnabled {
		m.logger.Printf("phase2 lsh: %d source blocks left unclaimed after fuzzy matching", len(unclaimedSource))
	}
}

func (m *MethodMatcher) lshEnabled(targetCount int) bool {
	switch m.cfg.LSH.Enabled {
	case "true":
		return true
	case "false":
		return false
	default: // "auto"
		return targetCount >= m.cfg.LSH.AutoThreshold
	}
}

type fuzzyResult struct {
	sourceID   string
	targetID   string
	similarity float64
}

// scoreChunked finds, for every block in sourceBlocks, its best candidate
// in targetByID at or above threshold, parallelizing across chunks once
// the pair count is large enough to be worth the goroutine overhead.
func (m *MethodMatcher) scoreChunked(ctx context.Context, sourceBlocks, targetBlocks []domain.CodeBlock,
	targetByID map[string]domain.CodeBlock, lsh *LSHIndex, hasher *MinHasher, threshold float64) []fuzzyResult {

	pairCount := len(sourceBlocks) * len(targetBlocks)
	chunkSize := m.cfg.Performance.ChunkSize
	if chunkSize <= 0 {
		chunkSize = len(sourceBlocks)
	}

	var chunks [][]domain.CodeBlock
	for i := 0; i < len(sourceBlocks); i += chunkSize {
		end := i + chunkSize
		if end > len(sourceBlocks) {
			end = len(sourceBlocks)
		}
		chunks = append(chunks, sourceBlocks[i:end])
	}

	score := func(chunk []domain.CodeBlock) []fuzzyResult {
		out := make([]fuzzyResult, 0, len(chunk))
		for _, s := range chunk {
			tid, sim := m.bestCandidate(s, targetBlocks, targetByID, lsh, hasher, threshold)
			out = append(out, fuzzyResult{sourceID: s.ID, targetID: tid, similarity: sim})
		}
		return out
	}

	if pairCount < m.cfg.Performance.ParallelMinPairs || len(chunks) <= 1 {
		var all []fuzzyResult
		for _, c := range chunks {
			all = append(all, score(c)...)
		}
		return all
	}

	var mu sync.Mutex
	var all []fuzzyResult
	p := pool.New().WithMaxGoroutines(m.cfg.Performance.MaxGoroutines)
	for _, c := range chunks {
		chunk := c
		p.Go(func() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			partial := score(chunk)
			mu.Lock()
			all = append(all, partial...)
			mu.Unlock()
		})
	}
	p.Wait()
	return all
}

// bestCandidate finds s's best match among targetBlocks, applying the
// length-skip and Jaccard pre-filters and the deterministic tie-break:
// highest similarity first, then smallest target block id.
func (m *MethodMatcher) bestCandidate(s domain.CodeBlock, targetBlocks []domain.CodeBlock, targetByID map[string]domain.CodeBlock,
	lsh *LSHIndex, hasher *MinHasher, threshold float64) (string, float64) {

	candidates := targetBlocks
	if lsh != nil && hasher != nil {
		sig := hasher.ComputeSignature(s.Tokens)
		ids := lsh.FindCandidates(sig)
		candidates = make([]domain.CodeBlock, 0, len(ids))
		for _, id := range ids {
			if t, ok := targetByID[id]; ok {
				candidates = append(candidates, t)
			}
		}
	}

	type scored struct {
		id  string
		sim float64
	}
	var scoredCandidates []scored
	for _, t := range candidates {
		if m.skipByLength(s.Tokens, t.Tokens) {
			continue
		}
		if JaccardSimilarity(s.Tokens, t.Tokens) < m.cfg.Filtering.JaccardPrefilter {
			continue
		}
		scoredCandidates = append(scoredCandidates, scored{id: t.ID})
	}
	if m.candidatesCounter != nil {
		m.candidatesCounter.Add(context.Background(), int64(len(scoredCandidates)))
	}

	sort.Slice(scoredCandidates, func(i, j int) bool { return scoredCandidates[i].id < scoredCandidates[j].id })
	topK := m.cfg.Filtering.TopK
	if topK > 0 && len(scoredCandidates) > topK {
		scoredCandidates = scoredCandidates[:topK]
	}

	bestID := ""
	bestSim := -1.0
	for i := range scoredCandidates {
		t := targetByID[scoredCandidates[i].id]
		sim := m.cachedSimilarity(s, t)
		scoredCandidates[i].sim = sim
		if sim > bestSim || (sim == bestSim && bestID != "" && scoredCandidates[i].id < bestID) {
			bestSim = sim
			bestID = scoredCandidates[i].id
		}
	}
	if bestID == "" || bestSim < threshold {
		return "", 0
	}
	return bestID, bestSim
}

// skipByLength reports whether a and b differ enough in length that scoring
// the pair isn't worth it: (longer-shorter)/longer > LengthSkipRatio.
func (m *MethodMatcher) skipByLength(a, b []string) bool {
	ratio := m.cfg.Filtering.LengthSkipRatio
	if ratio <= 0 || len(a) == 0 || len(b) == 0 {
		return false
	}
	shorter, longer := len(a), len(b)
	if shorter > longer {
		shorter, longer = longer, shorter
	}
	return float64(shorter) < float64(longer)*(1-ratio)
}

func (m *MethodMatcher) cachedSimilarity(a, b domain.CodeBlock) float64 {
	key := pairCacheKey(a.ID, b.ID)
	m.cacheMu.RLock()
	v, ok := m.cache[key]
	m.cacheMu.RUnlock()
	if ok {
		if m.cacheHitCounter != nil {
			m.cacheHitCounter.Add(context.Background(), 1)
		}
		return v
	}

	pair := ComputeClonePairBanded(a, b, m.cfg.Thresholds.SimilarityThreshold,
		m.cfg.Thresholds.BandWidthMin, m.cfg.Thresholds.BandWidthRatio)
	sim := pair.EffectiveSimilarity(m.cfg.Thresholds.SimilarityThreshold)

	m.cacheMu.Lock()
	m.cache[key] = sim
	m.cacheMu.Unlock()
	return sim
}

func pairCacheKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}
