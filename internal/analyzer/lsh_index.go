package analyzer

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// LSHIndex buckets MinHash signatures by band so FindCandidates can look up
// likely-similar fragments without comparing against every indexed fragment.
type LSHIndex struct {
	bands      int
	rows       int
	threshold  float64
	mu         sync.RWMutex
	buckets    map[string][]string
	signatures map[string]*MinHashSignature
}

// LSHConfig holds the banding parameters for an LSHIndex.
type LSHConfig struct {
	Bands     int
	Rows      int
	Threshold float64
}

// defaultedLSHConfig fills in zero fields of cfg: 32 bands, 4 rows, and a
// threshold derived from bands/rows via threshold ~= (1/bands)^(1/rows) when
// cfg.Threshold is out of (0, 1].
func defaultedLSHConfig(cfg LSHConfig) LSHConfig {
	if cfg.Bands <= 0 {
		cfg.Bands = 32
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 4
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = math.Pow(1.0/float64(cfg.Bands), 1.0/float64(cfg.Rows))
	}
	return cfg
}

// NewLSHIndex creates an empty LSH index for the given banding configuration.
func NewLSHIndex(config LSHConfig) *LSHIndex {
	config = defaultedLSHConfig(config)
	return &LSHIndex{
		bands:      config.Bands,
		rows:       config.Rows,
		threshold:  config.Threshold,
		buckets:    make(map[string][]string),
		signatures: make(map[string]*MinHashSignature),
	}
}

// AddFragment indexes a fragment's signature under every band bucket it
// falls into. The signature must carry at least bands*rows hash values.
func (idx *LSHIndex) AddFragment(id string, signature *MinHashSignature) error {
	if signature == nil {
		return fmt.Errorf("signature cannot be nil")
	}
	if signature.GetNumHashes() < idx.bands*idx.rows {
		return fmt.Errorf("signature has %d hashes, but need at least %d (bands=%d, rows=%d)",
			signature.GetNumHashes(), idx.bands*idx.rows, idx.bands, idx.rows)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.signatures[id] = signature
	for _, key := range idx.bandKeys(signature.GetSignatures()) {
		idx.buckets[key] = append(idx.buckets[key], id)
	}
	return nil
}

// bandKeys returns the bucket key for every band of a signature, in band
// order, so AddFragment and FindCandidates always derive the same keys.
func (idx *LSHIndex) bandKeys(sigs []uint64) []string {
	keys := make([]string, idx.bands)
	for band := 0; band < idx.bands; band++ {
		keys[band] = fmt.Sprintf("band_%d_%s", band, idx.rowDigest(sigs, band))
	}
	return keys
}

// rowDigest hashes the rows-per-band slice of a signature starting at band
// into a hex digest used as part of the bucket key.
func (idx *LSHIndex) rowDigest(signatures []uint64, band int) string {
	start := band * idx.rows
	end := start + idx.rows
	if end > len(signatures) {
		end = len(signatures)
	}
	if start > end {
		start = end
	}

	row := make([]byte, 0, idx.rows*8)
	for _, sig := range signatures[start:end] {
		for shift := 0; shift < 64; shift += 8 {
			row = append(row, byte(sig>>shift))
		}
	}
	return fmt.Sprintf("%x", xxhash.Sum64(row))
}

// FindCandidates returns every fragment id sharing at least one band bucket
// with querySignature, sorted for deterministic output.
func (idx *LSHIndex) FindCandidates(querySignature *MinHashSignature) []string {
	if querySignature == nil || querySignature.GetNumHashes() < idx.bands*idx.rows {
		return []string{}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, key := range idx.bandKeys(querySignature.GetSignatures()) {
		for _, fragmentID := range idx.buckets[key] {
			seen[fragmentID] = struct{}{}
		}
	}

	candidates := make([]string, 0, len(seen))
	for id := range seen {
		candidates = append(candidates, id)
	}
	sort.Strings(candidates)
	return candidates
}

// LSHIndexStats summarizes an index's bucket distribution, the shape
// FindCandidates' recall/precision tradeoff depends on: many small buckets
// mean fewer false-positive candidates but a higher chance of a real match
// landing in no shared bucket at all.
type LSHIndexStats struct {
	NumFragments     int
	NumBuckets       int
	Bands            int
	Rows             int
	Threshold        float64
	MinBucketSize    int
	MaxBucketSize    int
	AvgBucketSize    float64
	MedianBucketSize float64
}

// GetStats reports the index's current bucket-size distribution.
func (idx *LSHIndex) GetStats() LSHIndexStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	stats := LSHIndexStats{
		NumFragments: len(idx.signatures),
		NumBuckets:   len(idx.buckets),
		Bands:        idx.bands,
		Rows:         idx.rows,
		Threshold:    idx.threshold,
	}
	if len(idx.buckets) == 0 {
		return stats
	}

	sizes := make([]int, 0, len(idx.buckets))
	total := 0
	for _, fragments := range idx.buckets {
		sizes = append(sizes, len(fragments))
		total += len(fragments)
	}
	sort.Ints(sizes)

	stats.MinBucketSize = sizes[0]
	stats.MaxBucketSize = sizes[len(sizes)-1]
	stats.AvgBucketSize = float64(total) / float64(len(sizes))
	if mid := len(sizes) / 2; len(sizes)%2 == 0 {
		stats.MedianBucketSize = float64(sizes[mid-1]+sizes[mid]) / 2.0
	} else {
		stats.MedianBucketSize = float64(sizes[mid])
	}
	return stats
}
