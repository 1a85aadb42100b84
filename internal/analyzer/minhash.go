package analyzer

import (
	"math"
	"math/rand"

	"github.com/cespare/xxhash/v2"
)

// MinHashSignature holds the per-permutation minimum base hash for one
// feature set, the compact representation MinHasher compares for an
// approximate Jaccard estimate.
type MinHashSignature struct {
	signatures []uint64
	numHashes  int
}

// permutation is one universal hash h(x) = ((a*x) XOR b) + a + b, carried as data
// rather than a closure so MinHasher can apply the whole family to every
// base hash in a tight loop without an indirect call per permutation.
type permutation struct {
	a, b uint64
}

func (p permutation) apply(x uint64) uint64 {
	return (p.a*x)^p.b + p.a + p.b
}

// MinHasher computes MinHash signatures for feature sets using a fixed
// family of permutations generated once at construction time.
type MinHasher struct {
	numHashes    int
	permutations []permutation
}

// NewMinHasher creates a MinHasher with numHashes permutations (default 128
// if numHashes is not positive).
func NewMinHasher(numHashes int) *MinHasher {
	if numHashes <= 0 {
		numHashes = 128
	}
	mh := &MinHasher{numHashes: numHashes}
	mh.permutations = generatePermutations(numHashes)
	return mh
}

// generatePermutations produces numHashes universal-hash coefficient pairs
// from a fixed seed, so two MinHasher instances of the same size always
// agree on the same permutation family.
func generatePermutations(numHashes int) []permutation {
	rng := rand.New(rand.NewSource(0x5eed_1234_cafe_babe))
	perms := make([]permutation, numHashes)
	for i := range perms {
		perms[i] = permutation{a: rng.Uint64() | 1, b: rng.Uint64()}
	}
	return perms
}

// tokenBaseHashes hashes the distinct tokens in features, order- and
// duplicate-independent, into the base values every permutation is applied
// to.
func tokenBaseHashes(features []string) []uint64 {
	seen := make(map[string]struct{}, len(features))
	base := make([]uint64, 0, len(features))
	for _, f := range features {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		base = append(base, hash64(f))
	}
	return base
}

// ComputeSignature computes the MinHash signature for a set of features.
func (m *MinHasher) ComputeSignature(features []string) *MinHashSignature {
	sig := make([]uint64, m.numHashes)
	if len(features) == 0 {
		return &MinHashSignature{signatures: sig, numHashes: m.numHashes}
	}

	base := tokenBaseHashes(features)
	for i, perm := range m.permutations {
		min := uint64(math.MaxUint64)
		for _, x := range base {
			if v := perm.apply(x); v < min {
				min = v
			}
		}
		sig[i] = min
	}
	return &MinHashSignature{signatures: sig, numHashes: m.numHashes}
}

// EstimateJaccardSimilarity estimates Jaccard similarity via the fraction
// of permutation slots where the two signatures agree.
func (m *MinHasher) EstimateJaccardSimilarity(sig1, sig2 *MinHashSignature) float64 {
	if sig1 == nil || sig2 == nil || len(sig1.signatures) == 0 || len(sig2.signatures) == 0 {
		return 0.0
	}
	n := len(sig1.signatures)
	if len(sig2.signatures) < n {
		n = len(sig2.signatures)
	}
	if n == 0 {
		return 0.0
	}
	match := 0
	for i := 0; i < n; i++ {
		if sig1.signatures[i] == sig2.signatures[i] {
			match++
		}
	}
	return float64(match) / float64(n)
}

// NumHashes returns the permutation count this MinHasher was built with.
func (m *MinHasher) NumHashes() int { return m.numHashes }

// NewMinHashSignature creates a signature of length numHashes with every
// slot at its zero value, for callers that build one up incrementally
// rather than through MinHasher.ComputeSignature.
func NewMinHashSignature(numHashes int) *MinHashSignature {
	if numHashes <= 0 {
		numHashes = 128
	}
	return &MinHashSignature{signatures: make([]uint64, numHashes), numHashes: numHashes}
}

// GetSignatures returns the underlying signature values, in permutation order.
func (s *MinHashSignature) GetSignatures() []uint64 { return s.signatures }

// GetNumHashes returns the number of permutations the signature was built with.
func (s *MinHashSignature) GetNumHashes() int { return s.numHashes }

func hash64(s string) uint64 {
	return xxhash.Sum64String(s)
}
