package config

import (
	"fmt"
)

// Config is the unified configuration for the method and clone-group
// evolution tracking engine. It mirrors the nested, per-concern layout the
// rest of this module's configuration types use: each sub-struct owns its
// own defaults and its own Validate.
type Config struct {
	Thresholds  ThresholdConfig  `mapstructure:"thresholds" yaml:"thresholds" json:"thresholds"`
	LSH         LSHConfig        `mapstructure:"lsh" yaml:"lsh" json:"lsh"`
	Filtering   FilteringConfig  `mapstructure:"filtering" yaml:"filtering" json:"filtering"`
	Performance PerformanceConfig `mapstructure:"performance" yaml:"performance" json:"performance"`
	Grouping    GroupingConfig   `mapstructure:"grouping" yaml:"grouping" json:"grouping"`
}

// Similarity defaults.
const (
	DefaultSimilarityThreshold = 70.0
	DefaultBandWidthMin        = 10
	DefaultBandWidthRatio      = 0.3
)

// ThresholdConfig holds the similarity thresholds that decide whether two
// code blocks are considered matched or grouped together.
type ThresholdConfig struct {
	// SimilarityThreshold is the minimum combined n-gram/LCS similarity (0-100)
	// for MethodMatcher to accept a fuzzy match.
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" yaml:"similarity_threshold" json:"similarity_threshold"`

	// OverlapThreshold is the minimum member-overlap ratio (0.0-1.0) for
	// GroupMatcher to accept a group-to-group match.
	OverlapThreshold float64 `mapstructure:"overlap_threshold" yaml:"overlap_threshold" json:"overlap_threshold"`

	// BandWidthMin and BandWidthRatio size the banded LCS window:
	// max(BandWidthMin, floor(shorter_len * BandWidthRatio)).
	BandWidthMin   int     `mapstructure:"band_width_min" yaml:"band_width_min" json:"band_width_min"`
	BandWidthRatio float64 `mapstructure:"band_width_ratio" yaml:"band_width_ratio" json:"band_width_ratio"`
}

// LSHConfig holds the MinHash/LSH acceleration settings used by LshIndex
// and, optionally, by MethodMatcher's Phase 2 candidate generation.
type LSHConfig struct {
	// Enabled is "auto", "true" or "false". "auto" enables LSH once the
	// unclaimed block count for a revision pair exceeds AutoThreshold.
	Enabled       string `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	AutoThreshold int    `mapstructure:"auto_threshold" yaml:"auto_threshold" json:"auto_threshold"`

	// NumPermutations is the MinHash signature length, split evenly across
	// Bands*Rows bands for LSH bucketing.
	NumPermutations int `mapstructure:"num_permutations" yaml:"num_permutations" json:"num_permutations"`
	Bands           int `mapstructure:"bands" yaml:"bands" json:"bands"`
	Rows            int `mapstructure:"rows" yaml:"rows" json:"rows"`
}

// FilteringConfig holds the pre-filters and candidate limits applied during
// MethodMatcher's fuzzy phase.
type FilteringConfig struct {
	// TopK bounds how many fuzzy candidates are scored per source block.
	TopK int `mapstructure:"top_k" yaml:"top_k" json:"top_k"`

	// LengthSkipRatio skips a candidate pair outright when its token-length
	// ratio, (longer-shorter)/longer, exceeds this value.
	LengthSkipRatio float64 `mapstructure:"length_skip_ratio" yaml:"length_skip_ratio" json:"length_skip_ratio"`

	// JaccardPrefilter skips a candidate pair whose token-set Jaccard
	// similarity falls below this value, before the expensive n-gram/LCS
	// computation runs.
	JaccardPrefilter float64 `mapstructure:"jaccard_prefilter" yaml:"jaccard_prefilter" json:"jaccard_prefilter"`

	// ProgressiveThresholds, when non-empty, are tried in order (each no
	// higher than the last) instead of a single SimilarityThreshold,
	// matching the reference matcher's progressive-threshold mode.
	ProgressiveThresholds []float64 `mapstructure:"progressive_thresholds" yaml:"progressive_thresholds" json:"progressive_thresholds"`

	// EnableNameMatching turns on the optional Phase 0 name-based match
	// pass (requires CodeBlock.FilePath/MethodName to be populated).
	EnableNameMatching bool `mapstructure:"enable_name_matching" yaml:"enable_name_matching" json:"enable_name_matching"`
}

// PerformanceConfig holds concurrency and resource settings.
type PerformanceConfig struct {
	// MaxGoroutines bounds the fuzzy-matching worker pool's concurrency.
	MaxGoroutines int `mapstructure:"max_goroutines" yaml:"max_goroutines" json:"max_goroutines"`

	// ParallelMinPairs is the unclaimed-source x unclaimed-target product
	// count above which the fuzzy phase auto-parallelizes.
	ParallelMinPairs int `mapstructure:"parallel_min_pairs" yaml:"parallel_min_pairs" json:"parallel_min_pairs"`

	// ChunkSize is the number of source blocks handed to each worker task.
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size" json:"chunk_size"`
}

// GroupingConfig holds GroupDetector's own clustering threshold, which is
// allowed to differ from MethodMatcher's SimilarityThreshold.
type GroupingConfig struct {
	// GroupThreshold is the minimum pairwise similarity for GroupDetector
	// to union two blocks into the same clone group.
	GroupThreshold float64 `mapstructure:"group_threshold" yaml:"group_threshold" json:"group_threshold"`

	// SizeTolerance is the ratio band around 1.0 (new_size/old_size) within
	// which StateClassifier reports a group as CONTINUED rather than
	// GROWN or SHRUNK.
	SizeTolerance float64 `mapstructure:"size_tolerance" yaml:"size_tolerance" json:"size_tolerance"`
}

// DefaultConfig returns a configuration seeded with every numeric default
// named in the specification.
func DefaultConfig() *Config {
	return &Config{
		Thresholds: ThresholdConfig{
			SimilarityThreshold: DefaultSimilarityThreshold,
			OverlapThreshold:    0.50,
			BandWidthMin:        DefaultBandWidthMin,
			BandWidthRatio:      DefaultBandWidthRatio,
		},
		LSH: LSHConfig{
			Enabled:         "auto",
			AutoThreshold:   500,
			NumPermutations: 128,
			Bands:           32,
			Rows:            4,
		},
		Filtering: FilteringConfig{
			TopK:               20,
			LengthSkipRatio:    0.3,
			JaccardPrefilter:   0.3,
			EnableNameMatching: false,
		},
		Performance: PerformanceConfig{
			MaxGoroutines:    4,
			ParallelMinPairs: 100000,
			ChunkSize:        100,
		},
		Grouping: GroupingConfig{
			GroupThreshold: 70.0,
			SizeTolerance:  0.10,
		},
	}
}

// Validate checks every sub-configuration and aggregates the first error.
func (c *Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("thresholds config invalid: %w", err)
	}
	if err := c.LSH.Validate(); err != nil {
		return fmt.Errorf("lsh config invalid: %w", err)
	}
	if err := c.Filtering.Validate(); err != nil {
		return fmt.Errorf("filtering config invalid: %w", err)
	}
	if err := c.Performance.Validate(); err != nil {
		return fmt.Errorf("performance config invalid: %w", err)
	}
	if err := c.Grouping.Validate(); err != nil {
		return fmt.Errorf("grouping config invalid: %w", err)
	}
	return nil
}

// Validate validates the threshold configuration.
func (t *ThresholdConfig) Validate() error {
	if t.SimilarityThreshold < 0 || t.SimilarityThreshold > 100 {
		return fmt.Errorf("similarity_threshold must be between 0 and 100, got %f", t.SimilarityThreshold)
	}
	if t.OverlapThreshold < 0.0 || t.OverlapThreshold > 1.0 {
		return fmt.Errorf("overlap_threshold must be between 0.0 and 1.0, got %f", t.OverlapThreshold)
	}
	if t.BandWidthMin < 0 {
		return fmt.Errorf("band_width_min must be >= 0, got %d", t.BandWidthMin)
	}
	if t.BandWidthRatio < 0.0 || t.BandWidthRatio > 1.0 {
		return fmt.Errorf("band_width_ratio must be between 0.0 and 1.0, got %f", t.BandWidthRatio)
	}
	return nil
}

// Validate validates the LSH configuration.
func (l *LSHConfig) Validate() error {
	switch l.Enabled {
	case "auto", "true", "false":
	default:
		return fmt.Errorf(`enabled must be one of "auto", "true", "false", got %q`, l.Enabled)
	}
	if l.AutoThreshold < 0 {
		return fmt.Errorf("auto_threshold must be >= 0, got %d", l.AutoThreshold)
	}
	if l.NumPermutations < 1 {
		return fmt.Errorf("num_permutations must be >= 1, got %d", l.NumPermutations)
	}
	if l.Bands < 1 || l.Rows < 1 {
		return fmt.Errorf("bands and rows must both be >= 1, got bands=%d rows=%d", l.Bands, l.Rows)
	}
	if l.Bands*l.Rows != l.NumPermutations {
		return fmt.Errorf("bands*rows must equal num_permutations, got %d*%d != %d", l.Bands, l.Rows, l.NumPermutations)
	}
	return nil
}

// Validate validates the filtering configuration.
func (f *FilteringConfig) Validate() error {
	if f.TopK < 0 {
		return fmt.Errorf("top_k must be >= 0, got %d", f.TopK)
	}
	if f.LengthSkipRatio < 0.0 || f.LengthSkipRatio > 1.0 {
		return fmt.Errorf("length_skip_ratio must be between 0.0 and 1.0, got %f", f.LengthSkipRatio)
	}
	if f.JaccardPrefilter < 0.0 || f.JaccardPrefilter > 1.0 {
		return fmt.Errorf("jaccard_prefilter must be between 0.0 and 1.0, got %f", f.JaccardPrefilter)
	}
	for i, th := range f.ProgressiveThresholds {
		if th < 0 || th > 100 {
			return fmt.Errorf("progressive_thresholds[%d] must be between 0 and 100, got %f", i, th)
		}
		if i > 0 && th > f.ProgressiveThresholds[i-1] {
			return fmt.Errorf("progressive_thresholds must be non-increasing, got %v", f.ProgressiveThresholds)
		}
	}
	return nil
}

// Validate validates the performance configuration.
func (p *PerformanceConfig) Validate() error {
	if p.MaxGoroutines <= 0 {
		return fmt.Errorf("max_goroutines must be > 0, got %d", p.MaxGoroutines)
	}
	if p.ParallelMinPairs < 0 {
		return fmt.Errorf("parallel_min_pairs must be >= 0, got %d", p.ParallelMinPairs)
	}
	if p.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be > 0, got %d", p.ChunkSize)
	}
	return nil
}

// Validate validates the grouping configuration.
func (g *GroupingConfig) Validate() error {
	if g.GroupThreshold < 0 || g.GroupThreshold > 100 {
		return fmt.Errorf("group_threshold must be between 0 and 100, got %f", g.GroupThreshold)
	}
	if g.SizeTolerance < 0.0 {
		return fmt.Errorf("size_tolerance must be >= 0.0, got %f", g.SizeTolerance)
	}
	return nil
}
