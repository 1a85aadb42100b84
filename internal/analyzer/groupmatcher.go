package analyzer

import (
	"sort"

	"github.com/ludo-technologies/evotrace/domain"
)

// GroupMatchResult is everything GroupTracker needs out of one revision
// pair's group matching: every accepted (source, target) pair, each source
// group's single primary target (for continuity bookkeeping), and the
// sets of source/target group ids involved in a split or merge.
type GroupMatchResult struct {
	Matches         []domain.GroupMatch
	PrimaryTargetOf map[string]domain.GroupMatch // source group id -> its best accepted match
	SplitSources    map[string]bool              // source group id -> true
	MergedTargets   map[string]bool              // target group id -> true
}

// GroupMatcher matches one revision's clone groups against the next's by
// member overlap, via the forward method matches already computed for
// that revision pair.
type GroupMatcher struct {
	overlapThreshold float64
}

// NewGroupMatcher creates a GroupMatcher using overlapThreshold as the
// minimum overlap ratio for an accepted match.
func NewGroupMatcher(overlapThreshold float64) *GroupMatcher {
	return &GroupMatcher{overlapThreshold: overlapThreshold}
}

// MatchGroups matches sourceGroups against targetGroups using methodMatches
// (the forward MethodMatch list for this revision pair, source->target).
//
// A source group may end up with more than one accepted match: that is
// exactly what a SPLIT is. A single accepted match is what most source
// groups get, but "accepted" is computed independently per candidate
// target, not just for the single best one, precisely so a split is
// visible to the caller instead of being silently collapsed to one row.
func (gm *GroupMatcher) MatchGroups(sourceGroups, targetGroups []*domain.CloneGroup, methodMatches []domain.MethodMatch) GroupMatchResult {
	targetGroupOf := make(map[string]string) // target block id -> target group id
	targetSizeOf := make(map[string]int)
	for _, g := range targetGroups {
		targetSizeOf[g.ID] = g.Size()
		for _, member := range g.Members {
			targetGroupOf[member] = g.ID
		}
	}

	forwardTarget := make(map[string]string, len(methodMatches))
	for _, mm := range methodMatches {
		if mm.MatchType != domain.MatchNone {
			forwardTarget[mm.SourceBlockID] = mm.TargetBlockID
		}
	}

	result := GroupMatchResult{
		PrimaryTargetOf: make(map[string]domain.GroupMatch),
		SplitSources:    make(map[string]bool),
		MergedTargets:   make(map[string]bool),
	}

	matchesBySource := make(map[string][]domain.GroupMatch)

	for _, sg := range sourceGroups {
		overlapCounts := make(map[string]int)
		for _, member := range sg.Members {
			targetBlockID, ok := forwardTarget[member]
			if !ok {
				continue
			}
			if tgID, ok := targetGroupOf[targetBlockID]; ok {
				overlapCounts[tgID]++
			}
		}

		var candidateIDs []string
		for tgID := range overlapCounts {
			candidateIDs = append(candidateIDs, tgID)
		}
		sort.Strings(candidateIDs)

		for _, tgID := range candidateIDs {
			count := overlapCounts[tgID]
			ratio := float64(count) / float64(sg.Size())
			if ratio < gm.overlapThreshold {
				continue
			}
			gmatch := domain.GroupMatch{
				SourceGroupID: sg.ID,
				TargetGroupID: tgID,
				OverlapCount:  count,
				OverlapRatio:  ratio,
				SourceSize:    sg.Size(),
				TargetSize:    targetSizeOf[tgID],
			}
			result.Matches = append(result.Matches, gmatch)
			matchesBySource[sg.ID] = append(matchesBySource[sg.ID], gmatch)
		}
	}

	for sourceID, accepted := range matchesBySource {
		if len(accepted) >= 2 {
			result.SplitSources[sourceID] = true
		}
		best := accepted[0]
		for _, cand := range accepted[1:] {
			if cand.OverlapRatio > best.OverlapRatio ||
				(cand.OverlapRatio == best.OverlapRatio && cand.TargetGroupID < best.TargetGroupID) {
				best = cand
			}
		}
		result.PrimaryTargetOf[sourceID] = best
	}

	primaryCountByTarget := make(map[string]int)
	for _, primary := range result.PrimaryTargetOf {
		primaryCountByTarget[primary.TargetGroupID]++
	}
	for targetID, count := range primaryCountByTarget {
		if count >= 2 {
			result.MergedTargets[targetID] = true
		}
	}

	sort.Slice(result.Matches, func(i, j int) bool {
		if result.Matches[i].SourceGroupID != result.Matches[j].SourceGroupID {
			return result.Matches[i].SourceGroupID < result.Matches[j].SourceGroupID
		}
		return result.Matches[i].TargetGroupID < result.Matches[j].TargetGroupID
	})

	return result
}
