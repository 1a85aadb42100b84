package analyzer

import (
	"github.com/ludo-technologies/evotrace/domain"
	"github.com/ludo-technologies/evotrace/internal/config"
)

// StateClassifier derives the lifecycle detail behind a method's or a
// group's coarse state. It holds no per-revision state of its own; all
// the group/lineage bookkeeping lives in the tracker that calls it.
type StateClassifier struct {
	cfg *config.Config
}

// NewStateClassifier creates a StateClassifier for the given configuration.
func NewStateClassifier(cfg *config.Config) *StateClassifier {
	return &StateClassifier{cfg: cfg}
}

// ClassifySurvived details a method that has a match in the target
// revision. Clone membership changes take priority over the exact/fuzzy
// distinction: a method whose clone status changed is reported as such
// even if its own tokens happen to be byte-identical.
func (sc *StateClassifier) ClassifySurvived(sourceInGroup, targetInGroup bool, matchType domain.MatchType) domain.MethodStateDetail {
	switch {
	case sourceInGroup && !targetInGroup:
		return domain.SurvivedCloneLost
	case !sourceInGroup && targetInGroup:
		return domain.SurvivedCloneGained
	case matchType.IsExactLike():
		return domain.SurvivedUnchanged
	default:
		return domain.SurvivedModified
	}
}

// ClassifyDeleted details a method with no match in the target revision.
// survivorCount is how many of the source group's OTHER members survived
// into the target revision; it is only consulted when inGroup is true. Zero
// survivors means this deletion leaves nobody behind in the group.
func (sc *StateClassifier) ClassifyDeleted(inGroup bool, survivorCount int) domain.MethodStateDetail {
	switch {
	case !inGroup:
		return domain.DeletedIsolated
	case survivorCount == 0:
		return domain.DeletedLastMember
	default:
		return domain.DeletedFromGroup
	}
}

// ClassifyAdded details a method with no counterpart in the source
// revision. groupIsNew is only consulted when targetInGroup is true, and
// distinguishes a block that joined an already-continuing group from one
// whose entire group was born this revision.
func (sc *StateClassifier) ClassifyAdded(targetInGroup, groupIsNew bool) domain.MethodStateDetail {
	switch {
	case !targetInGroup:
		return domain.AddedIsolated
	case groupIsNew:
		return domain.AddedNewGroup
	default:
		return domain.AddedToGroup
	}
}

// ClassifyGroupState derives a source group's GroupState given whether it
// had any counterpart at all (prevExists is false only for a group being
// classified from the target side with no prior revision), whether it had
// an accepted primary match, and the split/merge sets GroupMatcher
// produced. A split is reported even when the group would also qualify as
// merged from another angle, since the split already fully explains why
// the group no longer has a single continuation.
func (sc *StateClassifier) ClassifyGroupState(prevExists, primaryExists, isSplit, isMerged bool, sourceSize, targetSize int) domain.GroupState {
	switch {
	case !prevExists:
		return domain.GroupBorn
	case !primaryExists:
		return domain.GroupDissolved
	case isSplit:
		return domain.GroupSplit
	case isMerged:
		return domain.GroupMerged
	}

	if sourceSize == 0 {
		return domain.GroupContinued
	}
	ratio := float64(targetSize-sourceSize) / float64(sourceSize)
	tolerance := sc.cfg.Grouping.SizeTolerance
	switch {
	case ratio > tolerance:
		return domain.GroupGrown
	case ratio < -tolerance:
		return domain.GroupShrunk
	default:
		return domain.GroupContinued
	}
}
