package analyzer

import (
	"testing"

	"github.com/ludo-technologies/evotrace/domain"
	"github.com/ludo-technologies/evotrace/internal/config"
	"github.com/stretchr/testify/assert"
)

func newClassifier() *StateClassifier {
	return NewStateClassifier(config.DefaultConfig())
}

func TestClassifySurvived(t *testing.T) {
	sc := newClassifier()

	assert.Equal(t, domain.SurvivedCloneLost, sc.ClassifySurvived(true, false, domain.MatchExact))
	assert.Equal(t, domain.SurvivedCloneGained, sc.ClassifySurvived(false, true, domain.MatchExact))
	assert.Equal(t, domain.SurvivedUnchanged, sc.ClassifySurvived(true, true, domain.MatchExact))
	assert.Equal(t, domain.SurvivedModified, sc.ClassifySurvived(true, true, domain.MatchFuzzy))
	assert.Equal(t, domain.SurvivedUnchanged, sc.ClassifySurvived(false, false, domain.MatchMoved))
}

func TestClassifyDeleted(t *testing.T) {
	sc := newClassifier()

	assert.Equal(t, domain.DeletedIsolated, sc.ClassifyDeleted(false, 0))
	assert.Equal(t, domain.DeletedLastMember, sc.ClassifyDeleted(true, 0))
	assert.Equal(t, domain.DeletedFromGroup, sc.ClassifyDeleted(true, 1))
	assert.Equal(t, domain.DeletedFromGroup, sc.ClassifyDeleted(true, 5))
}

func TestClassifyAdded(t *testing.T) {
	sc := newClassifier()

	assert.Equal(t, domain.AddedIsolated, sc.ClassifyAdded(false, true))
	assert.Equal(t, domain.AddedNewGroup, sc.ClassifyAdded(true, true))
	assert.Equal(t, domain.AddedToGroup, sc.ClassifyAdded(true, false))
}

func TestClassifyGroupState_BornAndDissolved(t *testing.T) {
	sc := newClassifier()

	assert.Equal(t, domain.GroupBorn, sc.ClassifyGroupState(false, false, false, false, 0, 0))
	assert.Equal(t, domain.GroupDissolved, sc.ClassifyGroupState(true, false, false, false, 3, 0))
}

func TestClassifyGroupState_SplitTakesPriorityOverMerge(t *testing.T) {
	sc := newClassifier()
	assert.Equal(t, domain.GroupSplit, sc.ClassifyGroupState(true, true, true, true, 4, 2))
}

func TestClassifyGroupState_Merged(t *testing.T) {
	sc := newClassifier()
	assert.Equal(t, domain.GroupMerged, sc.ClassifyGroupState(true, true, false, true, 2, 4))
}

func TestClassifyGroupState_SizeRatioBands(t *testing.T) {
	sc := newClassifier()
	cfg := config.DefaultConfig()
	tolerance := cfg.Grouping.SizeTolerance

	assert.Equal(t, domain.GroupContinued, sc.ClassifyGroupState(true, true, false, false, 10, 10))
	assert.Equal(t, domain.GroupGrown, sc.ClassifyGroupState(true, true, false, false, 10, int(10+10*tolerance)+2))
	assert.Equal(t, domain.GroupShrunk, sc.ClassifyGroupState(true, true, false, false, 10, int(10-10*tolerance)-2))
}
