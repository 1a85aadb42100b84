package analyzer

import (
	"testing"
	"time"

	"github.com/ludo-technologies/evotrace/domain"
	"github.com/ludo-technologies/evotrace/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rev(id string, offsetDays int, blocks ...domain.CodeBlock) domain.Revision {
	return domain.Revision{
		ID:        id,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offsetDays),
		Blocks:    blocks,
	}
}

func TestTrackMethods_FirstRevisionAllAdded(t *testing.T) {
	tr := NewEvolutionTracker(config.DefaultConfig())
	blocks := []domain.CodeBlock{
		{ID: "a", Tokens: []string{"func", "a", "(", ")"}},
		{ID: "b", Tokens: []string{"func", "b", "(", ")"}},
	}
	rows, err := tr.TrackMethods([]domain.Revision{rev("r1", 0, blocks...)})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, domain.StateAdded, row.State)
		assert.Equal(t, 1, row.LifetimeRevisions)
	}
}

func TestTrackMethods_RequiresAtLeastOneRevision(t *testing.T) {
	tr := NewEvolutionTracker(config.DefaultConfig())
	_, err := tr.TrackMethods(nil)
	assert.Error(t, err)
}

func TestTrackMethods_SurvivedAcrossRevisions(t *testing.T) {
	tr := NewEvolutionTracker(config.DefaultConfig())
	toks := []string{"func", "foo", "(", ")", "return", "1"}
	r1 := rev("r1", 0, domain.CodeBlock{ID: "a", Tokens: toks})
	r2 := rev("r2", 1, domain.CodeBlock{ID: "a2", Tokens: toks})

	rows, err := tr.TrackMethods([]domain.Revision{r1, r2})
	require.NoError(t, err)
	require.Len(t, rows, 3) // ADDED at r1, SURVIVED at r2

	var survived *domain.MethodTraceRow
	for i := range rows {
		if rows[i].RevisionID == "r2" {
			survived = &rows[i]
		}
	}
	require.NotNil(t, survived)
	assert.Equal(t, domain.StateSurvived, survived.State)
	assert.Equal(t, "a", survived.MatchedBlockID)
	assert.Equal(t, 2, survived.LifetimeRevisions)
	assert.InDelta(t, 1.0, survived.LifetimeDays, 0.001)
}

func TestTrackMethods_DeletedWhenNoTargetMatch(t *testing.T) {
	tr := NewEvolutionTracker(config.DefaultConfig())
	r1 := rev("r1", 0, domain.CodeBlock{ID: "a", Tokens: []string{"func", "foo", "(", ")", "return", "1"}})
	r2 := rev("r2", 1, domain.CodeBlock{ID: "b", Tokens: []string{"package", "main", "import", "os", "exit", "0"}})

	rows, err := tr.TrackMethods([]domain.Revision{r1, r2})
	require.NoError(t, err)

	var states []domain.MethodState
	for _, row := range rows {
		if row.RevisionID == "r2" {
			states = append(states, row.State)
		}
	}
	assert.Contains(t, states, domain.StateDeleted)
	assert.Contains(t, states, domain.StateAdded)
}

func TestTrackGroups_FirstRevisionGroupsAreBorn(t *testing.T) {
	tr := NewEvolutionTracker(config.DefaultConfig())
	toks := []string{"func", "foo", "(", ")", "return", "1"}
	blocks := []domain.CodeBlock{
		{ID: "a", Tokens: toks},
		{ID: "b", Tokens: toks},
	}
	traceRows, memberRows, err := tr.TrackGroups([]domain.Revision{rev("r1", 0, blocks...)})
	require.NoError(t, err)
	require.Len(t, traceRows, 1)
	assert.Equal(t, domain.GroupBorn, traceRows[0].State)
	assert.Equal(t, 2, traceRows[0].Size)
	assert.Len(t, memberRows, 2)
}

func TestTrackGroups_ContinuedGroupAcrossRevisions(t *testing.T) {
	tr := NewEvolutionTracker(config.DefaultConfig())
	toks := []string{"func", "foo", "(", ")", "return", "1"}
	r1 := rev("r1", 0,
		domain.CodeBlock{ID: "a", Tokens: toks},
		domain.CodeBlock{ID: "b", Tokens: toks},
	)
	r2 := rev("r2", 1,
		domain.CodeBlock{ID: "a2", Tokens: toks},
		domain.CodeBlock{ID: "b2", Tokens: toks},
	)

	traceRows, _, err := tr.TrackGroups([]domain.Revision{r1, r2})
	require.NoError(t, err)

	var r2Row *domain.GroupTraceRow
	for i := range traceRows {
		if traceRows[i].RevisionID == "r2" {
			r2Row = &traceRows[i]
		}
	}
	require.NotNil(t, r2Row)
	assert.Equal(t, domain.GroupContinued, r2Row.State)
	assert.Equal(t, 2, r2Row.LifetimeRevisions)
	assert.Equal(t, 0, r2Row.MemberAddedCount)
	assert.Equal(t, 0, r2Row.MemberRemovedCount)
}

func TestTrackGroups_GrownWhenANewMemberJoinsViaMatchGraph(t *testing.T) {
	tr := NewEvolutionTracker(config.DefaultConfig())
	toks := []string{"func", "foo", "(", ")", "return", "1"}
	r1 := rev("r1", 0,
		domain.CodeBlock{ID: "a", Tokens: toks},
		domain.CodeBlock{ID: "b", Tokens: toks},
	)
	r2 := rev("r2", 1,
		domain.CodeBlock{ID: "a2", Tokens: toks},
		domain.CodeBlock{ID: "b2", Tokens: toks},
		domain.CodeBlock{ID: "c", Tokens: toks},
	)

	traceRows, _, err := tr.TrackGroups([]domain.Revision{r1, r2})
	require.NoError(t, err)

	var r2Row *domain.GroupTraceRow
	for i := range traceRows {
		if traceRows[i].RevisionID == "r2" {
			r2Row = &traceRows[i]
		}
	}
	require.NotNil(t, r2Row)
	assert.Equal(t, domain.GroupGrown, r2Row.State)
	assert.Equal(t, 1, r2Row.MemberAddedCount)
	assert.Equal(t, 0, r2Row.MemberRemovedCount)
}

func TestTrackGroups_DissolvedWhenNoTargetOverlap(t *testing.T) {
	tr := NewEvolutionTracker(config.DefaultConfig())
	toks := []string{"func", "foo", "(", ")", "return", "1"}
	r1 := rev("r1", 0,
		domain.CodeBlock{ID: "a", Tokens: toks},
		domain.CodeBlock{ID: "b", Tokens: toks},
	)
	r2 := rev("r2", 1,
		domain.CodeBlock{ID: "x", Tokens: []string{"package", "main", "import", "os", "exit", "0"}},
	)

	traceRows, _, err := tr.TrackGroups([]domain.Revision{r1, r2})
	require.NoError(t, err)

	var r2States []domain.GroupState
	for _, row := range traceRows {
		if row.RevisionID == "r2" {
			r2States = append(r2States, row.State)
		}
	}
	assert.Contains(t, r2States, domain.GroupDissolved)
}

func TestDiffMembers_NewMemberWithNoPredecessorCountsAsAdded(t *testing.T) {
	matchBySourceID := map[string]string{"a": "a2", "b": "b2"}
	matchByTargetID := map[string]string{"a2": "a", "b2": "b"}

	added, removed := diffMembers([]string{"a", "b"}, []string{"a2", "b2", "c"}, matchBySourceID, matchByTargetID)
	assert.Equal(t, 1, added)
	assert.Equal(t, 0, removed)
}

func TestDiffMembers_OldMemberWithNoSuccessorInGroupCountsAsRemoved(t *testing.T) {
	matchBySourceID := map[string]string{"a": "a2"}
	matchByTargetID := map[string]string{"a2": "a"}

	added, removed := diffMembers([]string{"a", "b"}, []string{"a2"}, matchBySourceID, matchByTargetID)
	assert.Equal(t, 0, added)
	assert.Equal(t, 1, removed)
}

func TestDiffMembers_NoChangeWhenIdsAreStableAcrossRevisions(t *testing.T) {
	matchBySourceID := map[string]string{"a": "a", "b": "b"}
	matchByTargetID := map[string]string{"a": "a", "b": "b"}

	added, removed := diffMembers([]string{"a", "b"}, []string{"a", "b"}, matchBySourceID, matchByTargetID)
	assert.Equal(t, 0, added)
	assert.Equal(t, 0, removed)
}
