package analyzer

import (
	"context"

	"github.com/ludo-technologies/evotrace/domain"
)

// TrackGroups walks revisions in order and returns one GroupTraceRow per
// clone group observed at each revision, plus one MembershipRow per
// (group, member) pair at that revision.
func (t *EvolutionTracker) TrackGroups(revisions []domain.Revision) ([]domain.GroupTraceRow, []domain.MembershipRow, error) {
	if len(revisions) == 0 {
		return nil, nil, domain.NewMissingDataError("TrackGroups requires at least one revision", nil)
	}
	ctx := context.Background()

	var traceRows []domain.GroupTraceRow
	var memberRows []domain.MembershipRow
	groupLineages := make(map[string]*lineageInfo) // lineage id -> info
	groupLineageOf := make(map[string]string)       // group id at the current loop's "previous" revision -> lineage id

	for i, rev := range revisions {
		curGroups, _ := t.groupsForRevision(rev)
		blockByID := make(map[string]domain.CodeBlock, len(rev.Blocks))
		for _, b := range rev.Blocks {
			blockByID[b.ID] = b
		}

		if i == 0 {
			for _, g := range curGroups {
				lid := "glin:" + g.ID
				groupLineages[lid] = newLineageInfo(rev)
				groupLineageOf[g.ID] = lid
				appendGroupRows(&traceRows, &memberRows, rev, g, domain.GroupBorn, "", 0, 0, 0, groupLineages[lid], blockByID)
			}
			continue
		}

		prevRev := revisions[i-1]
		prevGroups, _ := t.groupsForRevision(prevRev)
		matches := t.matchAdjacent(ctx, prevRev, rev)
		groupResult := t.groupMatcher.MatchGroups(prevGroups, curGroups, matches)

		matchBySourceID := make(map[string]string, len(matches))
		matchByTargetID := make(map[string]string, len(matches))
		for _, mm := range matches {
			if mm.MatchType == domain.MatchNone {
				continue
			}
			matchBySourceID[mm.SourceBlockID] = mm.TargetBlockID
			matchByTargetID[mm.TargetBlockID] = mm.SourceBlockID
		}

		curGroupByID := groupByID(curGroups)
		matchedAsTarget := make(map[string]bool, len(groupResult.Matches))
		for _, gm := range groupResult.Matches {
			matchedAsTarget[gm.TargetGroupID] = true
		}

		nextLineageOf := make(map[string]string)

		for _, sg := range prevGroups {
			lid := groupLineageOf[sg.ID]
			li := groupLineages[lid]
			primary, hasPrimary := groupResult.PrimaryTargetOf[sg.ID]

			if !hasPrimary {
				traceRows = append(traceRows, domain.GroupTraceRow{
					RevisionID: rev.ID, GroupID: sg.ID, State: domain.GroupDissolved,
					Size:               sg.Size(),
					LifetimeRevisions:  li.revisionCount,
					LifetimeDays:       li.lifetimeDays(),
					MemberRemovedCount: sg.Size(),
				})
				delete(groupLineages, lid)
				continue
			}

			target := curGroupByID[primary.TargetGroupID]
			isMerged := groupResult.MergedTargets[primary.TargetGroupID]
			state := t.classifier.ClassifyGroupState(
				true, true,
				groupResult.SplitSources[sg.ID], isMerged,
				sg.Size(), target.Size(),
			)

			added, removed := diffMembers(sg.Members, target.Members, matchBySourceID, matchByTargetID)

			li.lastSeenRevision = rev.ID
			li.lastSeenTime = rev.Timestamp
			li.revisionCount++

			appendGroupRows(&traceRows, &memberRows, rev, target, state, sg.ID, primary.OverlapRatio, added, removed, li, blockByID)
			nextLineageOf[target.ID] = lid
		}

		for _, tg := range curGroups {
			if matchedAsTarget[tg.ID] {
				continue
			}
			lid := "glin:" + tg.ID
			groupLineages[lid] = newLineageInfo(rev)
			appendGroupRows(&traceRows, &memberRows, rev, tg, domain.GroupBorn, "", 0, tg.Size(), 0, groupLineages[lid], blockByID)
			nextLineageOf[tg.ID] = lid
		}

		groupLineageOf = nextLineageOf
	}

	return traceRows, memberRows, nil
}

func newLineageInfo(rev domain.Revision) *lineageInfo {
	return &lineageInfo{
		firstSeenRevision: rev.ID, firstSeenTime: rev.Timestamp,
		lastSeenRevision: rev.ID, lastSeenTime: rev.Timestamp,
		revisionCount: 1,
	}
}

// appendGroupRows records one GroupTraceRow plus one MembershipRow per
// current member. memberAdded/memberRemoved are the counts relative to
// matchedGroupID's prior membership. A group born in the first revision
// gets 0 for both; a group born in a later revision counts every member
// as added and 0 removed.
func appendGroupRows(traceRows *[]domain.GroupTraceRow, memberRows *[]domain.MembershipRow,
	rev domain.Revision, g *domain.CloneGroup, state domain.GroupState, matchedGroupID string, overlapRatio float64,
	memberAdded, memberRemoved int, li *lineageInfo, blockByID map[string]domain.CodeBlock) {

	avg, _ := g.AvgSimilarity()
	min, _ := g.MinSimilarity()
	max, _ := g.MaxSimilarity()

	*traceRows = append(*traceRows, domain.GroupTraceRow{
		RevisionID: rev.ID, GroupID: g.ID, State: state,
		MatchedGroupID: matchedGroupID, OverlapRatio: overlapRatio,
		Size: g.Size(), AvgSimilarity: avg, MinSimilarity: min, MaxSimilarity: max,
		Density:            g.Density(),
		MemberAddedCount:   memberAdded,
		MemberRemovedCount: memberRemoved,
		LifetimeRevisions:  li.revisionCount,
		LifetimeDays:       li.lifetimeDays(),
	})

	isClone := g.IsClone()
	for _, memberID := range g.Members {
		b := blockByID[memberID]
		*memberRows = append(*memberRows, domain.MembershipRow{
			RevisionID: rev.ID, GroupID: g.ID, BlockID: memberID,
			MethodName: b.MethodName, IsClone: isClone,
		})
	}
}

// diffMembers computes member_added/member_removed across the match graph,
// not raw id-set difference: block ids are only stable within a revision,
// so the same logical block can carry a different id in `to` than it did
// in `from`. member_added counts `to` members whose matched predecessor
// (via matchByTargetID) isn't in `from`; member_removed counts `from`
// members whose matched successor (via matchBySourceID) isn't in `to`.
func diffMembers(from, to []string, matchBySourceID, matchByTargetID map[string]string) (added, removed int) {
	fromSet := make(map[string]bool, len(from))
	for _, m := range from {
		fromSet[m] = true
	}
	toSet := make(map[string]bool, len(to))
	for _, m := range to {
		toSet[m] = true
	}
	for _, m := range to {
		predecessor, matched := matchByTargetID[m]
		if !matched || !fromSet[predecessor] {
			added++
		}
	}
	for _, m := range from {
		successor, matched := matchBySourceID[m]
		if !matched || !toSet[successor] {
			removed++
		}
	}
	return
}
