package analyzer

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ludo-technologies/evotrace/domain"
	"github.com/ludo-technologies/evotrace/internal/config"
)

// EvolutionTracker is the engine's domain.Tracker implementation. It owns
// one MethodMatcher, GroupDetector, GroupMatcher and StateClassifier and
// walks a revision sequence once per Track call, caching the per-revision
// grouping and per-pair matching so TrackMethods and TrackGroups can each
// be called without redoing the other's work.
type EvolutionTracker struct {
	cfg           *config.Config
	matcher       *MethodMatcher
	groupDetector *GroupDetector
	groupMatcher  *GroupMatcher
	classifier    *StateClassifier
	logger        *log.Logger

	mu          sync.Mutex
	groupsCache map[string][]*domain.CloneGroup
	matchCache  map[string][]domain.MethodMatch
}

// TrackerOption configures optional ambient infrastructure on an EvolutionTracker.
type TrackerOption func(*EvolutionTracker)

// WithTrackerLogger redirects the tracker's (and its MethodMatcher's)
// diagnostics to a caller-supplied logger.
func WithTrackerLogger(logger *log.Logger) TrackerOption {
	return func(t *EvolutionTracker) { t.logger = logger }
}

// NewEvolutionTracker creates an EvolutionTracker for the given configuration.
func NewEvolutionTracker(cfg *config.Config, opts ...TrackerOption) *EvolutionTracker {
	t := &EvolutionTracker{
		cfg:           cfg,
		groupDetector: NewGroupDetector(cfg),
		groupMatcher:  NewGroupMatcher(cfg.Thresholds.OverlapThreshold),
		classifier:    NewStateClassifier(cfg),
		logger:        log.Default(),
		groupsCache:   make(map[string][]*domain.CloneGroup),
		matchCache:    make(map[string][]domain.MethodMatch),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.matcher = NewMethodMatcher(cfg, WithLogger(t.logger))
	return t
}

// lineageInfo is the accounting kept per lineage (a chain of matched
// blocks across revisions), independent of any single revision's row.
type lineageInfo struct {
	firstSeenRevision string
	firstSeenTime     time.Time
	lastSeenRevision  string
	lastSeenTime      time.Time
	revisionCount     int
}

func (li *lineageInfo) lifetimeDays() float64 {
	return li.lastSeenTime.Sub(li.firstSeenTime).Hours() / 24
}

// groupsForRevision returns (and memoizes) revision's clone groups and a
// block id -> group id lookup.
func (t *EvolutionTracker) groupsForRevision(rev domain.Revision) ([]*domain.CloneGroup, map[string]string) {
	t.mu.Lock()
	groups, ok := t.groupsCache[rev.ID]
	t.mu.Unlock()
	if !ok {
		pairs := rev.ClonePairs
		if len(pairs) == 0 {
			pairs = GeneratePairs(t.cfg, rev.Blocks)
		}
		groups = t.groupDetector.DetectGroups(rev.Blocks, pairs)
		t.mu.Lock()
		t.groupsCache[rev.ID] = groups
		t.mu.Unlock()
	}
	byBlock := make(map[string]string)
	for _, g := range groups {
		for _, m := range g.Members {
			byBlock[m] = g.ID
		}
	}
	return groups, byBlock
}

// matchAdjacent returns (and memoizes) the forward MethodMatch list from
// prevRev to rev.
func (t *EvolutionTracker) matchAdjacent(ctx context.Context, prevRev, rev domain.Revision) []domain.MethodMatch {
	key := prevRev.ID + "\x00" + rev.ID
	t.mu.Lock()
	matches, ok := t.matchCache[key]
	t.mu.Unlock()
	if ok {
		return matches
	}
	matches = t.matcher.Match(ctx, prevRev.Blocks, rev.Blocks)
	t.mu.Lock()
	t.matchCache[key] = matches
	t.mu.Unlock()
	return matches
}

// groupByID indexes groups by id for O(1) size lookups.
func groupByID(groups []*domain.CloneGroup) map[string]*domain.CloneGroup {
	byID := make(map[string]*domain.CloneGroup, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}
	return byID
}

// cloneSizeAndCount reports a block's clone group size and clone count
// (size-1) given its group id, group membership and the owning revision's
// groups. Both are zero for a block that isn't in any group.
func cloneSizeAndCount(gid string, inGroup bool, groupsByID map[string]*domain.CloneGroup) (size, count int) {
	if !inGroup {
		return 0, 0
	}
	if g, ok := groupsByID[gid]; ok {
		size = g.Size()
		count = size - 1
	}
	return size, count
}

// blockLOC computes a block's line count from its inclusive line span,
// or 0 when the revision source didn't populate line numbers.
func blockLOC(b domain.CodeBlock) int {
	if b.StartLine <= 0 && b.EndLine <= 0 {
		return 0
	}
	return b.EndLine - b.StartLine + 1
}

// TrackMethods walks revisions in order and returns one MethodTraceRow per
// block observed at each revision: ADDED rows for the first revision's
// blocks (and for any later block with no source counterpart), SURVIVED
// rows for every match, DELETED rows for every unmatched source block.
func (t *EvolutionTracker) TrackMethods(revisions []domain.Revision) ([]domain.MethodTraceRow, error) {
	if len(revisions) == 0 {
		return nil, domain.NewMissingDataError("TrackMethods requires at least one revision", nil)
	}
	ctx := context.Background()

	var rows []domain.MethodTraceRow
	lineages := make(map[string]*lineageInfo)
	lineageOf := make(map[string]string)

	for i, rev := range revisions {
		curGroups, curBlockGroup := t.groupsForRevision(rev)
		curGroupsByID := groupByID(curGroups)

		if i == 0 {
			for _, b := range rev.Blocks {
				lid := "lin:" + b.ID
				lineages[lid] = newLineageInfo(rev)
				lineageOf[b.ID] = lid
				gid, inGroup := curBlockGroup[b.ID]
				detail := t.classifier.ClassifyAdded(inGroup, inGroup)
				size, count := cloneSizeAndCount(gid, inGroup, curGroupsByID)
				rows = append(rows, domain.MethodTraceRow{
					RevisionID: rev.ID, BlockID: b.ID, FilePath: b.FilePath, MethodName: b.MethodName,
					StartLine: b.StartLine, EndLine: b.EndLine, Loc: blockLOC(b),
					State: domain.StateAdded, StateDetail: detail, MatchType: domain.MatchNone,
					LineageID: lid, GroupID: gid, IsInGroup: inGroup,
					CloneGroupSize: size, CloneCount: count,
					LifetimeRevisions: 1, LifetimeDays: 0,
					FirstSeenRevision: rev.ID, LastSeenRevision: rev.ID,
				})
			}
			continue
		}

		prevRev := revisions[i-1]
		prevGroups, prevBlockGroup := t.groupsForRevision(prevRev)
		prevGroupsByID := groupByID(prevGroups)
		matches := t.matchAdjacent(ctx, prevRev, rev)

		matchBySource := make(map[string]domain.MethodMatch, len(matches))
		matchedTargets := make(map[string]bool, len(matches))
		for _, mm := range matches {
			matchBySource[mm.SourceBlockID] = mm
			if mm.MatchType != domain.MatchNone {
				matchedTargets[mm.TargetBlockID] = true
			}
		}

		// survivorsByGroup counts, per source-side group, how many of its
		// members matched into the target revision. A deleted block's own
		// (always-NONE) match never contributes to its own group's count,
		// so this doubles as "survivors other than the block being
		// classified" without needing to exclude it explicitly.
		survivorsByGroup := make(map[string]int)
		for _, ob := range prevRev.Blocks {
			gid, inGroup := prevBlockGroup[ob.ID]
			if !inGroup {
				continue
			}
			if om, ok := matchBySource[ob.ID]; ok && om.MatchType != domain.MatchNone {
				survivorsByGroup[gid]++
			}
		}

		targetBlockByID := make(map[string]domain.CodeBlock, len(rev.Blocks))
		for _, b := range rev.Blocks {
			targetBlockByID[b.ID] = b
		}

		curLineageOf := make(map[string]string)

		for _, pb := range prevRev.Blocks {
			lid := lineageOf[pb.ID]
			li := lineages[lid]
			sourceGroupID, sourceInGroup := prevBlockGroup[pb.ID]

			mm, matched := matchBySource[pb.ID]
			if matched && mm.MatchType != domain.MatchNone {
				tb := targetBlockByID[mm.TargetBlockID]
				targetGroupID, targetInGroup := curBlockGroup[mm.TargetBlockID]
				detail := t.classifier.ClassifySurvived(sourceInGroup, targetInGroup, mm.MatchType)
				size, count := cloneSizeAndCount(targetGroupID, targetInGroup, curGroupsByID)

				li.lastSeenRevision = rev.ID
				li.lastSeenTime = rev.Timestamp
				li.revisionCount++

				rows = append(rows, domain.MethodTraceRow{
					RevisionID: rev.ID, BlockID: tb.ID, FilePath: tb.FilePath, MethodName: tb.MethodName,
					StartLine: tb.StartLine, EndLine: tb.EndLine, Loc: blockLOC(tb),
					State: domain.StateSurvived, StateDetail: detail, MatchType: mm.MatchType,
					MatchedBlockID: pb.ID, Similarity: mm.Similarity,
					LineageID: lid, GroupID: targetGroupID, IsInGroup: targetInGroup,
					CloneGroupSize: size, CloneCount: count,
					LifetimeRevisions: li.revisionCount, LifetimeDays: li.lifetimeDays(),
					FirstSeenRevision: li.firstSeenRevision, LastSeenRevision: li.lastSeenRevision,
					SignatureChanged: mm.SignatureChanged,
				})
				curLineageOf[tb.ID] = lid
				continue
			}

			survivorCount := 0
			if sourceInGroup {
				survivorCount = survivorsByGroup[sourceGroupID]
			}
			detail := t.classifier.ClassifyDeleted(sourceInGroup, survivorCount)
			size, count := cloneSizeAndCount(sourceGroupID, sourceInGroup, prevGroupsByID)

			rows = append(rows, domain.MethodTraceRow{
				RevisionID: rev.ID, BlockID: pb.ID, FilePath: pb.FilePath, MethodName: pb.MethodName,
				StartLine: pb.StartLine, EndLine: pb.EndLine, Loc: blockLOC(pb),
				State: domain.StateDeleted, StateDetail: detail, MatchType: domain.MatchNone,
				LineageID: lid, GroupID: sourceGroupID, IsInGroup: sourceInGroup,
				CloneGroupSize: size, CloneCount: count,
				LifetimeRevisions: li.revisionCount, LifetimeDays: li.lifetimeDays(),
				FirstSeenRevision: li.firstSeenRevision, LastSeenRevision: li.lastSeenRevision,
			})
			delete(lineages, lid)
		}

		// Determine which of this revision's groups are a continuation of
		// some source group, so a newly-grouped block can be told apart
		// from one joining a group that already existed.
		groupResult := t.groupMatcher.MatchGroups(prevGroups, curGroups, matches)
		continuedTargets := make(map[string]bool, len(groupResult.PrimaryTargetOf))
		for _, primary := range groupResult.PrimaryTargetOf {
			continuedTargets[primary.TargetGroupID] = true
		}

		for _, tb := range rev.Blocks {
			if matchedTargets[tb.ID] {
				continue
			}
			gid, inGroup := curBlockGroup[tb.ID]
			groupIsNew := inGroup && !continuedTargets[gid]
			detail := t.classifier.ClassifyAdded(inGroup, groupIsNew)
			size, count := cloneSizeAndCount(gid, inGroup, curGroupsByID)

			lid := "lin:" + tb.ID
			lineages[lid] = newLineageInfo(rev)

			rows = append(rows, domain.MethodTraceRow{
				RevisionID: rev.ID, BlockID: tb.ID, FilePath: tb.FilePath, MethodName: tb.MethodName,
				StartLine: tb.StartLine, EndLine: tb.EndLine, Loc: blockLOC(tb),
				State: domain.StateAdded, StateDetail: detail, MatchType: domain.MatchNone,
				LineageID: lid, GroupID: gid, IsInGroup: inGroup,
				CloneGroupSize: size, CloneCount: count,
				LifetimeRevisions: 1, LifetimeDays: 0,
				FirstSeenRevision: rev.ID, LastSeenRevision: rev.ID,
			})
			curLineageOf[tb.ID] = lid
		}

		lineageOf = curLineageOf
	}

	return rows, nil
}
