package bucketdb

// MergeCounters aggregates statistics of merge executions. Counters are
// accumulated into a local value during a merge and published to the bucket
// manager once at the end, so no synchronization is needed inside the merge
// loop.
type MergeCounters struct {
	PreInitEntryProtocolMerges  uint64
	PostInitEntryProtocolMerges uint64

	PreShadowRemovalProtocolMerges  uint64
	PostShadowRemovalProtocolMerges uint64

	NewMetaEntries uint64
	NewInitEntries uint64
	NewLiveEntries uint64
	NewDeadEntries uint64
	OldMetaEntries uint64
	OldInitEntries uint64
	OldLiveEntries uint64
	OldDeadEntries uint64

	OldEntriesDefaultAccepted uint64
	NewEntriesDefaultAccepted uint64

	NewInitEntriesMergedWithOldDead    uint64
	OldInitEntriesMergedWithNewLive    uint64
	OldInitEntriesMergedWithNewDead    uint64
	NewEntriesMergedWithOldNeitherInit uint64

	ShadowScanSteps         uint64
	MetaEntryShadowElisions uint64
	InitEntryShadowElisions uint64
	LiveEntryShadowElisions uint64
	DeadEntryShadowElisions uint64

	OutputIteratorTombstoneElisions uint64
	OutputIteratorActualWrites      uint64
}

// Add accumulates other into c.
func (c *MergeCounters) Add(other MergeCounters) {
	c.PreInitEntryProtocolMerges += other.PreInitEntryProtocolMerges
	c.PostInitEntryProtocolMerges += other.PostInitEntryProtocolMerges
	c.PreShadowRemovalProtocolMerges += other.PreShadowRemovalProtocolMerges
	c.PostShadowRemovalProtocolMerges += other.PostShadowRemovalProtocolMerges
	c.NewMetaEntries += other.NewMetaEntries
	c.NewInitEntries += other.NewInitEntries
	c.NewLiveEntries += other.NewLiveEntries
	c.NewDeadEntries += other.NewDeadEntries
	c.OldMetaEntries += other.OldMetaEntries
	c.OldInitEntries += other.OldInitEntries
	c.OldLiveEntries += other.OldLiveEntries
	c.OldDeadEntries += other.OldDeadEntries
	c.OldEntriesDefaultAccepted += other.OldEntriesDefaultAccepted
	c.NewEntriesDefaultAccepted += other.NewEntriesDefaultAccepted
	c.NewInitEntriesMergedWithOldDead += other.NewInitEntriesMergedWithOldDead
	c.OldInitEntriesMergedWithNewLive += other.OldInitEntriesMergedWithNewLive
	c.OldInitEntriesMergedWithNewDead += other.OldInitEntriesMergedWithNewDead
	c.NewEntriesMergedWithOldNeitherInit += other.NewEntriesMergedWithOldNeitherInit
	c.ShadowScanSteps += other.ShadowScanSteps
	c.MetaEntryShadowElisions += other.MetaEntryShadowElisions
	c.InitEntryShadowElisions += other.InitEntryShadowElisions
	c.LiveEntryShadowElisions += other.LiveEntryShadowElisions
	c.DeadEntryShadowElisions += other.DeadEntryShadowElisions
	c.OutputIteratorTombstoneElisions += other.OutputIteratorTombstoneElisions
	c.OutputIteratorActualWrites += other.OutputIteratorActualWrites
}

