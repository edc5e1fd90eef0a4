package metadata

// metadata 表中使用的键
const (
	// LastAnalyticsSnapshotKey 记录上一次分析快照成功完成的时间 (RFC3339Nano, UTC)
	LastAnalyticsSnapshotKey = "last_analytics_snapshot_at"
)
