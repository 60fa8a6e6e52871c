package telemetry

// DDLBuckets covers single-schema migration latencies: local DDL plus
// metadata writes inside one transaction.
var DDLBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

var (
	// SyncTotal counts sync requests by result
	// (created, synced, no_changes, pending_confirmation, error).
	SyncTotal CounterVec = noopCounterVec{}

	// ApplyTotal counts migration apply attempts by result (success, error).
	ApplyTotal CounterVec = noopCounterVec{}

	// RollbackTotal counts rollback executions by result
	// (rolled_back, blocked, pending_confirmation, error).
	RollbackTotal CounterVec = noopCounterVec{}

	// MigrationsRecordedTotal counts migration records written.
	MigrationsRecordedTotal Counter = NoopStat{}

	// DDLStatementsTotal counts DDL statements executed.
	DDLStatementsTotal Counter = NoopStat{}

	// LockContentionTotal counts advisory lock acquisition failures.
	LockContentionTotal Counter = NoopStat{}

	// ApplyDurationSeconds measures end-to-end apply latency.
	ApplyDurationSeconds Histogram = NoopStat{}

	// RollbackDurationSeconds measures end-to-end rollback latency.
	RollbackDurationSeconds Histogram = NoopStat{}
)

func initMetrics() {
	SyncTotal = newCounterVec("sync_total", "Schema sync requests by result", "result")
	ApplyTotal = newCounterVec("apply_total", "Migration apply attempts by result", "result")
	RollbackTotal = newCounterVec("rollback_total", "Rollback executions by result", "result")
	MigrationsRecordedTotal = newCounter("migrations_recorded_total", "Migration records written")
	DDLStatementsTotal = newCounter("ddl_statements_total", "DDL statements executed")
	LockContentionTotal = newCounter("lock_contention_total", "Advisory lock acquisition failures")
	ApplyDurationSeconds = newHistogram("apply_duration_seconds", "Migration apply latency", DDLBuckets)
	RollbackDurationSeconds = newHistogram("rollback_duration_seconds", "Rollback latency", DDLBuckets)
}
