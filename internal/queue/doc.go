// Package queue persists pipeline state in SQLite and exposes helpers for
// driving job lifecycles.
//
// The Store manages three tables that must stay mutually consistent across
// crashes: jobs (the durable job records and their status state machine),
// daily_counters (per-day quota accounting, incremented atomically), and
// task_tokens (outstanding worker callbacks). Every orchestrator transition
// is persisted here before the next suspension point, making this package
// the durability boundary for process restarts.
//
// Treat this package as the single source of truth for queue semantics; when
// you add new statuses or fields, update schema.sql and bump schemaVersion.
package queue
