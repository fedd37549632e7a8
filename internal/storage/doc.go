// Package storage persists task definitions and execution history.
//
// Drivers:
//   - "sqlite" (default): single-file database, WAL mode
//   - "memory": ephemeral, used in tests and for dry runs
//
// The store owns the cycle math: Advance() recomputes next_run_ts from the
// task's schedule string after a successful firing. The scheduler core only
// triggers that recomputation.
package storage
