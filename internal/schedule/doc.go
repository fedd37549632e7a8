// Package schedule parses task schedule strings and computes next-run times.
//
// The scheduler core never does cycle math itself; the task store calls
// Next() here when it advances a task after a successful firing.
package schedule
