// Package scheduler polls the task store on an adaptive interval and
// dispatches due container lifecycle tasks with bounded concurrency.
//
// One background goroutine owns the polling loop. Each cycle it selects
// tasks whose next-run time falls inside a half-interval tolerance window,
// executes them in size-limited chunks through the concurrency gate, and
// then recomputes its own sleep from observed load.
package scheduler
