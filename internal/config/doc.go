// Package config loads and hot-reloads the dockmate configuration file.
//
// JSON is the native format; YAML is accepted by extension and coerced
// through the same strict decoder. CHECK_INTERVAL, MAX_CONCURRENT_TASKS
// and TASK_BATCH_SIZE environment variables override the scheduler
// section for container deployments.
package config
