/*
Package observability turns orchestrator lifecycle events into logs and Prometheus metrics.

Everything here is built on domain.LifecycleHooks: LoggingHooks and Metrics.Hooks each
return a set of callbacks, and MergeHooks combines them before they are handed to the
orchestrator.
*/
package observability
