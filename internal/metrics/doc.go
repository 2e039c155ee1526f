// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - WebSocket connection status per trip and reconnect attempts
//   - Inbound event rates by type, invalid and dropped frames
//   - Handler panics and queue depth in the router
//   - Coordination conflicts and registry size
//   - Resync runs and failures
//
// A nil *Metrics is valid; every method on it is a no-op.
package metrics
