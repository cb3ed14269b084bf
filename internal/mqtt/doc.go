// Package mqtt owns the broker side of the bridge: connection management
// with optional TLS and a one-time plain-TCP fallback, startup state
// recovery, the discovery announcements, the command subscriptions, and the
// publish loop.
//
// The publish loop is level triggered. It waits on the coordinator's
// publish signal, takes a deep snapshot of the shared state, and publishes
// only what changed against the previously published snapshot. Per-index
// counter topics are always retained so the next run can recover from them;
// display topics follow the configured retain flag.
package mqtt
