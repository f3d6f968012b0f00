// Package notifications delivers pipeline lifecycle events via ntfy.
//
// Delivery is best effort: the workflow never blocks or fails on a
// notification, so send errors are logged and dropped. When no topic is
// configured every event is a no-op. Category toggles in the config let
// operators subscribe to run summaries, per-job events, quota alerts, and
// errors independently.
package notifications
