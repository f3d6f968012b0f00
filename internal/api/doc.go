// Package api defines the transport-facing views of pipeline state shared by
// the HTTP API, the IPC surface, and the CLI, plus the queue operations those
// surfaces expose. Keeping the DTOs here prevents the daemon and CLI from
// drifting apart on field names.
package api
