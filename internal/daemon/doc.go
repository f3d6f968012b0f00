// Package daemon hosts the long-running reeler process: single-instance
// locking, the interval scheduler that kicks off batch runs, and the HTTP
// API that ephemeral workers call back into.
package daemon
