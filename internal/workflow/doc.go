// Package workflow drives jobs through the content pipeline state machine.
//
// The Orchestrator executes one job at a time: fetch, script, audio on
// synchronous stage services, then render and publish on ephemeral workers
// supervised through the task token broker. Every transition is persisted
// before the next step starts, so a restart resumes exactly where the
// previous process stopped. The LoopController wraps the orchestrator in the
// batch loop that enforces the daily quota gate.
package workflow
