// Package services holds the error taxonomy shared by every collaborator
// boundary plus context annotations for correlation. Subpackages implement
// HTTP clients for the external content services (fetcher, scripter, voicer).
//
// Collaborator failures are classified exactly once, at the boundary, by
// wrapping with one of the sentinel markers in errors.go. The workflow
// orchestrator acts only on the classified kind.
package services
