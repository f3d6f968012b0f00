package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers for collaborator failure classification. Every error that
// crosses a collaborator boundary is wrapped with exactly one of these so the
// orchestrator never has to inspect raw payloads.
var (
	// ErrTransient marks failures worth retrying with backoff (timeouts,
	// 5xx responses, connection resets).
	ErrTransient = errors.New("transient failure")
	// ErrPermanent marks failures that retrying cannot fix (validation,
	// malformed requests, rejected input).
	ErrPermanent = errors.New("permanent failure")
	// ErrNoContent signals the source has nothing left to process. It stops
	// the batch and is not treated as a job failure.
	ErrNoContent = errors.New("no content available")
	// ErrQuota signals a downstream business quota was exceeded. Never
	// retried; the job routes to the quota_reached terminal state.
	ErrQuota = errors.New("downstream quota exceeded")
	// ErrWorkerTimeout signals an ephemeral worker stopped heartbeating,
	// which the orchestration treats as worker death (e.g. preemption).
	ErrWorkerTimeout = errors.New("worker heartbeat lost")
)

// Kind is the string classification attached to logs and persisted errors.
type Kind string

const (
	KindTransient     Kind = "transient"
	KindPermanent     Kind = "permanent"
	KindNoContent     Kind = "no_content"
	KindQuota         Kind = "quota"
	KindWorkerTimeout Kind = "worker_timeout"
	KindUnknown       Kind = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error to its failure kind. Unwrapped errors and context
// deadline failures count as transient; an unrecognized error is permanent
// only when explicitly marked, otherwise unknown.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrNoContent):
		return KindNoContent
	case errors.Is(err, ErrQuota):
		return KindQuota
	case errors.Is(err, ErrWorkerTimeout):
		return KindWorkerTimeout
	case errors.Is(err, ErrPermanent):
		return KindPermanent
	case errors.Is(err, ErrTransient),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindUnknown
	}
}

// KindFromString parses a worker-reported error kind. Unrecognized values are
// treated as transient so an unknown worker failure stays retryable.
func KindFromString(value string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindTransient:
		return KindTransient
	case KindPermanent:
		return KindPermanent
	case KindNoContent:
		return KindNoContent
	case KindQuota:
		return KindQuota
	case KindWorkerTimeout:
		return KindWorkerTimeout
	default:
		return KindTransient
	}
}

// MarkerForKind returns the sentinel corresponding to a classified kind.
func MarkerForKind(kind Kind) error {
	switch kind {
	case KindPermanent:
		return ErrPermanent
	case KindNoContent:
		return ErrNoContent
	case KindQuota:
		return ErrQuota
	case KindWorkerTimeout:
		return ErrWorkerTimeout
	default:
		return ErrTransient
	}
}

// Retryable reports whether the bounded-stage retry policy applies to an error.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindTransient, KindUnknown:
		return true
	default:
		return false
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
