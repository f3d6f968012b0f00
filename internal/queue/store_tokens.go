package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TokenState is the lifecycle of a task token.
type TokenState string

const (
	TokenPending   TokenState = "pending"
	TokenCompleted TokenState = "completed"
	TokenFailed    TokenState = "failed"
)

// ErrTokenStale is returned when a callback presents a token that has been
// superseded by a retry or already settled. Guarantees at most one live token
// per (job, stage) can ever report a result.
var ErrTokenStale = errors.New("task token superseded or settled")

// TaskToken correlates a suspended orchestration step with an ephemeral
// worker's eventual callback.
type TaskToken struct {
	Token        string
	JobID        string
	Stage        Status
	State        TokenState
	Superseded   bool
	Input        string
	ResultRef    string
	ErrorKind    string
	ErrorMessage string
	IssuedAt     time.Time
	AcquiredAt   *time.Time
	HeartbeatAt  *time.Time
}

// Live reports whether the token can still accept callbacks.
func (t *TaskToken) Live() bool {
	return t != nil && t.State == TokenPending && !t.Superseded
}

// IssueToken mints a fresh token for (job, stage), superseding any live token
// for the same pair in the same transaction.
func (s *Store) IssueToken(ctx context.Context, jobID string, stage Status, input string) (*TaskToken, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin token tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE task_tokens SET superseded = 1
         WHERE job_id = ? AND stage = ? AND state = ? AND superseded = 0`,
		jobID, stage, TokenPending,
	); err != nil {
		return nil, fmt.Errorf("supersede prior tokens: %w", err)
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	token := uuid.NewString()
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO task_tokens (token, job_id, stage, state, input, issued_at, heartbeat_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		token, jobID, stage, TokenPending, nullableString(input), timestamp, timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit token: %w", err)
	}

	return s.GetToken(ctx, token)
}

// GetToken fetches a token record. Returns nil when absent.
func (s *Store) GetToken(ctx context.Context, token string) (*TaskToken, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM task_tokens WHERE token = ?`, token)
	record, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return record, nil
}

// LiveToken returns the outstanding token for (job, stage), if one exists.
// Used on restart to re-attach to a suspended worker wait.
func (s *Store) LiveToken(ctx context.Context, jobID string, stage Status) (*TaskToken, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+tokenColumns+` FROM task_tokens
         WHERE job_id = ? AND stage = ? AND state = ? AND superseded = 0
         ORDER BY issued_at DESC LIMIT 1`,
		jobID, stage, TokenPending,
	)
	record, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("live token: %w", err)
	}
	return record, nil
}

// AcquireToken hands the oldest unclaimed live token for a stage channel to a
// polling worker, stamping the acquisition time.
func (s *Store) AcquireToken(ctx context.Context, stage Status) (*TaskToken, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+tokenColumns+` FROM task_tokens
         WHERE stage = ? AND state = ? AND superseded = 0 AND acquired_at IS NULL
         ORDER BY issued_at LIMIT 1`,
		stage, TokenPending,
	)
	record, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE task_tokens SET acquired_at = ?, heartbeat_at = ?
         WHERE token = ? AND state = ? AND superseded = 0 AND acquired_at IS NULL`,
		timestamp, timestamp, record.Token, TokenPending,
	)
	if err != nil {
		return nil, fmt.Errorf("mark token acquired: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// Raced with another worker or a supersede; caller should poll again.
		return nil, nil
	}
	record.AcquiredAt = &now
	record.HeartbeatAt = &now
	return record, nil
}

// HeartbeatToken records worker liveness. Stale tokens are rejected.
func (s *Store) HeartbeatToken(ctx context.Context, token string) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	return s.tokenGuardedExec(
		ctx,
		`UPDATE task_tokens SET heartbeat_at = ?
         WHERE token = ? AND state = ? AND superseded = 0`,
		timestamp, token, TokenPending,
	)
}

// CompleteToken settles a token with the worker's result. Stale tokens are rejected.
func (s *Store) CompleteToken(ctx context.Context, token, resultRef string) error {
	return s.tokenGuardedExec(
		ctx,
		`UPDATE task_tokens SET state = ?, result_ref = ?
         WHERE token = ? AND state = ? AND superseded = 0`,
		TokenCompleted, nullableString(resultRef), token, TokenPending,
	)
}

// FailToken settles a token with a worker-reported failure. Stale tokens are rejected.
func (s *Store) FailToken(ctx context.Context, token, errorKind, errorMessage string) error {
	return s.tokenGuardedExec(
		ctx,
		`UPDATE task_tokens SET state = ?, error_kind = ?, error_message = ?
         WHERE token = ? AND state = ? AND superseded = 0`,
		TokenFailed, nullableString(errorKind), nullableString(errorMessage), token, TokenPending,
	)
}

func (s *Store) tokenGuardedExec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTokenStale
	}
	return nil
}

const tokenColumns = "token, job_id, stage, state, superseded, input, result_ref, error_kind, error_message, issued_at, acquired_at, heartbeat_at"

func scanToken(scanner interface{ Scan(dest ...any) error }) (*TaskToken, error) {
	var (
		token        string
		jobID        string
		stageStr     string
		stateStr     string
		superseded   int64
		input        sql.NullString
		resultRef    sql.NullString
		errorKind    sql.NullString
		errorMessage sql.NullString
		issuedRaw    string
		acquiredRaw  sql.NullString
		heartbeatRaw sql.NullString
	)

	if err := scanner.Scan(
		&token,
		&jobID,
		&stageStr,
		&stateStr,
		&superseded,
		&input,
		&resultRef,
		&errorKind,
		&errorMessage,
		&issuedRaw,
		&acquiredRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	record := &TaskToken{
		Token:        token,
		JobID:        jobID,
		Stage:        Status(stageStr),
		State:        TokenState(stateStr),
		Superseded:   superseded != 0,
		Input:        input.String,
		ResultRef:    resultRef.String,
		ErrorKind:    errorKind.String,
		ErrorMessage: errorMessage.String,
	}
	if issued, err := parseTimeString(issuedRaw); err == nil {
		record.IssuedAt = issued
	}
	if acquiredRaw.Valid {
		if acquired, err := parseTimeString(acquiredRaw.String); err == nil {
			record.AcquiredAt = &acquired
		}
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			record.HeartbeatAt = &heartbeat
		}
	}
	return record, nil
}
