package logs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeLogFile(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reeler.log")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}
	return path
}

func TestTailMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.log")
	result, err := Tail(context.Background(), path, TailOptions{Offset: -1, Limit: 10})
	if err != nil {
		t.Fatalf("Tail returned error: %v", err)
	}
	if len(result.Lines) != 0 {
		t.Fatalf("expected no lines, got %d", len(result.Lines))
	}
	if result.Offset != 0 {
		t.Fatalf("expected offset 0, got %d", result.Offset)
	}
}

func TestTailLastLines(t *testing.T) {
	path := writeLogFile(t, "one\ntwo\nthree\nfour\n")
	result, err := Tail(context.Background(), path, TailOptions{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("Tail returned error: %v", err)
	}
	if len(result.Lines) != 2 || result.Lines[0] != "three" || result.Lines[1] != "four" {
		t.Fatalf("unexpected lines: %v", result.Lines)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat log file: %v", err)
	}
	if result.Offset != info.Size() {
		t.Fatalf("expected offset %d, got %d", info.Size(), result.Offset)
	}
}

func TestTailLastLinesFewerThanLimit(t *testing.T) {
	path := writeLogFile(t, "only\n")
	result, err := Tail(context.Background(), path, TailOptions{Offset: -1, Limit: 5})
	if err != nil {
		t.Fatalf("Tail returned error: %v", err)
	}
	if len(result.Lines) != 1 || result.Lines[0] != "only" {
		t.Fatalf("unexpected lines: %v", result.Lines)
	}
}

func TestTailResumesFromOffset(t *testing.T) {
	path := writeLogFile(t, "first\n")
	result, err := Tail(context.Background(), path, TailOptions{Offset: -1, Limit: 10})
	if err != nil {
		t.Fatalf("initial tail: %v", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	if _, err := file.WriteString("second\nthird\n"); err != nil {
		t.Fatalf("append log lines: %v", err)
	}
	file.Close()

	next, err := Tail(context.Background(), path, TailOptions{Offset: result.Offset})
	if err != nil {
		t.Fatalf("resumed tail: %v", err)
	}
	if len(next.Lines) != 2 || next.Lines[0] != "second" || next.Lines[1] != "third" {
		t.Fatalf("unexpected lines: %v", next.Lines)
	}
	if next.Offset <= result.Offset {
		t.Fatalf("offset did not advance: %d -> %d", result.Offset, next.Offset)
	}
}

func TestTailClampsOffsetPastEnd(t *testing.T) {
	path := writeLogFile(t, "short\n")
	result, err := Tail(context.Background(), path, TailOptions{Offset: 9999})
	if err != nil {
		t.Fatalf("Tail returned error: %v", err)
	}
	if len(result.Lines) != 0 {
		t.Fatalf("expected no lines, got %v", result.Lines)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat log file: %v", err)
	}
	if result.Offset != info.Size() {
		t.Fatalf("expected offset %d, got %d", info.Size(), result.Offset)
	}
}

func TestTailFollowWaitsForAppend(t *testing.T) {
	path := writeLogFile(t, "seed\n")
	seed, err := Tail(context.Background(), path, TailOptions{Offset: -1, Limit: 1})
	if err != nil {
		t.Fatalf("seed tail: %v", err)
	}

	go func() {
		time.Sleep(300 * time.Millisecond)
		file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		defer file.Close()
		file.WriteString("appended\n")
	}()

	result, err := Tail(context.Background(), path, TailOptions{
		Offset: seed.Offset,
		Follow: true,
		Wait:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("follow tail: %v", err)
	}
	if len(result.Lines) != 1 || result.Lines[0] != "appended" {
		t.Fatalf("unexpected lines: %v", result.Lines)
	}
}

func TestTailFollowHonorsContextCancel(t *testing.T) {
	path := writeLogFile(t, "seed\n")
	seed, err := Tail(context.Background(), path, TailOptions{Offset: -1, Limit: 1})
	if err != nil {
		t.Fatalf("seed tail: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = Tail(ctx, path, TailOptions{Offset: seed.Offset, Follow: true, Wait: 10 * time.Second})
	if err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancel did not interrupt the wait")
	}
}
