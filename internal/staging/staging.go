// Package staging manages per-job work directories under the configured
// staging root. Worker launch commands receive a job directory for local
// artifacts; cleanup removes directories for jobs that no longer exist.
package staging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reeler/internal/logging"
)

const jobDirPrefix = "job-"

// JobDir returns the work directory path for a job.
func JobDir(stagingDir, jobID string) string {
	return filepath.Join(stagingDir, jobDirPrefix+jobID)
}

// jobIDFromDir extracts the job id from a directory name, or "" when the
// directory does not follow the job naming scheme.
func jobIDFromDir(name string) string {
	if !strings.HasPrefix(name, jobDirPrefix) {
		return ""
	}
	return strings.TrimPrefix(name, jobDirPrefix)
}

// CleanResult contains the outcome of a cleanup operation.
type CleanResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes job directories older than maxAge regardless of queue
// membership.
func CleanStale(stagingDir string, maxAge time.Duration, logger *slog.Logger) CleanResult {
	cutoff := time.Now().Add(-maxAge)
	return clean(stagingDir, logger, func(name string, modTime time.Time) bool {
		return modTime.Before(cutoff)
	})
}

// CleanOrphaned removes job directories whose job id is not in activeIDs.
// Directories outside the job naming scheme are left alone.
func CleanOrphaned(stagingDir string, activeIDs map[string]struct{}, logger *slog.Logger) CleanResult {
	return clean(stagingDir, logger, func(name string, _ time.Time) bool {
		id := jobIDFromDir(name)
		if id == "" {
			return false
		}
		_, active := activeIDs[id]
		return !active
	})
}

func clean(stagingDir string, logger *slog.Logger, shouldRemove func(name string, modTime time.Time) bool) CleanResult {
	result := CleanResult{}

	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return result
	}

	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: stagingDir, Error: err})
		}
		return result
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !shouldRemove(entry.Name(), info.ModTime()) {
			continue
		}

		dirPath := filepath.Join(stagingDir, entry.Name())
		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			if logger != nil {
				logger.Warn("failed to remove staging directory",
					logging.String("path", dirPath),
					logging.Error(err),
					logging.String(logging.FieldEventType, "staging_cleanup_failed"))
			}
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		if logger != nil {
			logger.Info("removed staging directory",
				logging.String("path", dirPath),
				logging.String(logging.FieldEventType, "staging_cleanup"))
		}
	}

	return result
}

// DirInfo contains metadata about a job work directory.
type DirInfo struct {
	Name    string    `json:"name"`
	JobID   string    `json:"job_id"`
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size_bytes"`
}

// ListDirectories returns the job work directories under the staging root
// with their metadata.
func ListDirectories(stagingDir string) ([]DirInfo, error) {
	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []DirInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		dirPath := filepath.Join(stagingDir, entry.Name())
		size, _ := dirSize(dirPath)

		dirs = append(dirs, DirInfo{
			Name:    entry.Name(),
			JobID:   jobIDFromDir(entry.Name()),
			Path:    dirPath,
			ModTime: info.ModTime(),
			Size:    size,
		})
	}

	return dirs, nil
}

func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
