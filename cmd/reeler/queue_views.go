package main

import (
	"strconv"
	"strings"

	"reeler/internal/ipc"
	"reeler/internal/queue"
)

// buildQueueStatusRows orders status counts in pipeline order so the table
// reads top to bottom the way a job flows.
func buildQueueStatusRows(stats map[string]int) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, status := range queue.AllStatuses() {
		count, ok := stats[string(status)]
		if !ok || count == 0 {
			continue
		}
		rows = append(rows, []string{status.Label(), strconv.Itoa(count)})
	}
	return rows
}

func buildQueueListRows(jobs []ipc.QueueJob) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			shortJobID(job.ID),
			truncate(job.Title, 40),
			formatStatusLabel(job.Status, job.StatusLabel),
			job.CreatedAt,
		})
	}
	return rows
}

func shortJobID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(value string, max int) string {
	value = strings.TrimSpace(value)
	if max <= 0 || len(value) <= max {
		return value
	}
	return value[:max-1] + "…"
}

func formatStatusLabel(status, label string) string {
	if strings.TrimSpace(label) != "" {
		return label
	}
	if parsed, ok := queue.ParseStatus(status); ok {
		return parsed.Label()
	}
	return status
}
