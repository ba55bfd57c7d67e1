// internal/sapi/process.go
package sapi

import (
	"context"
	"time"
)

// ProcessInfo is one entry of an OS process snapshot.
type ProcessInfo struct {
	PID         int           `json:"pid"`
	Name        string        `json:"name"`
	Command     string        `json:"command"`
	User        string        `json:"user"`
	CPUPercent  float64       `json:"cpu_percent"`
	MemoryBytes uint64        `json:"memory_bytes"`
	Status      string        `json:"status"`
	RunTime     time.Duration `json:"run_time"`
}

// ProcessSource supplies the current process snapshot. Filtering, searching
// and ordering are done by the Service, never by the source.
type ProcessSource interface {
	Snapshot(ctx context.Context) ([]ProcessInfo, error)
}

// ProcessSourceFunc adapts a function to ProcessSource.
type ProcessSourceFunc func(ctx context.Context) ([]ProcessInfo, error)

func (f ProcessSourceFunc) Snapshot(ctx context.Context) ([]ProcessInfo, error) {
	return f(ctx)
}
