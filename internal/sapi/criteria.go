// internal/sapi/criteria.go
package sapi

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ProcessFilter holds optional predicates. A nil field imposes no
// constraint; all present fields must hold.
type ProcessFilter struct {
	MinCPU      *float64
	MinMemory   *uint64
	NamePattern *string
	Status      *string
	MinRunTime  *time.Duration
}

// SearchCriteria holds optional case-insensitive substrings. All present
// fields must match. A nil MaxResults means unbounded.
type SearchCriteria struct {
	NameContains    *string
	CommandContains *string
	UserName        *string
	MaxResults      *int
}

// Matches reports whether p satisfies every present predicate.
func (f ProcessFilter) Matches(p ProcessInfo) bool {
	if f.MinCPU != nil && p.CPUPercent < *f.MinCPU {
		return false
	}
	if f.MinMemory != nil && p.MemoryBytes < *f.MinMemory {
		return false
	}
	if f.NamePattern != nil && !containsFold(p.Name, *f.NamePattern) {
		return false
	}
	if f.Status != nil && !strings.EqualFold(p.Status, *f.Status) {
		return false
	}
	if f.MinRunTime != nil && p.RunTime < *f.MinRunTime {
		return false
	}
	return true
}

// Matches reports whether p satisfies every present substring.
func (c SearchCriteria) Matches(p ProcessInfo) bool {
	if c.NameContains != nil && !containsFold(p.Name, *c.NameContains) {
		return false
	}
	if c.CommandContains != nil && !containsFold(p.Command, *c.CommandContains) {
		return false
	}
	if c.UserName != nil && !containsFold(p.User, *c.UserName) {
		return false
	}
	return true
}

// limit returns the result cap, or -1 when unbounded. Negative caps clamp
// to zero.
func (c SearchCriteria) limit() int {
	if c.MaxResults == nil {
		return -1
	}
	return max(*c.MaxResults, 0)
}

// applyFilter returns the matching entries ordered by CPU descending, then
// PID ascending.
func applyFilter(snapshot []ProcessInfo, f ProcessFilter) []ProcessInfo {
	out := make([]ProcessInfo, 0, len(snapshot))
	for _, p := range snapshot {
		if f.Matches(p) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b ProcessInfo) int {
		if c := cmp.Compare(b.CPUPercent, a.CPUPercent); c != 0 {
			return c
		}
		return cmp.Compare(a.PID, b.PID)
	})
	return out
}

// applySearch returns the matching entries ordered by PID ascending and
// truncated to the configured cap.
func applySearch(snapshot []ProcessInfo, c SearchCriteria) []ProcessInfo {
	out := make([]ProcessInfo, 0, len(snapshot))
	for _, p := range snapshot {
		if c.Matches(p) {
			out = append(out, p)
		}
	}
	sortByPID(out)
	if n := c.limit(); n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// resolveMonitor matches target as a pid first, then as an exact
// case-insensitive process name.
func resolveMonitor(snapshot []ProcessInfo, target string) []ProcessInfo {
	target = strings.TrimSpace(target)
	var out []ProcessInfo
	if pid, err := strconv.Atoi(target); err == nil {
		for _, p := range snapshot {
			if p.PID == pid {
				out = append(out, p)
			}
		}
		return out
	}
	for _, p := range snapshot {
		if strings.EqualFold(p.Name, target) {
			out = append(out, p)
		}
	}
	sortByPID(out)
	return out
}

func sortByPID(ps []ProcessInfo) {
	slices.SortFunc(ps, func(a, b ProcessInfo) int { return cmp.Compare(a.PID, b.PID) })
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
