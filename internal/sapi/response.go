// internal/sapi/response.go
package sapi

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	json "github.com/json-iterator/go"
)

// Response is the result of a successful system call.
type Response struct {
	Command   string        `json:"command"`
	Processes []ProcessInfo `json:"processes,omitempty"`
	Entries   []string      `json:"entries,omitempty"`
	PID       int           `json:"pid,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// JSON renders the response for machine consumers.
func (r Response) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// String renders the response for presentation.
func (r Response) String() string {
	switch r.Command {
	case CmdSendMessage:
		return fmt.Sprintf("Message queued for process %d", r.PID)
	case CmdReceiveMessage:
		return r.Message
	case CmdListFiles:
		return strings.Join(r.Entries, "\n")
	}

	if len(r.Processes) == 0 {
		return "No matching processes"
	}

	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tNAME\tUSER\tCPU%\tMEMORY\tSTATUS\tRUNTIME")
	for _, p := range r.Processes {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.1f\t%s\t%s\t%s\n",
			p.PID, p.Name, p.User, p.CPUPercent, formatBytes(p.MemoryBytes), p.Status, p.RunTime.Truncate(time.Second))
	}
	_ = tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
