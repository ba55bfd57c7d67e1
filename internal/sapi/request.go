// internal/sapi/request.go
package sapi

// Canonical command names. A bare request carrying one of the payload-less
// names resolves through the command registry; the others need a payload.
const (
	CmdListProcesses  = "list_processes"
	CmdListFiles      = "list_files"
	CmdFilterProcess  = "filter_processes"
	CmdSearchProcess  = "search_processes"
	CmdMonitorProcess = "monitor_process"
	CmdSendMessage    = "send_message"
	CmdReceiveMessage = "receive_message"
)

// SystemCallRequest is the envelope for a mediated system call.
//
// When Operation is set it is authoritative and Command is informational.
// Priority is carried as reserved metadata and has no effect on dispatch.
type SystemCallRequest struct {
	Command   string
	Priority  int
	Operation Operation
}

// NewSystemCallRequest builds a bare request.
func NewSystemCallRequest(command string, priority int) SystemCallRequest {
	return SystemCallRequest{Command: command, Priority: priority}
}

// WithOperation returns a copy of the request carrying op as its payload.
func (r SystemCallRequest) WithOperation(op Operation) SystemCallRequest {
	r.Operation = op
	return r
}

// Operation is the structured payload of a request. The set of variants is
// closed. Pointers to variants are accepted and dispatched by value.
type Operation interface {
	CommandName() string
	isOperation()
}

// ListProcesses returns the full snapshot.
type ListProcesses struct{}

// FilterProcesses keeps entries matching every present predicate.
type FilterProcesses struct {
	Filter ProcessFilter
}

// SearchProcesses keeps entries matching every present substring.
type SearchProcesses struct {
	Criteria SearchCriteria
}

// MonitorProcess resolves Target (a pid, or a process name) to a live sample.
type MonitorProcess struct {
	Target string
}

// SendMessage appends Text to the mailbox of PID.
type SendMessage struct {
	PID  int
	Text string
}

// ReceiveMessage pops the oldest message from the mailbox of PID.
type ReceiveMessage struct {
	PID int
}

// listFiles is reachable only through the bare command registry.
type listFiles struct{}

func (ListProcesses) CommandName() string   { return CmdListProcesses }
func (FilterProcesses) CommandName() string { return CmdFilterProcess }
func (SearchProcesses) CommandName() string { return CmdSearchProcess }
func (MonitorProcess) CommandName() string  { return CmdMonitorProcess }
func (SendMessage) CommandName() string     { return CmdSendMessage }
func (ReceiveMessage) CommandName() string  { return CmdReceiveMessage }
func (listFiles) CommandName() string       { return CmdListFiles }

func (ListProcesses) isOperation()   {}
func (FilterProcesses) isOperation() {}
func (SearchProcesses) isOperation() {}
func (MonitorProcess) isOperation()  {}
func (SendMessage) isOperation()     {}
func (ReceiveMessage) isOperation()  {}
func (listFiles) isOperation()       {}

// bareCommands is the fixed registry of payload-less commands.
var bareCommands = map[string]Operation{
	CmdListProcesses: ListProcesses{},
	CmdListFiles:     listFiles{},
}

// BareCommands returns the names accepted without a payload.
func BareCommands() []string {
	return []string{CmdListFiles, CmdListProcesses}
}

// resolve picks the operation to dispatch for r.
func resolve(r SystemCallRequest) (Operation, bool) {
	if r.Operation != nil {
		op := byValue(r.Operation)
		return op, op != nil
	}
	op, ok := bareCommands[r.Command]
	return op, ok
}

// byValue unwraps pointer variants. A nil pointer yields nil.
func byValue(op Operation) Operation {
	switch o := op.(type) {
	case *ListProcesses:
		if o != nil {
			return *o
		}
	case *FilterProcesses:
		if o != nil {
			return *o
		}
	case *SearchProcesses:
		if o != nil {
			return *o
		}
	case *MonitorProcess:
		if o != nil {
			return *o
		}
	case *SendMessage:
		if o != nil {
			return *o
		}
	case *ReceiveMessage:
		if o != nil {
			return *o
		}
	case *listFiles:
		if o != nil {
			return *o
		}
	default:
		return op
	}
	return nil
}
