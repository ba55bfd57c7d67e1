// internal/cms/modification.go
package cms

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Status is where a proposal is in its lifecycle. A status is only ever
// replaced, never edited.
type Status int

const (
	StatusProposed Status = iota
	StatusApplied
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusProposed:
		return "proposed"
	case StatusApplied:
		return "applied"
	case StatusRejected:
		return "rejected"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus accepts the lowercase names produced by String.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "proposed":
		return StatusProposed, nil
	case "applied":
		return StatusApplied, nil
	case "rejected":
		return StatusRejected, nil
	}
	return 0, fmt.Errorf("unknown modification status %q", s)
}

var (
	ErrInvalidModification = errors.New("invalid modification")
	ErrUnknownProposal     = errors.New("unknown proposal")
	ErrAlreadyResolved     = errors.New("proposal already resolved")
)

// CodeModification is a requested change to a single file.
type CodeModification struct {
	Path        string `json:"path"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

// NewCodeModification is a convenience constructor matching field order.
func NewCodeModification(path, content, description string) CodeModification {
	return CodeModification{Path: path, Content: content, Description: description}
}

// Validate reports why a modification cannot be staged. Path safety relative
// to a concrete repository is the applier's concern.
func (m CodeModification) Validate() error {
	if strings.TrimSpace(m.Path) == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidModification)
	}
	if strings.ContainsRune(m.Path, 0) {
		return fmt.Errorf("%w: path contains NUL", ErrInvalidModification)
	}
	if !utf8.ValidString(m.Content) {
		return fmt.Errorf("%w: content of %s is not valid UTF-8", ErrInvalidModification, m.Path)
	}
	return nil
}

// Proposal is a staged modification. Values handed out by the Stager are
// copies; resolving a proposal replaces the stored record.
type Proposal struct {
	ID           string           `json:"id"`
	Modification CodeModification `json:"modification"`
	Status       Status           `json:"status"`
	Reason       string           `json:"reason,omitempty"`
	ProposedAt   time.Time        `json:"proposed_at"`
	ResolvedAt   time.Time        `json:"resolved_at,omitempty"`
}
