// internal/evolution/models/models.go
package models

import (
	"time"
)

// MessageType defines the categories of messages on the evolution bus.
type MessageType string

const (
	TypeStageAdvanced        MessageType = "EVO_STAGE_ADVANCED"        // An agent unlocked the next stage
	TypeModificationProposed MessageType = "EVO_MODIFICATION_PROPOSED" // A modification was staged
	TypeModificationResolved MessageType = "EVO_MODIFICATION_RESOLVED" // An applier reported the outcome
)

// AllTypes lists every message type, in the order a full evolution produces them.
var AllTypes = []MessageType{TypeStageAdvanced, TypeModificationProposed, TypeModificationResolved}

// StageAdvanced is posted after a successful evolve.
type StageAdvanced struct {
	AgentID   string    `json:"agent_id"`
	AgentName string    `json:"agent_name"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// ModificationProposed carries a staged record to any applier listening.
type ModificationProposed struct {
	ProposalID  string    `json:"proposal_id"`
	Path        string    `json:"path"`
	Content     string    `json:"content"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// ModificationResolved reports what an applier did with a proposal.
type ModificationResolved struct {
	ProposalID string    `json:"proposal_id"`
	Path       string    `json:"path"`
	Status     string    `json:"status"`           // "applied" or "rejected"
	Commit     string    `json:"commit,omitempty"` // Set when applied to a repository
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
