// internal/cms/stager.go
package cms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancelot/internal/evolution/models"
	"github.com/xkilldash9x/lancelot/internal/gate"
)

// Publisher is the subset of the evolution bus the stager needs.
type Publisher interface {
	Post(ctx context.Context, msgType models.MessageType, payload interface{}) error
}

// Stager records modification proposals. It never touches the filesystem;
// an applier consumes proposals and reports back through Resolve.
type Stager struct {
	logger    *zap.Logger
	checker   gate.Checker
	publisher Publisher
	now       func() time.Time

	mu        sync.RWMutex
	order     []string
	proposals map[string]Proposal
}

// NewStager builds a stager. publisher may be nil.
func NewStager(logger *zap.Logger, checker gate.Checker, publisher Publisher) *Stager {
	return &Stager{
		logger:    logger.Named("cms"),
		checker:   checker,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		proposals: make(map[string]Proposal),
	}
}

// Propose stages mod with status Proposed and returns the stored record.
// A denied or invalid proposal records nothing.
func (s *Stager) Propose(ctx context.Context, mod CodeModification) (Proposal, error) {
	if err := s.checker.Check(gate.ClassCodeModification); err != nil {
		s.logger.Warn("Modification proposal denied.", zap.String("path", mod.Path), zap.Error(err))
		return Proposal{}, err
	}
	if err := mod.Validate(); err != nil {
		return Proposal{}, err
	}

	p := Proposal{
		ID:           uuid.New().String(),
		Modification: mod,
		Status:       StatusProposed,
		ProposedAt:   s.now(),
	}

	s.mu.Lock()
	s.proposals[p.ID] = p
	s.order = append(s.order, p.ID)
	s.mu.Unlock()

	s.logger.Info("Modification staged.",
		zap.String("proposal_id", p.ID),
		zap.String("path", mod.Path),
		zap.Int("bytes", len(mod.Content)),
	)

	if s.publisher != nil {
		event := models.ModificationProposed{
			ProposalID:  p.ID,
			Path:        mod.Path,
			Content:     mod.Content,
			Description: mod.Description,
			Timestamp:   p.ProposedAt,
		}
		// The record is staged regardless of delivery.
		if err := s.publisher.Post(ctx, models.TypeModificationProposed, event); err != nil {
			s.logger.Warn("Failed to publish proposal.", zap.String("proposal_id", p.ID), zap.Error(err))
		}
	}
	return p, nil
}

// Resolve replaces a Proposed record with its final status. It is how the
// external applier reports back.
func (s *Stager) Resolve(id string, status Status, reason string) (Proposal, error) {
	if status != StatusApplied && status != StatusRejected {
		return Proposal{}, fmt.Errorf("cannot resolve proposal %s to %s", id, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.proposals[id]
	if !ok {
		return Proposal{}, fmt.Errorf("%w: %s", ErrUnknownProposal, id)
	}
	if current.Status != StatusProposed {
		return Proposal{}, fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, id, current.Status)
	}

	resolved := Proposal{
		ID:           current.ID,
		Modification: current.Modification,
		Status:       status,
		Reason:       reason,
		ProposedAt:   current.ProposedAt,
		ResolvedAt:   s.now(),
	}
	s.proposals[id] = resolved

	s.logger.Info("Modification resolved.", zap.String("proposal_id", id), zap.Stringer("status", status))
	return resolved, nil
}

// Get returns the current record for id.
func (s *Stager) Get(id string) (Proposal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	return p, ok
}

// Proposals returns every record in the order it was staged.
func (s *Stager) Proposals() []Proposal {
	return s.collect(func(Proposal) bool { return true })
}

// Pending returns the records still waiting for an applier.
func (s *Stager) Pending() []Proposal {
	return s.collect(func(p Proposal) bool { return p.Status == StatusProposed })
}

func (s *Stager) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *Stager) collect(keep func(Proposal) bool) []Proposal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Proposal, 0, len(s.order))
	for _, id := range s.order {
		if p := s.proposals[id]; keep(p) {
			out = append(out, p)
		}
	}
	return out
}
