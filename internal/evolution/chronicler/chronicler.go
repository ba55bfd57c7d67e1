package chronicler

import (
	"context"
	"fmt"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancelot/internal/evolution/bus"
	"github.com/xkilldash9x/lancelot/internal/evolution/models"
	"github.com/xkilldash9x/lancelot/internal/store"
)

// Chronicler writes every agent event on the bus to a ledger.
type Chronicler struct {
	logger *zap.Logger
	bus    *bus.EvolutionBus
	ledger store.Ledger

	msgChan <-chan bus.Message
}

// NewChronicler initializes the Chronicler component and subscribes to the bus.
func NewChronicler(logger *zap.Logger, eb *bus.EvolutionBus, ledger store.Ledger) *Chronicler {
	// The bus closes the channel on shutdown, so the unsubscribe func is not kept.
	msgChan, _ := eb.Subscribe(models.AllTypes...)

	return &Chronicler{
		logger:  logger.Named("chronicler"),
		bus:     eb,
		ledger:  ledger,
		msgChan: msgChan,
	}
}

// Start consumes events until ctx is done or the bus shuts down.
func (c *Chronicler) Start(ctx context.Context) {
	c.logger.Info("Chronicler started, recording evolution events...")

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.msgChan:
			if !ok {
				return
			}
			c.processMessage(ctx, msg)
		}
	}
}

// processMessage guarantees the acknowledgement even if recording panics.
func (c *Chronicler) processMessage(ctx context.Context, msg bus.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic recovered in Chronicler handler",
				zap.String("message_id", msg.ID),
				zap.String("message_type", string(msg.Type)),
				zap.Any("panic_value", r),
			)
		}
		c.bus.Acknowledge(msg)
	}()

	entry, err := toEntry(msg)
	if err != nil {
		c.logger.Error("Failed to encode event for the ledger.", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	if err := c.ledger.Record(ctx, entry); err != nil {
		if ctx.Err() == nil {
			c.logger.Error("Failed to record event.", zap.String("message_id", msg.ID), zap.Error(err))
		}
		return
	}
	c.logger.Debug("Event recorded.", zap.String("type", entry.Type), zap.String("subject", entry.Subject))
}

func toEntry(msg bus.Message) (store.Entry, error) {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return store.Entry{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return store.Entry{
		ID:         msg.ID,
		Type:       string(msg.Type),
		Subject:    subjectOf(msg.Payload),
		Payload:    payload,
		RecordedAt: msg.Timestamp,
	}, nil
}

func subjectOf(payload interface{}) string {
	switch p := payload.(type) {
	case models.StageAdvanced:
		return p.AgentID
	case models.ModificationProposed:
		return p.ProposalID
	case models.ModificationResolved:
		return p.ProposalID
	default:
		return ""
	}
}
