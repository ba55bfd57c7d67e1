// internal/evolution/bus/bus.go
package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancelot/internal/evolution/models"
)

// ErrShutdown is returned by Post once the bus has begun shutting down.
var ErrShutdown = errors.New("evolution bus is shut down")

// Message is the envelope for data transmitted over the EvolutionBus.
type Message struct {
	ID        string
	Timestamp time.Time
	Type      models.MessageType
	Payload   interface{}
}

// EvolutionBus fans agent events out to consumers such as the applier and
// the chronicler. Every delivered message must be acknowledged.
type EvolutionBus struct {
	logger *zap.Logger

	subscribers map[models.MessageType][]chan Message
	mu          sync.RWMutex
	bufferSize  int

	// Delivered but unacknowledged messages.
	processingWg sync.WaitGroup
	// Post calls currently distributing.
	activePostsWg sync.WaitGroup

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	isShutdown   bool
	shutdownMu   sync.Mutex
}

// NewEvolutionBus initializes the EvolutionBus.
func NewEvolutionBus(logger *zap.Logger, bufferSize int) *EvolutionBus {
	if bufferSize < 0 {
		bufferSize = 0
	}

	return &EvolutionBus{
		logger:       logger.Named("evolution_bus"),
		subscribers:  make(map[models.MessageType][]chan Message),
		bufferSize:   bufferSize,
		shutdownChan: make(chan struct{}),
	}
}

// Post sends a message onto the bus. Blocks if subscriber buffers are full.
func (eb *EvolutionBus) Post(ctx context.Context, msgType models.MessageType, payload interface{}) error {
	eb.shutdownMu.Lock()
	if eb.isShutdown {
		eb.shutdownMu.Unlock()
		return ErrShutdown
	}
	eb.activePostsWg.Add(1)
	eb.shutdownMu.Unlock()
	defer eb.activePostsWg.Done()

	msg := Message{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      msgType,
		Payload:   payload,
	}

	eb.logger.Debug("Posting message", zap.String("type", string(msg.Type)), zap.String("id", msg.ID))

	eb.mu.RLock()
	subscribers := eb.subscribers[msg.Type]
	if len(subscribers) == 0 {
		eb.mu.RUnlock()
		return nil
	}
	// Sends happen outside the lock.
	subsCopy := make([]chan Message, len(subscribers))
	copy(subsCopy, subscribers)
	eb.mu.RUnlock()

	for _, ch := range subsCopy {
		eb.processingWg.Add(1)
		select {
		case ch <- msg:
			// The consumer owns the acknowledgement now.
		case <-ctx.Done():
			eb.processingWg.Done()
			return ctx.Err()
		case <-eb.shutdownChan:
			eb.processingWg.Done()
			return ErrShutdown
		}
	}
	return nil
}

// Subscribe returns a channel to listen for specific message types and a
// function that removes the subscription. Subscribing to nothing, or after
// shutdown, yields an already closed channel.
func (eb *EvolutionBus) Subscribe(msgTypes ...models.MessageType) (<-chan Message, func()) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.isShutdown || len(msgTypes) == 0 {
		if len(msgTypes) == 0 {
			eb.logger.Warn("Subscribe called without message types.")
		}
		closedCh := make(chan Message)
		close(closedCh)
		return closedCh, func() {}
	}

	ch := make(chan Message, eb.bufferSize)
	subscribedTypes := make([]models.MessageType, len(msgTypes))
	copy(subscribedTypes, msgTypes)

	for _, msgType := range subscribedTypes {
		eb.subscribers[msgType] = append(eb.subscribers[msgType], ch)
	}

	unsubscribe := func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()

		for _, msgType := range subscribedTypes {
			subs, exists := eb.subscribers[msgType]
			if !exists {
				continue
			}
			for i, subscriberCh := range subs {
				if subscriberCh == ch {
					copy(subs[i:], subs[i+1:])
					eb.subscribers[msgType] = subs[:len(subs)-1]
					if len(eb.subscribers[msgType]) == 0 {
						delete(eb.subscribers, msgType)
					}
					break
				}
			}
		}
		// The bus closes channels during Shutdown, never here.
	}

	return ch, unsubscribe
}

// Acknowledge signals that a message has been processed by a consumer.
func (eb *EvolutionBus) Acknowledge(msg Message) {
	eb.processingWg.Done()
}

// Wait blocks until every delivered message has been acknowledged, or ctx is
// done. Callers must not post concurrently with Wait from a goroutine that is
// not itself handling a bus message.
func (eb *EvolutionBus) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		eb.processingWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting posts, closes every subscriber channel, and waits
// until all delivered messages are acknowledged.
func (eb *EvolutionBus) Shutdown() {
	eb.shutdownOnce.Do(func() {
		eb.logger.Info("Shutting down EvolutionBus...")

		eb.shutdownMu.Lock()
		eb.isShutdown = true
		eb.shutdownMu.Unlock()

		close(eb.shutdownChan)
		eb.activePostsWg.Wait()

		eb.mu.Lock()
		uniqueChannels := make(map[chan Message]struct{})
		for _, subs := range eb.subscribers {
			for _, ch := range subs {
				uniqueChannels[ch] = struct{}{}
			}
		}

		// No Post can be sending at this point.
		for ch := range uniqueChannels {
			close(ch)
		}

		// Buffered messages whose consumer has already stopped still count as delivered.
		drainedCount := 0
		for ch := range uniqueChannels {
			for range ch {
				drainedCount++
				eb.processingWg.Done()
			}
		}

		eb.subscribers = make(map[models.MessageType][]chan Message)
		eb.mu.Unlock()

		if drainedCount > 0 {
			eb.logger.Debug("Drained buffered messages during shutdown.", zap.Int("count", drainedCount))
		}

		eb.processingWg.Wait()
		eb.logger.Info("EvolutionBus shut down gracefully.")
	})
}
