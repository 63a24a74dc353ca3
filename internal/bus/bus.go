// Package bus implements the Event Bus (C5): a per-client-addressed,
// FIFO-ordered event channel. Generalized from goclaw's broadcast-only
// EventPublisher (internal/bus/types.go): that interface's single
// Broadcast(event) has no notion of "exactly one client id", so this bus
// keys delivery by client id from the start instead of bolting addressing
// on in the gateway layer.
package bus

import (
	"context"
	"sync"

	"github.com/terminusdev/terminus/pkg/protocol"
)

// queueSize bounds the number of buffered outbound events per client
// before Send blocks; workflows emit far fewer events than this in
// practice, so blocking only ever happens against a stalled transport.
const queueSize = 64

// Bus delivers protocol.Envelope events to exactly one client id at a
// time, in emission order.
type Bus struct {
	mu      sync.RWMutex
	clients map[string]chan protocol.Envelope
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{clients: make(map[string]chan protocol.Envelope)}
}

// Subscribe registers clientID and returns the channel its events arrive
// on. Calling Subscribe again for an already-registered id replaces its
// channel.
func (b *Bus) Subscribe(clientID string) <-chan protocol.Envelope {
	ch := make(chan protocol.Envelope, queueSize)
	b.mu.Lock()
	b.clients[clientID] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes clientID and closes its channel. Safe to call more
// than once.
func (b *Bus) Unsubscribe(clientID string) {
	b.mu.Lock()
	ch, ok := b.clients[clientID]
	if ok {
		delete(b.clients, clientID)
	}
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Send delivers an envelope to exactly one client id, preserving FIFO
// order relative to other Send calls for the same id. It returns false if
// the client is not subscribed or ctx is cancelled before delivery.
func (b *Bus) Send(ctx context.Context, clientID string, env protocol.Envelope) bool {
	b.mu.RLock()
	ch, ok := b.clients[clientID]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case ch <- env:
		return true
	case <-ctx.Done():
		return false
	}
}

// Emit is a convenience wrapper building the envelope from an event type
// and payload before sending.
func (b *Bus) Emit(ctx context.Context, clientID, eventType string, payload any) bool {
	return b.Send(ctx, clientID, protocol.NewEnvelope(eventType, payload))
}
