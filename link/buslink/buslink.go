// Package buslink implements link.Link as an in-memory fan-out bus with an
// explicit neighbor graph, used to build exact, deterministic topologies
// (line, star, partial mesh) in tests without opening any sockets.
package buslink

import (
	"context"
	"sync"

	"github.com/outofforest/gcn/link"
	"github.com/outofforest/gcn/wire"
)

// Bus is the shared medium a set of named nodes attach to. Two nodes only
// hear each other's Send calls if an edge was added between them with
// Connect.
type Bus struct {
	mu        sync.RWMutex
	links     map[string]*Link
	neighbors map[string]map[string]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		links:     map[string]*Link{},
		neighbors: map[string]map[string]struct{}{},
	}
}

// Attach creates the Link for a named node and registers it on the bus.
func (b *Bus) Attach(name string) *Link {
	l := &Link{
		bus:     b,
		name:    name,
		inbound: make(chan link.InboundFrame, 64),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.links[name] = l
	if _, exists := b.neighbors[name]; !exists {
		b.neighbors[name] = map[string]struct{}{}
	}
	return l
}

// Connect adds a symmetric edge between two nodes: each hears what the
// other sends.
func (b *Bus) Connect(a, other string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.neighbors[a] == nil {
		b.neighbors[a] = map[string]struct{}{}
	}
	if b.neighbors[other] == nil {
		b.neighbors[other] = map[string]struct{}{}
	}
	b.neighbors[a][other] = struct{}{}
	b.neighbors[other][a] = struct{}{}
}

func (b *Bus) deliver(from string, frame link.InboundFrame) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for n := range b.neighbors[from] {
		l, exists := b.links[n]
		if !exists {
			continue
		}
		select {
		case l.inbound <- frame:
		default:
		}
	}
}

// Link is a bus-attached node's view of the medium.
type Link struct {
	bus     *Bus
	name    string
	inbound chan link.InboundFrame
}

var _ link.Link = (*Link)(nil)

// Inbound returns the channel of frames heard from connected neighbors.
func (l *Link) Inbound() <-chan link.InboundFrame {
	return l.inbound
}

// Send delivers payload to every node connected to this one on the bus.
func (l *Link) Send(_ context.Context, class wire.FrameClass, payload []byte) error {
	l.bus.deliver(l.name, link.InboundFrame{Class: class, Payload: payload})
	return nil
}

// Close detaches nothing; the bus keeps the link registered so late
// neighbors added after Close still resolve deterministically in tests.
func (l *Link) Close() error {
	return nil
}
