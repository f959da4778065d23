package gcn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/gcn/link/buslink"
	"github.com/outofforest/gcn/wire"
)

// runPendingEvents drains and runs every event currently queued or that
// arrives within timeout, standing in for the event-loop goroutine in tests
// that drive Service methods directly without calling Run.
func runPendingEvents(s *Service, timeout time.Duration) {
	deadline := time.After(timeout)
	for {
		select {
		case fn := <-s.events:
			fn(s)
		case <-deadline:
			return
		}
	}
}

// TestOnAckObligatoryRelayIsUnconditional checks that the obligatory relay
// forwards an ACK regardless of ProbRelay, even when every probabilistic
// coin flip for that tree would fail (ProbRelay forced to 0 for any
// non-obligatory path). This is S7's property: obligatory-relay forwarding
// precedes, and is independent of, the coin-flip branch.
func TestOnAckObligatoryRelayIsUnconditional(t *testing.T) {
	requireT := require.New(t)

	bus := buslink.NewBus()
	l := bus.Attach("r1")

	s := New(Config{NodeID: 2}, l, nil)

	key := GroupKey{Group: 1, SrcNode: 100}
	s.tables.reversePath[key] = &reversePathEntry{nextHop: 3}

	ack := &wire.Ack{
		Group:           1,
		SrcNode:         100,
		Seq:             7,
		ObligatoryRelay: 2, // this node
		ProbRelay:       0, // would always lose a coin flip
	}

	s.onAck(time.Now(), 5, ack)
	runPendingEvents(s, 500*time.Millisecond)

	sent, exists := s.tables.ackSent[key]
	requireT.True(exists, "obligatory relay must forward the ACK even with ProbRelay=0")
	requireT.Equal(wire.SeqNum(7), sent.seq)
}

// TestOnAckRootStopsRelaying checks that a node never relays an ACK for its
// own tree (there is nothing upstream of the root to relay to), while still
// registering the immediate sender as a downstream subscriber.
func TestOnAckRootStopsRelaying(t *testing.T) {
	requireT := require.New(t)

	bus := buslink.NewBus()
	l := bus.Attach("root")

	s := New(Config{NodeID: 100}, l, nil)

	key := GroupKey{Group: 1, SrcNode: 100}
	// Even the root's own reverse path entry, if one existed, must not be
	// used to relay further.
	s.tables.reversePath[key] = &reversePathEntry{nextHop: 3}

	ack := &wire.Ack{Group: 1, SrcNode: 100, Seq: 1, ObligatoryRelay: 9, ProbRelay: 200}
	s.onAck(time.Now(), 5, ack)
	runPendingEvents(s, 300*time.Millisecond)

	_, acked := s.tables.ackSent[key]
	requireT.False(acked, "the tree's root must never relay its own ACK further upstream")

	subs, exists := s.tables.remoteSubs[key]
	requireT.True(exists)
	_, registered := subs[wire.NodeId(5)]
	requireT.True(registered, "the root must still register the immediate sender as a downstream subscriber")
}

// TestOnAckCoinFlipCachedPerSeq checks that repeated overheard copies of the
// same ACK do not re-roll the probabilistic relay decision.
func TestOnAckCoinFlipCachedPerSeq(t *testing.T) {
	requireT := require.New(t)

	bus := buslink.NewBus()
	l := bus.Attach("n1")

	s := New(Config{NodeID: 2}, l, nil)

	key := GroupKey{Group: 1, SrcNode: 100}
	s.tables.reversePath[key] = &reversePathEntry{nextHop: 3}
	// Three distinct neighbors heard this tree's traffic, so a ProbRelay of
	// 150 scales down to a real (non-trivial) 50% coin flip instead of an
	// always-true/always-false edge case.
	s.tables.distance[key] = &distanceEntry{sources: map[wire.NodeId]struct{}{4: {}, 5: {}, 6: {}}}
	// The coin-flip branch is only reachable once this node has itself seen
	// the ADVERTISE the ACK answers.
	s.tables.advSeen[key] = map[wire.SeqNum]advSeenEntry{7: {}}

	ack := &wire.Ack{Group: 1, SrcNode: 100, Seq: 7, ObligatoryRelay: 9, ProbRelay: 150}

	s.onAck(time.Now(), 5, ack)
	first, exists := s.tables.coinFlip[key]
	requireT.True(exists)
	requireT.Equal(wire.SeqNum(7), first.seq)

	// A second, overheard copy of the exact same ACK (from a different
	// neighbor) must reuse the cached decision rather than re-rolling.
	s.onAck(time.Now(), 6, ack)
	second := s.tables.coinFlip[key]
	requireT.Equal(first, second)
}

// TestOnAckWithoutSeenAdvertiseNeitherRelaysNorRegisters checks that a node
// which is neither the GID source nor the named obligatory relay, and has
// never itself seen the ADVERTISE this ACK answers, does not coin-flip at
// all: it must not forward the ACK, and — since it never decided to relay —
// it must not record the sender as a downstream subscriber either. Without
// this precondition, a node with no path into the tree could still end up
// flooding ACK-mode DATA it was never elected to carry.
func TestOnAckWithoutSeenAdvertiseNeitherRelaysNorRegisters(t *testing.T) {
	requireT := require.New(t)

	bus := buslink.NewBus()
	l := bus.Attach("n1")

	s := New(Config{NodeID: 2}, l, nil)

	key := GroupKey{Group: 1, SrcNode: 100}
	s.tables.reversePath[key] = &reversePathEntry{nextHop: 3}

	ack := &wire.Ack{Group: 1, SrcNode: 100, Seq: 7, ObligatoryRelay: 9, ProbRelay: 200}
	s.onAck(time.Now(), 5, ack)
	runPendingEvents(s, 300*time.Millisecond)

	_, coinFlipped := s.tables.coinFlip[key]
	requireT.False(coinFlipped, "must not coin-flip without having seen the advertise")

	_, acked := s.tables.ackSent[key]
	requireT.False(acked, "must not relay without having seen the advertise")

	requireT.Empty(s.tables.remoteSubs[key], "must not register a phantom downstream subscriber")
}

// TestOnAckGroupNodeDoesNotReforwardObligatoryAck checks the !groupNode
// guard: a group participant (it has a local subscriber) named as the
// obligatory relay still registers the sender as a downstream subscriber,
// but never emits its own forwarded copy of the ACK, since it already
// scheduled one directly off the ADVERTISE via maybeSendAck.
func TestOnAckGroupNodeDoesNotReforwardObligatoryAck(t *testing.T) {
	requireT := require.New(t)

	bus := buslink.NewBus()
	l := bus.Attach("gn")

	s := New(Config{NodeID: 2}, l, nil)
	s.tables.localSubs[1] = map[*session]struct{}{newSession(nil, s): {}}

	key := GroupKey{Group: 1, SrcNode: 100}
	s.tables.reversePath[key] = &reversePathEntry{nextHop: 3}

	ack := &wire.Ack{Group: 1, SrcNode: 100, Seq: 7, ObligatoryRelay: 2, ProbRelay: 0}
	s.onAck(time.Now(), 5, ack)
	runPendingEvents(s, 300*time.Millisecond)

	_, acked := s.tables.ackSent[key]
	requireT.False(acked, "a group participant must not re-forward an ACK it already scheduled directly")

	subs, exists := s.tables.remoteSubs[key]
	requireT.True(exists)
	_, registered := subs[wire.NodeId(5)]
	requireT.True(registered, "the sender is still a real downstream subscriber regardless of the group-node guard")
}
