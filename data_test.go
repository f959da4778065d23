package gcn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/gcn/link/buslink"
	"github.com/outofforest/gcn/wire"
)

// TestOnUnicastDataRequiresOwnDistanceToDestination checks that a node with
// no recorded distance to a unicast destination's tree never relays for it,
// regardless of the frame's relay_distance budget or any registered
// downstream subscriber.
func TestOnUnicastDataRequiresOwnDistanceToDestination(t *testing.T) {
	requireT := require.New(t)

	bus := buslink.NewBus()
	l := bus.Attach("mid")

	s := New(Config{NodeID: 2}, l, nil)

	key := GroupKey{Group: 1, SrcNode: 100}
	s.tables.remoteSubs[key] = map[wire.NodeId]*remoteSubEntry{9: {lastSeen: time.Now()}}

	d := &wire.Data{
		Group: 1, SrcNode: 100, Seq: 1, TTL: 4,
		HasUnicast: true,
		Unicast:    wire.UnicastHeader{Dest: 99, RelayDistance: 8, Resilience: wire.ResilienceLow},
	}

	s.onUnicastData(key, d, true)

	requireT.Equal(uint64(0), s.stats.FwdCountUni, "a node with no distance entry toward the destination must not relay")
}

// TestOnUnicastDataRelaysWithinRelayDistanceBudget checks the distance-
// compare rule: a relay with a recorded distance within the frame's
// relay_distance forwards, rewriting the budget to distance-1.
func TestOnUnicastDataRelaysWithinRelayDistanceBudget(t *testing.T) {
	requireT := require.New(t)

	bus := buslink.NewBus()
	l := bus.Attach("mid")

	s := New(Config{NodeID: 2}, l, nil)

	key := GroupKey{Group: 1, SrcNode: 100}
	s.tables.remoteSubs[key] = map[wire.NodeId]*remoteSubEntry{9: {lastSeen: time.Now()}}
	destKey := GroupKey{Group: 1, SrcNode: 99}
	s.tables.distance[destKey] = &distanceEntry{distance: 3}

	d := &wire.Data{
		Group: 1, SrcNode: 100, Seq: 1, TTL: 4,
		HasUnicast: true,
		Unicast:    wire.UnicastHeader{Dest: 99, RelayDistance: 8, Resilience: wire.ResilienceLow},
	}

	s.onUnicastData(key, d, true)

	requireT.Equal(uint64(1), s.stats.FwdCountUni)
}

// TestOnUnicastDataDoesNotRelayBeyondRelayDistanceBudget checks that a
// recorded distance exceeding the frame's relay_distance stops the relay,
// the S5 tree-safety bound.
func TestOnUnicastDataDoesNotRelayBeyondRelayDistanceBudget(t *testing.T) {
	requireT := require.New(t)

	bus := buslink.NewBus()
	l := bus.Attach("mid")

	s := New(Config{NodeID: 2}, l, nil)

	key := GroupKey{Group: 1, SrcNode: 100}
	s.tables.remoteSubs[key] = map[wire.NodeId]*remoteSubEntry{9: {lastSeen: time.Now()}}
	destKey := GroupKey{Group: 1, SrcNode: 99}
	s.tables.distance[destKey] = &distanceEntry{distance: 9}

	d := &wire.Data{
		Group: 1, SrcNode: 100, Seq: 1, TTL: 4,
		HasUnicast: true,
		Unicast:    wire.UnicastHeader{Dest: 99, RelayDistance: 8, Resilience: wire.ResilienceLow},
	}

	s.onUnicastData(key, d, true)

	requireT.Equal(uint64(0), s.stats.FwdCountUni)
}

// TestOnUnicastDataDeliversDirectlyToDestination checks that delivery to
// the addressed node happens on a new copy, independent of relay-election
// state.
func TestOnUnicastDataDeliversDirectlyToDestination(t *testing.T) {
	requireT := require.New(t)

	bus := buslink.NewBus()
	l := bus.Attach("dest")

	s := New(Config{NodeID: 99}, l, nil)

	sess := newSession(nil, s)
	s.tables.localSubs[1] = map[*session]struct{}{sess: {}}

	key := GroupKey{Group: 1, SrcNode: 100}
	d := &wire.Data{
		Group: 1, SrcNode: 100, Seq: 1, TTL: 4, Payload: []byte("hi"),
		HasUnicast: true,
		Unicast:    wire.UnicastHeader{Dest: 99, RelayDistance: 8, Resilience: wire.ResilienceLow},
	}

	s.onUnicastData(key, d, true)

	requireT.Equal(uint64(1), s.stats.ClientRcvCount)
	select {
	case msg := <-sess.outbound:
		requireT.Len(msg.Datas, 1)
		requireT.Equal([]byte("hi"), msg.Datas[0].Payload)
	default:
		t.Fatal("expected payload queued for delivery")
	}
}

// TestOnUnicastDataDeliversToPureSourceAnnounceOwner checks that a unicast
// DATA frame addressed to this node also reaches the session announcing the
// group, even when that session has no local subscription of its own: a
// pure source (announces but never pulls) must still receive reverse-path
// unicast responses addressed to it.
func TestOnUnicastDataDeliversToPureSourceAnnounceOwner(t *testing.T) {
	requireT := require.New(t)

	bus := buslink.NewBus()
	l := bus.Attach("dest")

	s := New(Config{NodeID: 99}, l, nil)

	ownerSess := newSession(nil, s)
	s.tables.announce[1] = &announceEntry{owner: ownerSess}

	key := GroupKey{Group: 1, SrcNode: 100}
	d := &wire.Data{
		Group: 1, SrcNode: 100, Seq: 1, TTL: 4, Payload: []byte("reply"),
		HasUnicast: true,
		Unicast:    wire.UnicastHeader{Dest: 99, RelayDistance: 8, Resilience: wire.ResilienceLow},
	}

	s.onUnicastData(key, d, true)

	requireT.Equal(uint64(1), s.stats.ClientRcvCount)
	select {
	case msg := <-ownerSess.outbound:
		requireT.Len(msg.Datas, 1)
		requireT.Equal([]byte("reply"), msg.Datas[0].Payload)
	default:
		t.Fatal("a pure source announcing the group must still receive a unicast response addressed to it")
	}
}

// TestOnUnicastDataDoesNotDoubleDeliverSameSession checks that a session
// which both pulls and announces the same group receives a unicast DATA
// frame addressed to it exactly once, not twice.
func TestOnUnicastDataDoesNotDoubleDeliverSameSession(t *testing.T) {
	requireT := require.New(t)

	bus := buslink.NewBus()
	l := bus.Attach("dest")

	s := New(Config{NodeID: 99}, l, nil)

	sess := newSession(nil, s)
	s.tables.localSubs[1] = map[*session]struct{}{sess: {}}
	s.tables.announce[1] = &announceEntry{owner: sess}

	key := GroupKey{Group: 1, SrcNode: 100}
	d := &wire.Data{
		Group: 1, SrcNode: 100, Seq: 1, TTL: 4, Payload: []byte("hi"),
		HasUnicast: true,
		Unicast:    wire.UnicastHeader{Dest: 99, RelayDistance: 8, Resilience: wire.ResilienceLow},
	}

	s.onUnicastData(key, d, true)

	requireT.Equal(uint64(1), s.stats.ClientRcvCount, "a session that both pulls and announces must be delivered to once, not twice")
}

// TestOnDataAckModeRequiresGroupOrSubscriber checks invariant #6 (tree
// safety): a node with no local subscriber, no announce entry, and no
// registered downstream subscriber for a source's tree never floods an
// ADVERTISE/ACK-mode (no src_ttl) broadcast DATA frame, even though it is
// new to the hash and would otherwise be forwarded unconditionally.
func TestOnDataAckModeRequiresGroupOrSubscriber(t *testing.T) {
	requireT := require.New(t)

	bus := buslink.NewBus()
	l := bus.Attach("mid")

	s := New(Config{NodeID: 2}, l, nil)

	d := &wire.Data{Group: 1, SrcNode: 100, Seq: 1, TTL: 4, Payload: []byte("x")}

	s.onData(time.Now(), 3, d)

	requireT.Equal(uint64(0), s.stats.FwdCount, "a non-relay node must not flood ADVERTISE/ACK-mode DATA")
}

// TestOnDataAckModeForwardsForRegisteredSubscriber checks the complementary
// case: once this node has a registered downstream subscriber for the
// source's tree, the same frame is forwarded.
func TestOnDataAckModeForwardsForRegisteredSubscriber(t *testing.T) {
	requireT := require.New(t)

	bus := buslink.NewBus()
	l := bus.Attach("mid")

	s := New(Config{NodeID: 2}, l, nil)

	key := GroupKey{Group: 1, SrcNode: 100}
	s.tables.remoteSubs[key] = map[wire.NodeId]*remoteSubEntry{9: {lastSeen: time.Now()}}

	d := &wire.Data{Group: 1, SrcNode: 100, Seq: 1, TTL: 4, Payload: []byte("x")}

	s.onData(time.Now(), 3, d)

	requireT.Equal(uint64(1), s.stats.FwdCount)
}

// TestOnDataFloodModeGroupNodeRegeneratesTTL checks that a group node
// forwards a flood-mode (src_ttl present) DATA frame once per round,
// regenerating ttl from src_ttl when configured to.
func TestOnDataFloodModeGroupNodeRegeneratesTTL(t *testing.T) {
	requireT := require.New(t)

	bus := buslink.NewBus()
	l := bus.Attach("mid")

	s := New(Config{NodeID: 2}, l, nil)
	s.tables.localSubs[1] = map[*session]struct{}{newSession(nil, s): {}}

	d := &wire.Data{Group: 1, SrcNode: 100, Seq: 1, HasSrcTTL: true, SrcTTL: 6, TTL: 1, RegenTTL: true}

	s.onData(time.Now(), 3, d)

	requireT.Equal(uint64(1), s.stats.FwdCount)
}
