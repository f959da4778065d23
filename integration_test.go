package gcn_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/parallel"
	"github.com/outofforest/qa"

	"github.com/outofforest/gcn"
	"github.com/outofforest/gcn/clientlib"
	"github.com/outofforest/gcn/link/buslink"
	"github.com/outofforest/gcn/wire"
)

func startNode(t *testing.T, group *qa.Group, id uint64, addr string, l *buslink.Link) *gcn.Service {
	t.Helper()

	svc := gcn.New(gcn.Config{
		NodeID:       wire.NodeId(id),
		LocalAddr:    addr,
		HashInterval: 20 * time.Millisecond,
		PullInterval: 20 * time.Millisecond,
		PathInterval: 20 * time.Millisecond,
	}, l, nil)

	group.Spawn("node", parallel.Fail, svc.Run)
	return svc
}

// TestDataFloodsAcrossRelayToSubscriber builds a three-node line (source ->
// relay -> sink), has the source advertise and send DATA, and checks the
// sink's client receives it despite the relay being the only path.
func TestDataFloodsAcrossRelayToSubscriber(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	bus := buslink.NewBus()
	source := bus.Attach("source")
	relay := bus.Attach("relay")
	sink := bus.Attach("sink")
	bus.Connect("source", "relay")
	bus.Connect("relay", "sink")

	startNode(t, group, 1, "127.0.0.1:18571", source)
	startNode(t, group, 2, "127.0.0.1:18572", relay)
	startNode(t, group, 3, "127.0.0.1:18573", sink)

	// Give the accept loops a moment to start listening.
	time.Sleep(50 * time.Millisecond)

	const group1 wire.GroupId = 42

	received := make(chan []byte, 1)
	sinkClient, err := clientlib.Start(ctx, clientlib.Config{
		ServerAddr: "127.0.0.1:18573",
		Group:      group1,
		Pull:       true,
	}, func(srcNode wire.NodeId, payload []byte) {
		received <- payload
	})
	requireT.NoError(err)
	defer sinkClient.Stop()

	sourceClient, err := clientlib.Start(ctx, clientlib.Config{
		ServerAddr:   "127.0.0.1:18571",
		Group:        group1,
		Advertise:    true,
		SrcTTL:       4,
		AnnounceRate: 50 * time.Millisecond,
	}, nil)
	requireT.NoError(err)
	defer sourceClient.Stop()

	// Let at least one ADVERTISE/ACK round complete before sending DATA, so
	// the relay has a reverse path and the sink has registered as a puller.
	time.Sleep(800 * time.Millisecond)

	requireT.NoError(sourceClient.SendMessage(group1, []byte("hello"), 0))

	select {
	case payload := <-received:
		requireT.Equal([]byte("hello"), payload)
	case <-time.After(2 * time.Second):
		t.Fatal("data was not delivered to sink within timeout")
	}
}

// TestAckModeDataReachesSubscriberAcrossRelay builds the same three-node
// line as TestDataFloodsAcrossRelayToSubscriber but with the source in
// AckMode: DATA carries no src_ttl, so delivery can only happen if the
// relay has actually registered a downstream subscriber through the
// ADVERTISE/ACK exchange (remoteSubs), not through an unconditional flood.
// A relay with no such registration would silently drop the frame per
// invariant #6 (tree safety) — see TestOnDataAckModeRequiresGroupOrSubscriber
// for the same gate exercised directly against Service.
func TestAckModeDataReachesSubscriberAcrossRelay(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	bus := buslink.NewBus()
	source := bus.Attach("ack-source")
	relay := bus.Attach("ack-relay")
	sink := bus.Attach("ack-sink")
	bus.Connect("ack-source", "ack-relay")
	bus.Connect("ack-relay", "ack-sink")

	startNode(t, group, 101, "127.0.0.1:18591", source)
	startNode(t, group, 102, "127.0.0.1:18592", relay)
	startNode(t, group, 103, "127.0.0.1:18593", sink)

	time.Sleep(50 * time.Millisecond)

	const group1 wire.GroupId = 55

	received := make(chan []byte, 1)
	sinkClient, err := clientlib.Start(ctx, clientlib.Config{
		ServerAddr: "127.0.0.1:18593",
		Group:      group1,
		Pull:       true,
	}, func(srcNode wire.NodeId, payload []byte) {
		received <- payload
	})
	requireT.NoError(err)
	defer sinkClient.Stop()

	sourceClient, err := clientlib.Start(ctx, clientlib.Config{
		ServerAddr:   "127.0.0.1:18591",
		Group:        group1,
		Advertise:    true,
		AckMode:      true,
		SrcTTL:       4,
		AnnounceRate: 50 * time.Millisecond,
	}, nil)
	requireT.NoError(err)
	defer sourceClient.Stop()

	// Let the ADVERTISE/ACK exchange build the tree (sink's ACK must reach
	// the relay and register it as a downstream subscriber) before the
	// source is allowed to send at all.
	deadline := time.After(2 * time.Second)
	for !sourceClient.HasSubscriber() {
		select {
		case <-deadline:
			t.Fatal("source never learned it has a downstream subscriber")
		case <-time.After(20 * time.Millisecond):
		}
	}

	requireT.NoError(sourceClient.SendMessage(group1, []byte("acked"), 0))

	select {
	case payload := <-received:
		requireT.Equal([]byte("acked"), payload)
	case <-time.After(2 * time.Second):
		t.Fatal("ack-mode data was not delivered to sink within timeout")
	}
}

// TestUnicastDataReachesDestination sends a unicast DATA frame across a
// two-node link and checks it is delivered. B advertises itself as a
// source first, purely so A learns a distance entry toward B's tree: a
// node can only derive an outgoing relay_distance, and so send unicast DATA
// at all, toward a destination it has a recorded distance to.
func TestUnicastDataReachesDestination(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	bus := buslink.NewBus()
	a := bus.Attach("a")
	b := bus.Attach("b")
	bus.Connect("a", "b")

	startNode(t, group, 10, "127.0.0.1:18581", a)
	startNode(t, group, 20, "127.0.0.1:18582", b)

	time.Sleep(50 * time.Millisecond)

	const groupID wire.GroupId = 7

	received := make(chan []byte, 1)
	clientB, err := clientlib.Start(ctx, clientlib.Config{
		ServerAddr:   "127.0.0.1:18582",
		Group:        groupID,
		Pull:         true,
		Advertise:    true,
		SrcTTL:       2,
		AnnounceRate: 50 * time.Millisecond,
	}, func(srcNode wire.NodeId, payload []byte) {
		received <- payload
	})
	requireT.NoError(err)
	defer clientB.Stop()

	clientA, err := clientlib.Start(ctx, clientlib.Config{
		ServerAddr: "127.0.0.1:18581",
		Group:      groupID,
	}, nil)
	requireT.NoError(err)
	defer clientA.Stop()

	// Let at least one ADVERTISE round reach A so it has a distance entry
	// for B's tree to bias an outgoing relay_distance from.
	time.Sleep(300 * time.Millisecond)

	requireT.NoError(clientA.SendMessage(groupID, []byte("direct"), wire.NodeId(20)))

	select {
	case payload := <-received:
		requireT.Equal([]byte("direct"), payload)
	case <-time.After(2 * time.Second):
		t.Fatal("unicast data was not delivered within timeout")
	}
}
