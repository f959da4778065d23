package gcn

import (
	"time"

	"github.com/outofforest/gcn/wire"
)

// GroupKey identifies a group's tree as rooted at a particular source node.
// Most per-tree tables are keyed by it; no ordering is defined on it.
type GroupKey struct {
	Group   wire.GroupId
	SrcNode wire.NodeId
}

type hashEntry struct {
	ttl    uint32
	bucket int64
}

type advSeenEntry struct {
	bucket int64
}

// distanceEntry tracks, for one source's tree, the last-seen fingerprint
// and hop distance, plus every neighbor that frame was heard from this
// round (ota_sources) — used to scale the probabilistic relay rate per
// neighbor.
type distanceEntry struct {
	hash        wire.HashValue
	distance    uint32
	packetCount uint64
	sources     map[wire.NodeId]struct{}
}

// reversePathEntry records the neighbor the first copy of the most recently
// started ADVERTISE round for a source's tree was heard from, i.e. this
// node's next hop toward that source.
type reversePathEntry struct {
	nextHop       wire.NodeId
	distance      uint32
	lastSeen      time.Time
	lastSeq       wire.SeqNum
	lastProbRelay uint32
}

// remoteSubEntry marks a neighbor as a downstream subscriber this node
// must keep re-broadcasting a source's DATA toward.
type remoteSubEntry struct {
	lastSeen time.Time
}

type ackSentEntry struct {
	seq wire.SeqNum
}

type coinFlipEntry struct {
	seq    wire.SeqNum
	result bool
}

// announceEntry is a group this node advertises on behalf of a local
// client session.
type announceEntry struct {
	srcTTL       uint32
	probRelay    uint32
	regenTTL     bool
	intervalSecs float64
	seq          wire.SeqNum
	owner        *session

	// pullForwarded marks that owner has already been pushed a Pull for
	// this group, so the source client is only told once per subscriber
	// gain/loss cycle.
	pullForwarded bool
}

// tables holds every piece of mutable protocol state owned by the event
// loop. Nothing outside the loop goroutine ever reads or writes these maps.
type tables struct {
	hash        map[wire.HashValue]hashEntry
	hashBuckets map[int64]map[wire.HashValue]struct{}

	advSeen        map[GroupKey]map[wire.SeqNum]advSeenEntry
	advSeenBuckets map[int64]map[GroupKey]wire.SeqNum

	distance    map[GroupKey]*distanceEntry
	reversePath map[GroupKey]*reversePathEntry
	remoteSubs  map[GroupKey]map[wire.NodeId]*remoteSubEntry
	ackSent     map[GroupKey]ackSentEntry
	coinFlip    map[GroupKey]coinFlipEntry

	localSubs map[wire.GroupId]map[*session]struct{}
	announce  map[wire.GroupId]*announceEntry
}

func newTables() *tables {
	return &tables{
		hash:           map[wire.HashValue]hashEntry{},
		hashBuckets:    map[int64]map[wire.HashValue]struct{}{},
		advSeen:        map[GroupKey]map[wire.SeqNum]advSeenEntry{},
		advSeenBuckets: map[int64]map[GroupKey]wire.SeqNum{},
		distance:       map[GroupKey]*distanceEntry{},
		reversePath:    map[GroupKey]*reversePathEntry{},
		remoteSubs:     map[GroupKey]map[wire.NodeId]*remoteSubEntry{},
		ackSent:        map[GroupKey]ackSentEntry{},
		coinFlip:       map[GroupKey]coinFlipEntry{},
		localSubs:      map[wire.GroupId]map[*session]struct{}{},
		announce:       map[wire.GroupId]*announceEntry{},
	}
}

func timeBucket(t time.Time, interval time.Duration) int64 {
	if interval <= 0 {
		return 0
	}
	return t.UnixNano() / int64(interval)
}
