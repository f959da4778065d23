package gcn

import (
	"time"

	"github.com/outofforest/gcn/wire"
)

// isGroupNode reports whether this node is a participant in a group for the
// purposes of DATA forwarding: it has at least one local subscriber, or it
// is itself announcing as a source. Grounded on processNetworkData's
// groupNode = mLocalPullTable.count(gid) || mAnnounceTable.count(gid).
func (s *Service) isGroupNode(group wire.GroupId) bool {
	return len(s.tables.localSubs[group]) > 0 || s.tables.announce[group] != nil
}

// unicastRelayBias converts a resilience tier into the distance bias applied
// when an originator derives its outgoing relay_distance from its own
// recorded distance to the unicast destination's tree.
func unicastRelayBias(r wire.UnicastResilience) int {
	switch r {
	case wire.ResilienceHigh:
		return 1
	case wire.ResilienceMedium:
		return 0
	default:
		return -1
	}
}

// clientSendData originates a DATA frame from a local client session; owner
// supplies the per-group sequence numbering.
func (s *Service) clientSendData(owner *session, ctl *wire.DataCtl) {
	seq := owner.nextDataSeq(ctl.Group)

	ttl := ctl.SrcTTL
	if !ctl.HasSrcTTL {
		// ADVERTISE/ACK mode: ttl only ever matters as a flood-mode
		// fallback, so the minimum is handed out (it lands at 0 once a
		// relay forwards it).
		ttl = 1
	}

	d := wire.Data{
		Group:     ctl.Group,
		SrcNode:   s.config.NodeID,
		Seq:       seq,
		HasSrcTTL: ctl.HasSrcTTL,
		SrcTTL:    ctl.SrcTTL,
		TTL:       ttl,
		Distance:  0,
		RegenTTL:  ctl.RegenTTL,
		Payload:   ctl.Payload,
	}
	if ctl.HasUnicast {
		distKey := GroupKey{Group: ctl.Group, SrcNode: ctl.Dest}
		entry, exists := s.tables.distance[distKey]
		if !exists || entry.distance == 0 {
			// No known path to the destination's tree yet: nothing to bias
			// a relay distance off of, so drop rather than send a frame no
			// relay downstream could act on.
			return
		}

		relayDistance := int(entry.distance) + unicastRelayBias(ctl.Resilience)
		if relayDistance < 0 {
			relayDistance = 0
		}

		d.HasUnicast = true
		d.Unicast = wire.UnicastHeader{
			Dest:          ctl.Dest,
			RelayDistance: uint32(relayDistance),
			Resilience:    ctl.Resilience,
		}
	}

	key := GroupKey{Group: ctl.Group, SrcNode: s.config.NodeID}
	now := time.Now()
	bucket := timeBucket(now, s.config.HashInterval)
	hash := hashData(&d)
	if _, exists := s.getMaxTTLfromHash(hash); !exists {
		s.addToHash(hash, d.TTL, bucket)
	}
	s.updateDistance(key, hash, 0, s.config.NodeID, false)

	s.sendOTA(wire.FrameClassData, &wire.OTAMessage{Datas: []wire.Data{d}})
	if s.trace != nil {
		s.trace.SentData(now, ctl.Group, s.config.NodeID, seq, d.TTL)
	}
}

// onData is C5's DATA ingress: suppress duplicates via the fingerprint
// table shared with ADVERTISE, deliver to local subscribers, and forward —
// by flood for broadcast frames, by bounded relay election for unicast
// frames addressed elsewhere.
func (s *Service) onData(now time.Time, origin wire.NodeId, d *wire.Data) {
	if d.HasUnicast {
		s.stats.RecvCountDataUn++
	} else {
		s.stats.RecvCountData++
	}

	if d.SrcNode == s.config.NodeID {
		// Our own DATA, looped back by a neighbor.
		return
	}

	key := GroupKey{Group: d.Group, SrcNode: d.SrcNode}
	hash := hashData(d)
	bucket := timeBucket(now, s.config.HashInterval)

	var isNew bool
	if _, exists := s.getMaxTTLfromHash(hash); !exists {
		s.addToHash(hash, d.TTL, bucket)
		isNew = true
	}

	s.updateDistance(key, hash, d.Distance+1, origin, false)

	if d.HasUnicast {
		s.onUnicastData(key, d, isNew)
		return
	}

	if isNew {
		s.deliverLocal(d.Group, d)
		if s.trace != nil {
			s.trace.RcvData(now, d.Group, d.SrcNode, d.Seq, d.TTL)
		}
	}

	fwd, shouldForward := s.dataBroadcastForward(key, d, hash, bucket, isNew)
	if !shouldForward {
		return
	}

	s.sendOTA(wire.FrameClassData, &wire.OTAMessage{Datas: []wire.Data{fwd}})
	s.stats.FwdCount++
}

// dataBroadcastForward decides whether, and with what fields, a received
// broadcast DATA frame is re-flooded. It mirrors processNetworkData's split
// on usingAck (no src_ttl) and, within flood mode, on groupNode: a group
// node forwards at most once per round, regenerating ttl unless configured
// not to; a non-group node forwards on the ttl budget alone, and may
// re-flood a fingerprint it already forwarded if a copy arrives with a
// higher ttl, resetting distance to the value on record for this source.
func (s *Service) dataBroadcastForward(key GroupKey, d *wire.Data, hash wire.HashValue, bucket int64, isNew bool) (wire.Data, bool) {
	groupNode := s.isGroupNode(d.Group)
	usingAck := !d.HasSrcTTL

	fwd := *d
	fwd.Distance++

	if usingAck {
		if !isNew {
			return fwd, false
		}
		if !((groupNode && s.config.AlwaysRebroadcast) || len(s.tables.remoteSubs[key]) > 0) {
			return fwd, false
		}
		// Relay election, not ttl, bounds an ADVERTISE/ACK tree: the
		// forwarded copy's ttl is meaningless and lands at 0.
		fwd.TTL = 0
		return fwd, true
	}

	if groupNode {
		if !isNew {
			return fwd, false
		}
		if d.RegenTTL {
			fwd.TTL = d.SrcTTL
			return fwd, true
		}
		if d.TTL == 0 {
			return fwd, false
		}
		fwd.TTL = d.TTL - 1
		return fwd, true
	}

	if d.TTL == 0 {
		return fwd, false
	}
	if isNew {
		fwd.TTL = d.TTL - 1
		return fwd, true
	}

	existingTTL, _ := s.getMaxTTLfromHash(hash)
	if d.TTL <= existingTTL {
		return fwd, false
	}
	s.changeMaxTTL(hash, d.TTL, bucket)
	if entry, exists := s.tables.distance[key]; exists {
		fwd.Distance = entry.distance
	}
	fwd.TTL = d.TTL - 1
	return fwd, true
}

// onUnicastData handles a unicast DATA frame once the shared hash/distance
// bookkeeping in onData has run: deliver directly if this node is the
// destination, otherwise relay only if this node's recorded distance to the
// destination's tree is positive and within the frame's relay_distance
// budget and the ADVERTISE/ACK-mode or flood-mode rule below also allows
// it, rewriting that budget to distance-1 on every hop. Grounded on
// processNetworkData's uheader branch.
func (s *Service) onUnicastData(key GroupKey, d *wire.Data, isNew bool) {
	if d.Unicast.Dest == s.config.NodeID {
		if isNew {
			s.deliverUnicast(d.Group, d)
		}
		return
	}

	if !isNew {
		return
	}

	distKey := GroupKey{Group: d.Group, SrcNode: d.Unicast.Dest}
	var myDistance uint32
	if entry, exists := s.tables.distance[distKey]; exists {
		myDistance = entry.distance
	}
	if myDistance == 0 || myDistance > d.Unicast.RelayDistance {
		return
	}

	groupNode := s.isGroupNode(d.Group)
	usingAck := !d.HasSrcTTL

	fwd := *d
	fwd.Distance++
	fwd.Unicast.RelayDistance = myDistance - 1

	var relay bool
	switch {
	case usingAck:
		relay = (groupNode && s.config.AlwaysRebroadcast) || len(s.tables.remoteSubs[key]) > 0
		fwd.TTL = 0
	case d.TTL != 0 && (!groupNode || !d.RegenTTL):
		relay = true
		fwd.TTL = d.TTL - 1
	case groupNode:
		relay = true
		fwd.TTL = d.SrcTTL
	}

	if !relay {
		return
	}

	s.sendOTA(wire.FrameClassData, &wire.OTAMessage{Datas: []wire.Data{fwd}})
	s.stats.FwdCountUni++
}

// deliverLocal hands a DATA frame's payload to every local session
// subscribed to group.
func (s *Service) deliverLocal(group wire.GroupId, d *wire.Data) {
	subs := s.tables.localSubs[group]
	if len(subs) == 0 {
		return
	}
	for sess := range subs {
		sess.deliverData(d)
		s.stats.ClientRcvCount++
	}
}

// deliverUnicast hands a unicast DATA frame addressed to this node to every
// local subscriber, and additionally to the session announcing group (if
// any): a pure source that only advertises, never pulls, still needs to
// receive reverse-path unicast responses addressed to it. Skips the
// announce owner if it is already among localSubs, to avoid delivering the
// same frame to the same session twice.
func (s *Service) deliverUnicast(group wire.GroupId, d *wire.Data) {
	subs := s.tables.localSubs[group]
	for sess := range subs {
		sess.deliverData(d)
		s.stats.ClientRcvCount++
	}

	if entry, exists := s.tables.announce[group]; exists {
		if _, alreadyDelivered := subs[entry.owner]; !alreadyDelivered {
			entry.owner.deliverData(d)
			s.stats.ClientRcvCount++
		}
	}
}
