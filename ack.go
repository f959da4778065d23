package gcn

import (
	"fmt"
	"time"

	"github.com/outofforest/gcn/wire"
)

// maybeSendAck schedules an ACK back toward a source's tree if this node
// has any reason to want that source's DATA relayed to it: a local
// subscriber, or a downstream neighbor that has already ACKed through it.
// At most one ACK is sent per (key, seq).
func (s *Service) maybeSendAck(now time.Time, key GroupKey, seq wire.SeqNum, probRelay uint32) {
	hasLocal := len(s.tables.localSubs[key.Group]) > 0
	hasRemote := len(s.tables.remoteSubs[key]) > 0
	if !hasLocal && !hasRemote {
		return
	}

	if sent, exists := s.tables.ackSent[key]; exists && sent.seq == seq {
		return
	}

	jitter := ackJitterMin + jitterDuration(s.rng, ackJitterMax-ackJitterMin)
	timerKey := fmt.Sprintf("ack:%d:%d", key.Group, key.SrcNode)
	s.armTimer(timerKey, jitter, func(svc *Service) {
		rp, exists := svc.tables.reversePath[key]
		if !exists {
			return
		}
		svc.tables.ackSent[key] = ackSentEntry{seq: seq}
		ack := wire.Ack{
			Group:           key.Group,
			SrcNode:         key.SrcNode,
			Seq:             seq,
			ObligatoryRelay: rp.nextHop,
			ProbRelay:       probRelay,
		}
		svc.sendOTA(wire.FrameClassCtrl, &wire.OTAMessage{Acks: []wire.Ack{ack}})
		if svc.trace != nil {
			svc.trace.SentAck(now, key.Group, key.SrcNode, seq)
		}
	})
}

// coinFlip reports success with probability prob/100 (prob>=100 always
// succeeds), the Go analogue of rand()%100 < prob.
func (s *Service) coinFlip(prob uint32) bool {
	if prob >= 100 {
		return true
	}
	return uint32(s.rng.Intn(100)) < prob
}

// addRemoteSub records node as a downstream subscriber for key's tree. This
// must only be called once the caller has actually decided to relay for
// node's sake (it is the GID source, the obligatory relay, or it won the
// coin flip) — recording every overheard ACK regardless of disposition
// would make every listening node a phantom relay.
func (s *Service) addRemoteSub(key GroupKey, node wire.NodeId, now time.Time) {
	subs, exists := s.tables.remoteSubs[key]
	if !exists {
		subs = map[wire.NodeId]*remoteSubEntry{}
		s.tables.remoteSubs[key] = subs
	}
	if sub, exists := subs[node]; exists {
		sub.lastSeen = now
	} else {
		subs[node] = &remoteSubEntry{lastSeen: now}
	}
}

// onAck is C4's ACK ingress: decide whether this ACK reflects an actual
// relay decision and, if so, register the sender as a downstream subscriber
// and relay the ACK one more hop toward the source. Relaying is
// unconditional for the obligatory relay (the neighbor literally named on
// the reverse path); every other neighbor that overhears the broadcast
// relays only if it has itself seen the ADVERTISE this ACK answers, and then
// only with probability ProbRelay. A ProbRelay above 100 is a per-neighbor
// figure: it is divided by the number of distinct neighbors seen for this
// tree so the aggregate relay rate does not grow with neighbor density.
// A group participant never relays an overheard ACK:
// it already scheduled its own ACK off the ADVERTISE directly.
func (s *Service) onAck(now time.Time, origin wire.NodeId, ack *wire.Ack) {
	s.stats.RecvCountAck++

	key := GroupKey{Group: ack.Group, SrcNode: ack.SrcNode}

	if ack.SrcNode == s.config.NodeID {
		// We are this tree's root: every ACK that reaches us is from a
		// genuine downstream subscriber, and there is no upstream to relay
		// to. The owning client needs to learn it now has one.
		s.addRemoteSub(key, origin, now)
		if entry, exists := s.tables.announce[key.Group]; exists && !entry.pullForwarded {
			entry.pullForwarded = true
			entry.owner.pushPull(key.Group)
		}
		return
	}

	obligatory := ack.ObligatoryRelay == s.config.NodeID
	groupNode := s.isGroupNode(ack.Group)

	var relay bool
	defer func() {
		if s.trace != nil {
			s.trace.RcvAck(now, s.config.NodeID, origin, ack.Group, ack.Seq, ack.SrcNode, ack.ObligatoryRelay, relay)
		}
	}()

	if obligatory {
		relay = true
	} else if perKey, exists := s.tables.advSeen[key]; exists {
		if _, seenAdv := perKey[ack.Seq]; seenAdv {
			if cf, exists := s.tables.coinFlip[key]; exists && cf.seq == ack.Seq {
				relay = cf.result
			} else {
				prob := ack.ProbRelay
				if prob > 100 {
					n := uint32(1)
					if d, exists := s.tables.distance[key]; exists && len(d.sources) > 0 {
						n = uint32(len(d.sources))
					}
					prob /= n
				}
				relay = s.coinFlip(prob)
				s.tables.coinFlip[key] = coinFlipEntry{seq: ack.Seq, result: relay}
			}
		}
	}

	if relay {
		s.addRemoteSub(key, origin, now)
	}

	if !relay || groupNode {
		return
	}

	rp, exists := s.tables.reversePath[key]
	if !exists {
		return
	}

	if sent, exists := s.tables.ackSent[key]; exists && sent.seq == ack.Seq {
		return
	}

	fwd := wire.Ack{
		Group:           ack.Group,
		SrcNode:         ack.SrcNode,
		Seq:             ack.Seq,
		ObligatoryRelay: rp.nextHop,
		ProbRelay:       ack.ProbRelay,
	}

	jitter := ackJitterMin + jitterDuration(s.rng, ackJitterMax-ackJitterMin)
	timerKey := fmt.Sprintf("ackfwd:%d:%d:%d", ack.Group, ack.SrcNode, ack.Seq)
	s.armTimer(timerKey, jitter, func(svc *Service) {
		svc.tables.ackSent[key] = ackSentEntry{seq: ack.Seq}
		svc.sendOTA(wire.FrameClassCtrl, &wire.OTAMessage{Acks: []wire.Ack{fwd}})
		svc.stats.FwdCount++
	})
}
