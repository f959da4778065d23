package gcn

import (
	"fmt"
	"time"

	"github.com/outofforest/gcn/wire"
)

// registerAnnounce starts (or updates) this node advertising on behalf of
// owner as a source for ctl.Group, per the local ADVERTISE(REGISTER)
// control-channel operation.
func (s *Service) registerAnnounce(owner *session, ctl *wire.AdvertiseCtl) {
	entry := &announceEntry{
		srcTTL:       ctl.SrcTTL,
		probRelay:    ctl.ProbRelay,
		regenTTL:     ctl.RegenTTL,
		intervalSecs: ctl.IntervalSecs,
		owner:        owner,
	}
	s.tables.announce[ctl.Group] = entry
	s.scheduleAdvertise(ctl.Group)
}

// deregisterAnnounce stops advertising group and cancels its pending
// ADVERTISE timer.
func (s *Service) deregisterAnnounce(group wire.GroupId) {
	delete(s.tables.announce, group)
	s.cancelTimer(advTimerKey(group))
}

func advTimerKey(group wire.GroupId) string {
	return fmt.Sprintf("adv:%d", group)
}

// scheduleAdvertise arms the next periodic ADVERTISE round. intervalSecs<=0
// is the advertise-override mode: this node registers as a source but never
// emits ADVERTISE itself (the tree is seeded some other way), so no timer is
// armed at all, matching setAdvTimer only ever being called when interval>0.
func (s *Service) scheduleAdvertise(group wire.GroupId) {
	entry, exists := s.tables.announce[group]
	if !exists {
		return
	}
	if entry.intervalSecs <= 0 {
		return
	}
	interval := time.Duration(entry.intervalSecs * float64(time.Second))
	s.armTimer(advTimerKey(group), interval, func(svc *Service) {
		svc.emitAdvertise(group)
		svc.scheduleAdvertise(group)
	})
}

// emitAdvertise floods one round of ADVERTISE for a locally announced
// group: a fresh sequence number, full TTL, zero distance from the source.
func (s *Service) emitAdvertise(group wire.GroupId) {
	entry, exists := s.tables.announce[group]
	if !exists {
		return
	}

	entry.seq++
	adv := wire.Advertise{
		Group:     group,
		SrcNode:   s.config.NodeID,
		Seq:       entry.seq,
		SrcTTL:    entry.srcTTL,
		TTL:       entry.srcTTL,
		Distance:  0,
		ProbRelay: entry.probRelay,
		RegenTTL:  entry.regenTTL,
	}

	key := GroupKey{Group: group, SrcNode: s.config.NodeID}
	now := time.Now()
	bucket := timeBucket(now, s.config.HashInterval)
	s.isDuplicateAdvertise(now, key, entry.seq)
	hash := hashAdvertise(&adv)
	if _, exists := s.getMaxTTLfromHash(hash); !exists {
		s.addToHash(hash, adv.TTL, bucket)
	}
	s.updateDistance(key, hash, 0, s.config.NodeID, true)

	s.sendOTA(wire.FrameClassCtrl, &wire.OTAMessage{Advertises: []wire.Advertise{adv}})
	if s.trace != nil {
		s.trace.SentAdv(now, group, s.config.NodeID, entry.seq, adv.TTL)
	}
}

// onAdvertise is C4's ADVERTISE ingress and forwarding logic: suppress
// exact duplicates, re-forward on a TTL upgrade, and otherwise flood a
// jittered, TTL-decremented (or TTL-regenerated) copy to every neighbor
// while recording the reverse path back toward the source.
func (s *Service) onAdvertise(now time.Time, origin wire.NodeId, adv *wire.Advertise) {
	s.stats.RecvCountAdv++

	if adv.SrcNode == s.config.NodeID {
		// Our own advertise, looped back by a neighbor; already recorded
		// when we emitted it, never re-processed or re-forwarded.
		return
	}

	key := GroupKey{Group: adv.Group, SrcNode: adv.SrcNode}
	isNewRound := !s.isDuplicateAdvertise(now, key, adv.Seq)

	hash := hashAdvertise(adv)
	bucket := timeBucket(now, s.config.HashInterval)

	newHash := false
	if _, exists := s.getMaxTTLfromHash(hash); !exists {
		s.addToHash(hash, adv.TTL, bucket)
		newHash = true
	}

	if s.trace != nil {
		s.trace.RcvAdv(now, s.config.NodeID, origin, adv.Group, adv.Seq, adv.SrcNode, adv.TTL, adv.Distance, newHash)
	}

	s.updateDistance(key, hash, adv.Distance+1, origin, true)

	rp, exists := s.tables.reversePath[key]
	if !exists || isNewRound {
		rp = &reversePathEntry{nextHop: origin, distance: adv.Distance + 1}
		s.tables.reversePath[key] = rp
	}
	rp.lastSeen = now
	rp.lastSeq = adv.Seq
	rp.lastProbRelay = adv.ProbRelay

	s.maybeSendAck(now, key, adv.Seq, adv.ProbRelay)

	fwd, shouldForward := s.advertiseForward(key, adv, hash, bucket, newHash)
	if !shouldForward {
		return
	}

	jitter := advForwardJitterMin + jitterDuration(s.rng, advForwardJitterMax-advForwardJitterMin)
	timerKey := fmt.Sprintf("advfwd:%d:%d:%d", adv.Group, adv.SrcNode, adv.Seq)
	s.armTimer(timerKey, jitter, func(svc *Service) {
		svc.sendOTA(wire.FrameClassCtrl, &wire.OTAMessage{Advertises: []wire.Advertise{fwd}})
		svc.stats.FwdCount++
	})
}

// advertiseForward mirrors processNetworkAdvertise's forwarding branches. A
// group node forwards at most once per fingerprint, regenerating ttl unless
// configured not to, and mAlwaysRebroadcast (a DATA-only flag) never enters
// into it. A non-group node forwards on the ttl budget alone, and may
// re-flood a fingerprint it already forwarded once a copy with a higher ttl
// arrives, resetting distance to the value on record for this source.
func (s *Service) advertiseForward(key GroupKey, adv *wire.Advertise, hash wire.HashValue, bucket int64, newHash bool) (wire.Advertise, bool) {
	groupNode := s.isGroupNode(adv.Group)

	fwd := *adv
	fwd.Distance++

	if groupNode {
		if !newHash {
			return fwd, false
		}
		if adv.RegenTTL {
			fwd.TTL = adv.SrcTTL
			return fwd, true
		}
		if adv.TTL == 0 {
			return fwd, false
		}
		fwd.TTL = adv.TTL - 1
		return fwd, true
	}

	if adv.TTL == 0 {
		return fwd, false
	}
	if newHash {
		fwd.TTL = adv.TTL - 1
		return fwd, true
	}

	existingTTL, _ := s.getMaxTTLfromHash(hash)
	if adv.TTL <= existingTTL {
		return fwd, false
	}
	s.changeMaxTTL(hash, adv.TTL, bucket)
	if entry, exists := s.tables.distance[key]; exists {
		fwd.Distance = entry.distance
	}
	fwd.TTL = adv.TTL - 1
	return fwd, true
}

func jitterDuration(rng interface{ Int63n(int64) int64 }, span time.Duration) time.Duration {
	if span <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(int64(span) + 1))
}
