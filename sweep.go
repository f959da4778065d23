package gcn

import (
	"time"

	"github.com/outofforest/gcn/wire"
)

// isDuplicateAdvertise reports whether (key, seq) has already been seen,
// recording it if not. AdvSeen is swept on the same bucketed schedule as
// Hash, an addition over the reference node (see DESIGN.md Open Question
// (i)): it has no sequence-number-overflow-driven eviction of its own, so
// without a sweep it would grow without bound on a long-running node.
func (s *Service) isDuplicateAdvertise(now time.Time, key GroupKey, seq wire.SeqNum) bool {
	bucket := timeBucket(now, s.config.HashInterval)

	perKey, exists := s.tables.advSeen[key]
	if exists {
		if _, seen := perKey[seq]; seen {
			return true
		}
	} else {
		perKey = map[wire.SeqNum]advSeenEntry{}
		s.tables.advSeen[key] = perKey
	}

	perKey[seq] = advSeenEntry{bucket: bucket}

	perBucket, exists := s.tables.advSeenBuckets[bucket]
	if !exists {
		perBucket = map[GroupKey]wire.SeqNum{}
		s.tables.advSeenBuckets[bucket] = perBucket
	}
	perBucket[key] = seq

	return false
}

func (s *Service) sweepAdvSeen(now time.Time) {
	cutoff := timeBucket(now, s.config.HashInterval) - int64(s.config.HashExpire/s.config.HashInterval) - 1
	for bucket, entries := range s.tables.advSeenBuckets {
		if bucket > cutoff {
			continue
		}
		for key := range entries {
			if perKey, exists := s.tables.advSeen[key]; exists {
				// The bucket index keeps only one seq per key, so every seq
				// of this key at or below the cutoff is removed here.
				for seq, entry := range perKey {
					if entry.bucket <= cutoff {
						delete(perKey, seq)
					}
				}
				if len(perKey) == 0 {
					delete(s.tables.advSeen, key)
				}
			}
		}
		delete(s.tables.advSeenBuckets, bucket)
	}
}

func (s *Service) sweepRemoteSubsAndReversePath(now time.Time) {
	for key, rp := range s.tables.reversePath {
		if now.Sub(rp.lastSeen) > s.config.PathExpire {
			delete(s.tables.reversePath, key)
		}
	}

	for key, subs := range s.tables.remoteSubs {
		for node, sub := range subs {
			if now.Sub(sub.lastSeen) > s.config.PullExpire {
				delete(subs, node)
			}
		}
		if len(subs) == 0 {
			delete(s.tables.remoteSubs, key)
			s.maybeUnpullOwner(key)
		}
	}
}

// maybeUnpullOwner tells an announcing owner session it has lost its last
// downstream subscriber for key's group, the local-channel analogue of
// gcnClient's mHasSubscribers being set false. Only meaningful when this
// node is itself the tree's root: a relay's remoteSubs going empty has no
// local session to notify. In advertise-override mode (interval<=0) no
// Unpull is pushed, even when an ACK at the root earlier pushed the owner a
// Pull; pullForwarded then stays set.
func (s *Service) maybeUnpullOwner(key GroupKey) {
	if key.SrcNode != s.config.NodeID {
		return
	}
	entry, exists := s.tables.announce[key.Group]
	if !exists || !entry.pullForwarded || entry.intervalSecs <= 0 {
		return
	}
	entry.pullForwarded = false
	entry.owner.pushUnpull(key.Group)
}
