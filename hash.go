package gcn

import (
	"encoding/binary"
	"hash/fnv"
	"time"

	"github.com/outofforest/gcn/wire"
)

func writeUint64(h interface{ Write([]byte) (int, error) }, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, _ = h.Write(b[:])
}

func writeBool(h interface{ Write([]byte) (int, error) }, v bool) {
	if v {
		writeUint64(h, 1)
	} else {
		writeUint64(h, 0)
	}
}

// hashAdvertise fingerprints an ADVERTISE's stable fields. ttl and distance
// change at every hop and are deliberately excluded, per the hashed-field
// set resolution in DESIGN.md.
func hashAdvertise(a *wire.Advertise) wire.HashValue {
	h := fnv.New64a()
	writeUint64(h, uint64(a.Group))
	writeUint64(h, uint64(a.SrcNode))
	writeUint64(h, uint64(a.Seq))
	writeUint64(h, uint64(a.SrcTTL))
	writeUint64(h, uint64(a.ProbRelay))
	writeBool(h, a.RegenTTL)
	return wire.HashValue(h.Sum64())
}

// hashData fingerprints a DATA frame's stable fields: ttl, distance, and
// (for unicast frames) relay_distance are excluded, since all three change
// at every hop.
func hashData(d *wire.Data) wire.HashValue {
	h := fnv.New64a()
	writeUint64(h, uint64(d.Group))
	writeUint64(h, uint64(d.SrcNode))
	writeUint64(h, uint64(d.Seq))
	writeBool(h, d.HasSrcTTL)
	if d.HasSrcTTL {
		writeUint64(h, uint64(d.SrcTTL))
	}
	writeBool(h, d.RegenTTL)
	_, _ = h.Write(d.Payload)
	writeBool(h, d.HasUnicast)
	if d.HasUnicast {
		writeUint64(h, uint64(d.Unicast.Dest))
		writeUint64(h, uint64(d.Unicast.Resilience))
	}
	return wire.HashValue(h.Sum64())
}

// addToHash records a newly seen fingerprint with its initial TTL. The
// caller must have already confirmed hash is not present.
func (s *Service) addToHash(hash wire.HashValue, ttl uint32, bucket int64) {
	s.tables.hash[hash] = hashEntry{ttl: ttl, bucket: bucket}

	set, exists := s.tables.hashBuckets[bucket]
	if !exists {
		set = map[wire.HashValue]struct{}{}
		s.tables.hashBuckets[bucket] = set
	}
	set[hash] = struct{}{}
}

// getMaxTTLfromHash reports the highest TTL recorded for a fingerprint: the
// TTL it was added with, or a higher one set later by changeMaxTTL.
func (s *Service) getMaxTTLfromHash(hash wire.HashValue) (uint32, bool) {
	entry, exists := s.tables.hash[hash]
	return entry.ttl, exists
}

// changeMaxTTL updates the TTL recorded for an existing fingerprint and
// moves it to a fresh expiry bucket. Calling it for a fingerprint that was
// never added is an internal invariant violation.
func (s *Service) changeMaxTTL(hash wire.HashValue, ttl uint32, bucket int64) {
	entry, exists := s.tables.hash[hash]
	if !exists {
		s.fatal("changeMaxTTL: hash not present", "hash", hash)
		return
	}

	if oldSet, ok := s.tables.hashBuckets[entry.bucket]; ok {
		delete(oldSet, hash)
		if len(oldSet) == 0 {
			delete(s.tables.hashBuckets, entry.bucket)
		}
	}

	entry.ttl = ttl
	entry.bucket = bucket
	s.tables.hash[hash] = entry

	set, exists := s.tables.hashBuckets[bucket]
	if !exists {
		set = map[wire.HashValue]struct{}{}
		s.tables.hashBuckets[bucket] = set
	}
	set[hash] = struct{}{}
}

func (s *Service) sweepHash(now time.Time) {
	cutoff := timeBucket(now, s.config.HashInterval) - int64(s.config.HashExpire/s.config.HashInterval) - 1
	for bucket, set := range s.tables.hashBuckets {
		if bucket > cutoff {
			continue
		}
		for hash := range set {
			delete(s.tables.hash, hash)
		}
		delete(s.tables.hashBuckets, bucket)
	}
}

// updateDistance applies the four-branch tree-distance update rule: a brand
// new tree entry is inserted outright; a repeat of the same fingerprint
// just grows the neighbor-source set; a new fingerprint from an ADVERTISE
// resets the tree's bookkeeping (a new round started); a new fingerprint
// from a DATA frame only refreshes the recorded distance.
func (s *Service) updateDistance(key GroupKey, hash wire.HashValue, distance uint32, otaSrc wire.NodeId, isAdvertise bool) {
	entry, exists := s.tables.distance[key]
	if !exists {
		s.tables.distance[key] = &distanceEntry{
			hash:        hash,
			distance:    distance,
			packetCount: 1,
			sources:     map[wire.NodeId]struct{}{otaSrc: {}},
		}
		return
	}

	if entry.hash == hash {
		if otaSrc != s.config.NodeID {
			if _, seen := entry.sources[otaSrc]; !seen {
				entry.sources[otaSrc] = struct{}{}
				entry.packetCount++
			}
		}
		return
	}

	if isAdvertise {
		entry.hash = hash
		entry.distance = distance
		entry.packetCount = 1
		entry.sources = map[wire.NodeId]struct{}{otaSrc: {}}
		return
	}

	entry.distance = distance
}
