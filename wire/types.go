// Package wire defines the on-the-wire and local-channel message types for
// Group Centric Networking and their binary encoding.
package wire

// NodeId identifies a node participating in the network.
type NodeId uint64

// GroupId identifies a multicast group.
type GroupId uint64

// SeqNum is a per-source, per-group sequence number.
type SeqNum uint64

// HashValue is an opaque fingerprint of a frame's stable fields, computed
// locally by a receiving node. It is never transmitted.
type HashValue uint64

// UnicastResilience selects how aggressively a unicast DATA frame is
// relayed toward its destination.
type UnicastResilience uint8

const (
	ResilienceLow    UnicastResilience = 0
	ResilienceMedium UnicastResilience = 1
	ResilienceHigh   UnicastResilience = 2
)

// AnnounceType distinguishes a group registration from a deregistration on
// the local control channel.
type AnnounceType uint8

const (
	AnnounceRegister   AnnounceType = 0
	AnnounceDeregister AnnounceType = 1
)

// FrameClass tags a frame for the link layer so it can be prioritized
// without inspecting payloads.
type FrameClass uint8

const (
	FrameClassCtrl FrameClass = 0
	FrameClassData FrameClass = 1
)

// UnicastHeader carries the extra fields a DATA frame needs when addressed
// to a single destination instead of the whole group.
type UnicastHeader struct {
	Dest          NodeId
	RelayDistance uint32
	Resilience    UnicastResilience
}

// Advertise is the tree-building probe flooded from a group's source.
type Advertise struct {
	Group     GroupId
	SrcNode   NodeId
	Seq       SeqNum
	SrcTTL    uint32
	TTL       uint32
	Distance  uint32
	ProbRelay uint32
	RegenTTL  bool
}

// Ack is returned toward an Advertise's source along the reverse path to
// elect relays for that source's group tree.
type Ack struct {
	Group           GroupId
	SrcNode         NodeId
	Seq             SeqNum
	ObligatoryRelay NodeId
	ProbRelay       uint32
}

// Data carries application payload, either flooded to a group or unicast to
// a single node over the group's tree.
type Data struct {
	Group      GroupId
	SrcNode    NodeId
	Seq        SeqNum
	HasSrcTTL  bool
	SrcTTL     uint32
	TTL        uint32
	Distance   uint32
	RegenTTL   bool
	Payload    []byte
	HasUnicast bool
	Unicast    UnicastHeader
}

// OTAMessage is the envelope carried over the link: a batch of frames from
// one origin.
type OTAMessage struct {
	Origin     NodeId
	Advertises []Advertise
	Acks       []Ack
	Datas      []Data
}

// Pull asks the local service to start delivering a group's traffic to this
// client session.
type Pull struct {
	Group GroupId
}

// Unpull cancels a prior Pull.
type Unpull struct {
	Group GroupId
}

// AdvertiseCtl registers or deregisters this session as a source that the
// service should advertise on behalf of. All fields are meaningful only
// for AnnounceRegister; a Deregister only needs Group.
type AdvertiseCtl struct {
	Group        GroupId
	Type         AnnounceType
	SrcTTL       uint32
	IntervalSecs float64
	ProbRelay    uint32
	RegenTTL     bool
}

// DataCtl carries application payload across the local control channel,
// either from an application to the service (egress) or from the service to
// an application (delivery).
type DataCtl struct {
	Group      GroupId
	Payload    []byte
	HasSrcTTL  bool
	SrcTTL     uint32
	RegenTTL   bool
	HasUnicast bool
	Dest       NodeId
	Resilience UnicastResilience
	HasSrcNode bool
	SrcNode    NodeId
}

// AppMessage is a single frame of the local control channel: a
// length-prefixed batch of client<->service records, per C1.
type AppMessage struct {
	Pulls      []Pull
	Unpulls    []Unpull
	Advertises []AdvertiseCtl
	Datas      []DataCtl
}
