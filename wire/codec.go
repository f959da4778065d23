package wire

import (
	"encoding/binary"
	"math"

	"github.com/outofforest/proton/helpers"
)

// EncodeOTAMessage marshals m into a freshly allocated buffer.
func EncodeOTAMessage(m *OTAMessage) []byte {
	b := make([]byte, sizeOTAMessage(m))
	marshalOTAMessage(m, b)
	return b
}

// DecodeOTAMessage unmarshals b into a new OTAMessage. It recovers from the
// out-of-bounds panics a truncated or corrupt buffer would otherwise cause,
// turning them into an error, the same contract the proton-generated
// codecs give their callers.
func DecodeOTAMessage(b []byte) (m *OTAMessage, retErr error) {
	defer helpers.RecoverUnmarshal(&retErr)

	m = &OTAMessage{}
	unmarshalOTAMessage(m, b)
	return m, nil
}

// EncodeAppMessage marshals m into a freshly allocated buffer.
func EncodeAppMessage(m *AppMessage) []byte {
	b := make([]byte, sizeAppMessage(m))
	marshalAppMessage(m, b)
	return b
}

// DecodeAppMessage unmarshals b into a new AppMessage.
func DecodeAppMessage(b []byte) (m *AppMessage, retErr error) {
	defer helpers.RecoverUnmarshal(&retErr)

	m = &AppMessage{}
	unmarshalAppMessage(m, b)
	return m, nil
}

func marshalFloat64(v float64, b []byte) {
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
}

func unmarshalFloat64(b []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

func sizeOTAMessage(m *OTAMessage) uint64 {
	var n uint64
	helpers.UInt64Size(uint64(m.Origin), &n)
	{
		l := uint64(len(m.Advertises))
		helpers.UInt64Size(l, &n)
		for i := range m.Advertises {
			n += sizeAdvertise(&m.Advertises[i])
		}
	}
	{
		l := uint64(len(m.Acks))
		helpers.UInt64Size(l, &n)
		for i := range m.Acks {
			n += sizeAck(&m.Acks[i])
		}
	}
	{
		l := uint64(len(m.Datas))
		helpers.UInt64Size(l, &n)
		for i := range m.Datas {
			n += sizeData(&m.Datas[i])
		}
	}
	return n
}

func marshalOTAMessage(m *OTAMessage, b []byte) uint64 {
	var o uint64
	helpers.UInt64Marshal(uint64(m.Origin), b, &o)
	{
		l := uint64(len(m.Advertises))
		helpers.UInt64Marshal(l, b, &o)
		for i := range m.Advertises {
			o += marshalAdvertise(&m.Advertises[i], b[o:])
		}
	}
	{
		l := uint64(len(m.Acks))
		helpers.UInt64Marshal(l, b, &o)
		for i := range m.Acks {
			o += marshalAck(&m.Acks[i], b[o:])
		}
	}
	{
		l := uint64(len(m.Datas))
		helpers.UInt64Marshal(l, b, &o)
		for i := range m.Datas {
			o += marshalData(&m.Datas[i], b[o:])
		}
	}
	return o
}

func unmarshalOTAMessage(m *OTAMessage, b []byte) uint64 {
	var o uint64
	var origin uint64
	helpers.UInt64Unmarshal(&origin, b, &o)
	m.Origin = NodeId(origin)
	{
		var l uint64
		helpers.UInt64Unmarshal(&l, b, &o)
		m.Advertises = make([]Advertise, l)
		for i := range m.Advertises {
			o += unmarshalAdvertise(&m.Advertises[i], b[o:])
		}
	}
	{
		var l uint64
		helpers.UInt64Unmarshal(&l, b, &o)
		m.Acks = make([]Ack, l)
		for i := range m.Acks {
			o += unmarshalAck(&m.Acks[i], b[o:])
		}
	}
	{
		var l uint64
		helpers.UInt64Unmarshal(&l, b, &o)
		m.Datas = make([]Data, l)
		for i := range m.Datas {
			o += unmarshalData(&m.Datas[i], b[o:])
		}
	}
	return o
}

func sizeAdvertise(m *Advertise) uint64 {
	var n uint64 = 1
	helpers.UInt64Size(uint64(m.Group), &n)
	helpers.UInt64Size(uint64(m.SrcNode), &n)
	helpers.UInt64Size(uint64(m.Seq), &n)
	helpers.UInt64Size(uint64(m.SrcTTL), &n)
	helpers.UInt64Size(uint64(m.TTL), &n)
	helpers.UInt64Size(uint64(m.Distance), &n)
	helpers.UInt64Size(uint64(m.ProbRelay), &n)
	return n
}

func marshalAdvertise(m *Advertise, b []byte) uint64 {
	var o uint64 = 1
	if m.RegenTTL {
		b[0] = 0x01
	} else {
		b[0] = 0x00
	}
	helpers.UInt64Marshal(uint64(m.Group), b, &o)
	helpers.UInt64Marshal(uint64(m.SrcNode), b, &o)
	helpers.UInt64Marshal(uint64(m.Seq), b, &o)
	helpers.UInt64Marshal(uint64(m.SrcTTL), b, &o)
	helpers.UInt64Marshal(uint64(m.TTL), b, &o)
	helpers.UInt64Marshal(uint64(m.Distance), b, &o)
	helpers.UInt64Marshal(uint64(m.ProbRelay), b, &o)
	return o
}

func unmarshalAdvertise(m *Advertise, b []byte) uint64 {
	var o uint64 = 1
	m.RegenTTL = b[0]&0x01 != 0
	var v uint64
	helpers.UInt64Unmarshal(&v, b, &o)
	m.Group = GroupId(v)
	helpers.UInt64Unmarshal(&v, b, &o)
	m.SrcNode = NodeId(v)
	helpers.UInt64Unmarshal(&v, b, &o)
	m.Seq = SeqNum(v)
	helpers.UInt64Unmarshal(&v, b, &o)
	m.SrcTTL = uint32(v)
	helpers.UInt64Unmarshal(&v, b, &o)
	m.TTL = uint32(v)
	helpers.UInt64Unmarshal(&v, b, &o)
	m.Distance = uint32(v)
	helpers.UInt64Unmarshal(&v, b, &o)
	m.ProbRelay = uint32(v)
	return o
}

func sizeAck(m *Ack) uint64 {
	var n uint64
	helpers.UInt64Size(uint64(m.Group), &n)
	helpers.UInt64Size(uint64(m.SrcNode), &n)
	helpers.UInt64Size(uint64(m.Seq), &n)
	helpers.UInt64Size(uint64(m.ObligatoryRelay), &n)
	helpers.UInt64Size(uint64(m.ProbRelay), &n)
	return n
}

func marshalAck(m *Ack, b []byte) uint64 {
	var o uint64
	helpers.UInt64Marshal(uint64(m.Group), b, &o)
	helpers.UInt64Marshal(uint64(m.SrcNode), b, &o)
	helpers.UInt64Marshal(uint64(m.Seq), b, &o)
	helpers.UInt64Marshal(uint64(m.ObligatoryRelay), b, &o)
	helpers.UInt64Marshal(uint64(m.ProbRelay), b, &o)
	return o
}

func unmarshalAck(m *Ack, b []byte) uint64 {
	var o uint64
	var v uint64
	helpers.UInt64Unmarshal(&v, b, &o)
	m.Group = GroupId(v)
	helpers.UInt64Unmarshal(&v, b, &o)
	m.SrcNode = NodeId(v)
	helpers.UInt64Unmarshal(&v, b, &o)
	m.Seq = SeqNum(v)
	helpers.UInt64Unmarshal(&v, b, &o)
	m.ObligatoryRelay = NodeId(v)
	helpers.UInt64Unmarshal(&v, b, &o)
	m.ProbRelay = uint32(v)
	return o
}

func sizeUnicastHeader(m *UnicastHeader) uint64 {
	var n uint64 = 1
	helpers.UInt64Size(uint64(m.Dest), &n)
	helpers.UInt64Size(uint64(m.RelayDistance), &n)
	return n
}

func marshalUnicastHeader(m *UnicastHeader, b []byte) uint64 {
	var o uint64 = 1
	b[0] = byte(m.Resilience)
	helpers.UInt64Marshal(uint64(m.Dest), b, &o)
	helpers.UInt64Marshal(uint64(m.RelayDistance), b, &o)
	return o
}

func unmarshalUnicastHeader(m *UnicastHeader, b []byte) uint64 {
	var o uint64 = 1
	m.Resilience = UnicastResilience(b[0])
	var v uint64
	helpers.UInt64Unmarshal(&v, b, &o)
	m.Dest = NodeId(v)
	helpers.UInt64Unmarshal(&v, b, &o)
	m.RelayDistance = uint32(v)
	return o
}

const (
	dataFlagHasSrcTTL  = 0x01
	dataFlagRegenTTL   = 0x02
	dataFlagHasUnicast = 0x04
)

func sizeData(m *Data) uint64 {
	var n uint64 = 1
	helpers.UInt64Size(uint64(m.Group), &n)
	helpers.UInt64Size(uint64(m.SrcNode), &n)
	helpers.UInt64Size(uint64(m.Seq), &n)
	if m.HasSrcTTL {
		helpers.UInt64Size(uint64(m.SrcTTL), &n)
	}
	helpers.UInt64Size(uint64(m.TTL), &n)
	helpers.UInt64Size(uint64(m.Distance), &n)
	{
		l := uint64(len(m.Payload))
		helpers.UInt64Size(l, &n)
		n += l
	}
	if m.HasUnicast {
		n += sizeUnicastHeader(&m.Unicast)
	}
	return n
}

func marshalData(m *Data, b []byte) uint64 {
	var o uint64 = 1
	var flags byte
	if m.HasSrcTTL {
		flags |= dataFlagHasSrcTTL
	}
	if m.RegenTTL {
		flags |= dataFlagRegenTTL
	}
	if m.HasUnicast {
		flags |= dataFlagHasUnicast
	}
	b[0] = flags
	helpers.UInt64Marshal(uint64(m.Group), b, &o)
	helpers.UInt64Marshal(uint64(m.SrcNode), b, &o)
	helpers.UInt64Marshal(uint64(m.Seq), b, &o)
	if m.HasSrcTTL {
		helpers.UInt64Marshal(uint64(m.SrcTTL), b, &o)
	}
	helpers.UInt64Marshal(uint64(m.TTL), b, &o)
	helpers.UInt64Marshal(uint64(m.Distance), b, &o)
	{
		l := uint64(len(m.Payload))
		helpers.UInt64Marshal(l, b, &o)
		copy(b[o:o+l], m.Payload)
		o += l
	}
	if m.HasUnicast {
		o += marshalUnicastHeader(&m.Unicast, b[o:])
	}
	return o
}

func unmarshalData(m *Data, b []byte) uint64 {
	var o uint64 = 1
	flags := b[0]
	m.HasSrcTTL = flags&dataFlagHasSrcTTL != 0
	m.RegenTTL = flags&dataFlagRegenTTL != 0
	m.HasUnicast = flags&dataFlagHasUnicast != 0

	var v uint64
	helpers.UInt64Unmarshal(&v, b, &o)
	m.Group = GroupId(v)
	helpers.UInt64Unmarshal(&v, b, &o)
	m.SrcNode = NodeId(v)
	helpers.UInt64Unmarshal(&v, b, &o)
	m.Seq = SeqNum(v)
	if m.HasSrcTTL {
		helpers.UInt64Unmarshal(&v, b, &o)
		m.SrcTTL = uint32(v)
	}
	helpers.UInt64Unmarshal(&v, b, &o)
	m.TTL = uint32(v)
	helpers.UInt64Unmarshal(&v, b, &o)
	m.Distance = uint32(v)
	{
		var l uint64
		helpers.UInt64Unmarshal(&l, b, &o)
		if l > 0 {
			m.Payload = make([]byte, l)
			copy(m.Payload, b[o:o+l])
			o += l
		}
	}
	if m.HasUnicast {
		o += unmarshalUnicastHeader(&m.Unicast, b[o:])
	}
	return o
}

func sizeAppMessage(m *AppMessage) uint64 {
	var n uint64
	{
		l := uint64(len(m.Pulls))
		helpers.UInt64Size(l, &n)
		for i := range m.Pulls {
			n += sizePull(&m.Pulls[i])
		}
	}
	{
		l := uint64(len(m.Unpulls))
		helpers.UInt64Size(l, &n)
		for i := range m.Unpulls {
			n += sizeUnpull(&m.Unpulls[i])
		}
	}
	{
		l := uint64(len(m.Advertises))
		helpers.UInt64Size(l, &n)
		for i := range m.Advertises {
			n += sizeAdvertiseCtl(&m.Advertises[i])
		}
	}
	{
		l := uint64(len(m.Datas))
		helpers.UInt64Size(l, &n)
		for i := range m.Datas {
			n += sizeDataCtl(&m.Datas[i])
		}
	}
	return n
}

func marshalAppMessage(m *AppMessage, b []byte) uint64 {
	var o uint64
	{
		l := uint64(len(m.Pulls))
		helpers.UInt64Marshal(l, b, &o)
		for i := range m.Pulls {
			o += marshalPull(&m.Pulls[i], b[o:])
		}
	}
	{
		l := uint64(len(m.Unpulls))
		helpers.UInt64Marshal(l, b, &o)
		for i := range m.Unpulls {
			o += marshalUnpull(&m.Unpulls[i], b[o:])
		}
	}
	{
		l := uint64(len(m.Advertises))
		helpers.UInt64Marshal(l, b, &o)
		for i := range m.Advertises {
			o += marshalAdvertiseCtl(&m.Advertises[i], b[o:])
		}
	}
	{
		l := uint64(len(m.Datas))
		helpers.UInt64Marshal(l, b, &o)
		for i := range m.Datas {
			o += marshalDataCtl(&m.Datas[i], b[o:])
		}
	}
	return o
}

func unmarshalAppMessage(m *AppMessage, b []byte) uint64 {
	var o uint64
	{
		var l uint64
		helpers.UInt64Unmarshal(&l, b, &o)
		m.Pulls = make([]Pull, l)
		for i := range m.Pulls {
			o += unmarshalPull(&m.Pulls[i], b[o:])
		}
	}
	{
		var l uint64
		helpers.UInt64Unmarshal(&l, b, &o)
		m.Unpulls = make([]Unpull, l)
		for i := range m.Unpulls {
			o += unmarshalUnpull(&m.Unpulls[i], b[o:])
		}
	}
	{
		var l uint64
		helpers.UInt64Unmarshal(&l, b, &o)
		m.Advertises = make([]AdvertiseCtl, l)
		for i := range m.Advertises {
			o += unmarshalAdvertiseCtl(&m.Advertises[i], b[o:])
		}
	}
	{
		var l uint64
		helpers.UInt64Unmarshal(&l, b, &o)
		m.Datas = make([]DataCtl, l)
		for i := range m.Datas {
			o += unmarshalDataCtl(&m.Datas[i], b[o:])
		}
	}
	return o
}

func sizePull(m *Pull) uint64 {
	var n uint64
	helpers.UInt64Size(uint64(m.Group), &n)
	return n
}

func marshalPull(m *Pull, b []byte) uint64 {
	var o uint64
	helpers.UInt64Marshal(uint64(m.Group), b, &o)
	return o
}

func unmarshalPull(m *Pull, b []byte) uint64 {
	var o uint64
	var v uint64
	helpers.UInt64Unmarshal(&v, b, &o)
	m.Group = GroupId(v)
	return o
}

func sizeUnpull(m *Unpull) uint64 {
	var n uint64
	helpers.UInt64Size(uint64(m.Group), &n)
	return n
}

func marshalUnpull(m *Unpull, b []byte) uint64 {
	var o uint64
	helpers.UInt64Marshal(uint64(m.Group), b, &o)
	return o
}

func unmarshalUnpull(m *Unpull, b []byte) uint64 {
	var o uint64
	var v uint64
	helpers.UInt64Unmarshal(&v, b, &o)
	m.Group = GroupId(v)
	return o
}

func sizeAdvertiseCtl(m *AdvertiseCtl) uint64 {
	var n uint64 = 1
	helpers.UInt64Size(uint64(m.Group), &n)
	helpers.UInt64Size(uint64(m.SrcTTL), &n)
	helpers.UInt64Size(uint64(m.ProbRelay), &n)
	n += 8 // IntervalSecs, fixed-width float64 bits
	return n
}

func marshalAdvertiseCtl(m *AdvertiseCtl, b []byte) uint64 {
	var o uint64 = 1
	flags := byte(m.Type)
	if m.RegenTTL {
		flags |= 0x80
	}
	b[0] = flags
	helpers.UInt64Marshal(uint64(m.Group), b, &o)
	helpers.UInt64Marshal(uint64(m.SrcTTL), b, &o)
	helpers.UInt64Marshal(uint64(m.ProbRelay), b, &o)
	marshalFloat64(m.IntervalSecs, b[o:])
	o += 8
	return o
}

func unmarshalAdvertiseCtl(m *AdvertiseCtl, b []byte) uint64 {
	var o uint64 = 1
	m.Type = AnnounceType(b[0] &^ 0x80)
	m.RegenTTL = b[0]&0x80 != 0
	var v uint64
	helpers.UInt64Unmarshal(&v, b, &o)
	m.Group = GroupId(v)
	helpers.UInt64Unmarshal(&v, b, &o)
	m.SrcTTL = uint32(v)
	helpers.UInt64Unmarshal(&v, b, &o)
	m.ProbRelay = uint32(v)
	m.IntervalSecs = unmarshalFloat64(b[o:])
	o += 8
	return o
}

const (
	dataCtlFlagHasSrcTTL  = 0x01
	dataCtlFlagRegenTTL   = 0x02
	dataCtlFlagHasUnicast = 0x04
	dataCtlFlagHasSrcNode = 0x08
)

func sizeDataCtl(m *DataCtl) uint64 {
	var n uint64 = 1
	helpers.UInt64Size(uint64(m.Group), &n)
	{
		l := uint64(len(m.Payload))
		helpers.UInt64Size(l, &n)
		n += l
	}
	if m.HasSrcTTL {
		helpers.UInt64Size(uint64(m.SrcTTL), &n)
	}
	if m.HasUnicast {
		helpers.UInt64Size(uint64(m.Dest), &n)
		n++ // Resilience
	}
	if m.HasSrcNode {
		helpers.UInt64Size(uint64(m.SrcNode), &n)
	}
	return n
}

func marshalDataCtl(m *DataCtl, b []byte) uint64 {
	var o uint64 = 1
	var flags byte
	if m.HasSrcTTL {
		flags |= dataCtlFlagHasSrcTTL
	}
	if m.RegenTTL {
		flags |= dataCtlFlagRegenTTL
	}
	if m.HasUnicast {
		flags |= dataCtlFlagHasUnicast
	}
	if m.HasSrcNode {
		flags |= dataCtlFlagHasSrcNode
	}
	b[0] = flags
	helpers.UInt64Marshal(uint64(m.Group), b, &o)
	{
		l := uint64(len(m.Payload))
		helpers.UInt64Marshal(l, b, &o)
		copy(b[o:o+l], m.Payload)
		o += l
	}
	if m.HasSrcTTL {
		helpers.UInt64Marshal(uint64(m.SrcTTL), b, &o)
	}
	if m.HasUnicast {
		helpers.UInt64Marshal(uint64(m.Dest), b, &o)
		b[o] = byte(m.Resilience)
		o++
	}
	if m.HasSrcNode {
		helpers.UInt64Marshal(uint64(m.SrcNode), b, &o)
	}
	return o
}

func unmarshalDataCtl(m *DataCtl, b []byte) uint64 {
	var o uint64 = 1
	flags := b[0]
	m.HasSrcTTL = flags&dataCtlFlagHasSrcTTL != 0
	m.RegenTTL = flags&dataCtlFlagRegenTTL != 0
	m.HasUnicast = flags&dataCtlFlagHasUnicast != 0
	m.HasSrcNode = flags&dataCtlFlagHasSrcNode != 0

	var v uint64
	helpers.UInt64Unmarshal(&v, b, &o)
	m.Group = GroupId(v)
	{
		var l uint64
		helpers.UInt64Unmarshal(&l, b, &o)
		if l > 0 {
			m.Payload = make([]byte, l)
			copy(m.Payload, b[o:o+l])
			o += l
		}
	}
	if m.HasSrcTTL {
		helpers.UInt64Unmarshal(&v, b, &o)
		m.SrcTTL = uint32(v)
	}
	if m.HasUnicast {
		helpers.UInt64Unmarshal(&v, b, &o)
		m.Dest = NodeId(v)
		m.Resilience = UnicastResilience(b[o])
		o++
	}
	if m.HasSrcNode {
		helpers.UInt64Unmarshal(&v, b, &o)
		m.SrcNode = NodeId(v)
	}
	return o
}
