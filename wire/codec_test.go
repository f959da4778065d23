package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOTAMessageRoundTrip(t *testing.T) {
	requireT := require.New(t)

	m := &OTAMessage{
		Origin: 7,
		Advertises: []Advertise{
			{Group: 1, SrcNode: 7, Seq: 3, SrcTTL: 5, TTL: 4, Distance: 1, ProbRelay: 150, RegenTTL: true},
		},
		Acks: []Ack{
			{Group: 1, SrcNode: 7, Seq: 3, ObligatoryRelay: 9, ProbRelay: 150},
		},
		Datas: []Data{
			{Group: 1, SrcNode: 7, Seq: 3, HasSrcTTL: true, SrcTTL: 5, TTL: 4, Distance: 1, Payload: []byte("hello")},
			{
				Group: 1, SrcNode: 7, Seq: 4, TTL: 4, Distance: 1, Payload: []byte("unicast"),
				HasUnicast: true,
				Unicast:    UnicastHeader{Dest: 42, RelayDistance: 2, Resilience: ResilienceHigh},
			},
		},
	}

	b := EncodeOTAMessage(m)
	got, err := DecodeOTAMessage(b)
	requireT.NoError(err)
	requireT.Equal(m, got)
}

func TestOTAMessageRoundTripEmpty(t *testing.T) {
	requireT := require.New(t)

	m := &OTAMessage{Origin: 1}
	b := EncodeOTAMessage(m)
	got, err := DecodeOTAMessage(b)
	requireT.NoError(err)
	requireT.Equal(uint64(1), uint64(got.Origin))
	requireT.Empty(got.Advertises)
	requireT.Empty(got.Acks)
	requireT.Empty(got.Datas)
}

func TestDecodeOTAMessageTruncatedReturnsError(t *testing.T) {
	requireT := require.New(t)

	m := &OTAMessage{
		Origin:     1,
		Advertises: []Advertise{{Group: 1, SrcNode: 1, Seq: 1, SrcTTL: 5, TTL: 4, Distance: 1, ProbRelay: 10}},
	}
	b := EncodeOTAMessage(m)

	_, err := DecodeOTAMessage(b[:len(b)-1])
	requireT.Error(err)
}

func TestAppMessageRoundTrip(t *testing.T) {
	requireT := require.New(t)

	m := &AppMessage{
		Pulls:   []Pull{{Group: 1}},
		Unpulls: []Unpull{{Group: 2}},
		Advertises: []AdvertiseCtl{
			{Group: 1, Type: AnnounceRegister, SrcTTL: 2, IntervalSecs: 20.5, ProbRelay: 150, RegenTTL: true},
			{Group: 2, Type: AnnounceDeregister},
		},
		Datas: []DataCtl{
			{Group: 1, Payload: []byte("ping"), HasSrcTTL: true, SrcTTL: 2},
			{
				Group: 1, Payload: []byte("pong"), HasUnicast: true, Dest: 9, Resilience: ResilienceMedium,
				HasSrcNode: true, SrcNode: 3,
			},
		},
	}

	b := EncodeAppMessage(m)
	got, err := DecodeAppMessage(b)
	requireT.NoError(err)
	requireT.Equal(m, got)
}
