package gcn

import "fmt"

// Stats is a snapshot of a node's operational counters, the Go analogue of
// the reference node's stats block. gcnd logs it once a minute; nothing
// prints it on shutdown.
type Stats struct {
	RecvCountAdv    uint64
	RecvCountAck    uint64
	RecvCountData   uint64
	RecvCountDataUn uint64
	DropCount       uint64
	PushCount       uint64
	FwdCount        uint64
	FwdCountUni     uint64
	ClientRcvCount  uint64
	SentCount       uint64
	NonGroupRcvAck  uint64
	NonGroupRcvAdv  uint64
}

// String renders the counters the same shape writelog would: one line,
// comma-separated.
func (s Stats) String() string {
	return fmt.Sprintf(
		"recvAdv=%d,recvAck=%d,recvData=%d,recvDataUni=%d,drop=%d,push=%d,"+
			"fwd=%d,fwdUni=%d,clientRcv=%d,sent=%d,nonGroupAck=%d,nonGroupAdv=%d",
		s.RecvCountAdv, s.RecvCountAck, s.RecvCountData, s.RecvCountDataUn,
		s.DropCount, s.PushCount, s.FwdCount, s.FwdCountUni, s.ClientRcvCount,
		s.SentCount, s.NonGroupRcvAck, s.NonGroupRcvAdv,
	)
}
