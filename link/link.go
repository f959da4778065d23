// Package link defines the broadcast-medium abstraction the control and
// data planes program against. The pcap/ns-3 raw-frame adapter that talks
// to an actual radio is out of scope here; only the interface it and its
// TCP-mesh/in-memory stand-ins must satisfy lives in this module.
package link

import (
	"context"

	"github.com/outofforest/gcn/wire"
)

// InboundFrame is a frame received from a neighbor, tagged with the class
// the sender classified it as.
type InboundFrame struct {
	Class   wire.FrameClass
	Payload []byte
}

// Link is the broadcast medium: Send reaches every reachable neighbor,
// Inbound delivers everything received from any neighbor. A Link never
// interprets payloads or deduplicates; that is the control/data plane's
// job.
type Link interface {
	Send(ctx context.Context, class wire.FrameClass, payload []byte) error
	Inbound() <-chan InboundFrame
	Close() error
}
