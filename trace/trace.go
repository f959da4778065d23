// Package trace reproduces the reference node's persisted DATAITEM log: one
// flushed line per significant protocol event, in the comma-separated,
// JSON-blob-per-record layout gcnService.cpp writes to its data file.
package trace

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/outofforest/gcn/wire"
)

// Writer appends one line per event to an underlying file, flushing after
// every write the way the reference node's fwrite+fflush pair does. A nil
// *Writer is valid and every method on it is a no-op, so callers can carry
// an optional *Writer field without a presence check at every call site.
type Writer struct {
	mu sync.Mutex
	f  *os.File
}

// Open creates (or truncates) path and returns a Writer appending to it. An
// empty path means tracing is disabled: Open returns (nil, nil).
func Open(path string) (*Writer, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Writer{f: f}, nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	return w.f.Close()
}

func epochMillis(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e6
}

func (w *Writer) write(tag string, nodeID wire.NodeId, now time.Time, fields string) {
	if w == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	ms := epochMillis(now)
	line := fmt.Sprintf("0,%.0f,ll.%s,node%03d.gcnService,%.0f,\"%s\"\n", ms, tag, nodeID, ms, fields)
	_, _ = io.WriteString(w.f, line)
	_ = w.f.Sync()
}

// SentAdv records one ADVERTISE this node originated or forwarded.
func (w *Writer) SentAdv(now time.Time, group wire.GroupId, srcNode wire.NodeId, seq wire.SeqNum, ttl uint32) {
	w.write("gcnSentAdv", srcNode, now, fmt.Sprintf(
		`{""gid"":%d,""seq"":%d,""srcnode"":""node%03d"",""ttl"":%d}`, group, seq, srcNode, ttl))
}

// RcvAdv records one ADVERTISE received over the link, before the
// forwarding decision is made.
func (w *Writer) RcvAdv(now time.Time, self, rcvFrom wire.NodeId, group wire.GroupId, seq wire.SeqNum, orgSrc wire.NodeId, ttl, dist uint32, newHash bool) {
	w.write("gcnRcvAdv", self, now, fmt.Sprintf(
		`{""rcvfrom"":""node%03d"",""gid"":%d,""seq"":%d,""orgsrc"":""node%03d"",""ttl"":%d,""dist"":%d,""newhash"":%t}`,
		rcvFrom, group, seq, orgSrc, ttl, dist, newHash))
}

// SentAck records one ACK this node originated or relayed.
func (w *Writer) SentAck(now time.Time, group wire.GroupId, srcNode wire.NodeId, seq wire.SeqNum) {
	w.write("gcnSentAck", srcNode, now, fmt.Sprintf(
		`{""gid"":%d,""seq"":%d,""srcnode"":""node%03d""}`, group, seq, srcNode))
}

// RcvAck records one ACK received over the link.
func (w *Writer) RcvAck(now time.Time, self, rcvFrom wire.NodeId, group wire.GroupId, seq wire.SeqNum, orgSrc wire.NodeId, obligRelay wire.NodeId, relayed bool) {
	w.write("gcnRcvAck", self, now, fmt.Sprintf(
		`{""rcvfrom"":""node%03d"",""gid"":%d,""seq"":%d,""orgsrc"":""node%03d"",""obligrelay"":%d,""relayed"":%t}`,
		rcvFrom, group, seq, orgSrc, obligRelay, relayed))
}

// SentData records one DATA frame this node originated or forwarded.
func (w *Writer) SentData(now time.Time, group wire.GroupId, srcNode wire.NodeId, seq wire.SeqNum, ttl uint32) {
	w.write("gcnSentData", srcNode, now, fmt.Sprintf(
		`{""gid"":%d,""seq"":%d,""srcnode"":""node%03d"",""ttl"":%d}`, group, seq, srcNode, ttl))
}

// RcvData records one broadcast DATA frame received over the link for the
// first time, whether or not a local subscriber is present.
func (w *Writer) RcvData(now time.Time, group wire.GroupId, srcNode wire.NodeId, seq wire.SeqNum, ttl uint32) {
	w.write("gcnRcvData", srcNode, now, fmt.Sprintf(
		`{""gid"":%d,""seq"":%d,""srcnode"":""node%03d"",""ttl"":%d}`, group, seq, srcNode, ttl))
}

// LocalPull records a local client subscribing to a group.
func (w *Writer) LocalPull(group wire.GroupId, nodeID wire.NodeId) {
	w.write("gcnLocalPull", nodeID, time.Now(), fmt.Sprintf(`{""gid"":%d}`, group))
}

// LocalUnpull records a local client unsubscribing from a group.
func (w *Writer) LocalUnpull(group wire.GroupId, nodeID wire.NodeId) {
	w.write("gcnLocalUnpull", nodeID, time.Now(), fmt.Sprintf(`{""gid"":%d}`, group))
}

// ClientProdData records an application producing one message for egress,
// the client-side analogue of SentData, tagged distinctly per the reference
// client's own data file.
func (w *Writer) ClientProdData(now time.Time, group wire.GroupId, nodeID wire.NodeId, size int, ttl uint32, sent bool) {
	w.write("gcnClientProdData", nodeID, now, fmt.Sprintf(
		`{""gid"":%d,""size"":%d,""ttl"":%d,""sent"":%t}`, group, size, ttl, sent))
}

// ClientRcvData records an application receiving one delivered message.
func (w *Writer) ClientRcvData(now time.Time, group wire.GroupId, nodeID, srcNode wire.NodeId, size int, seq wire.SeqNum) {
	w.write("gcnClientRcvData", nodeID, now, fmt.Sprintf(
		`{""gid"":%d,""srcnode"":""node%03d"",""size"":%d,""seq"":%d}`, group, srcNode, size, seq))
}
