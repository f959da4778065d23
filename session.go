package gcn

import (
	"context"
	"encoding/binary"
	"io"
	"net"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"

	"github.com/outofforest/gcn/wire"
)

// maxAppMessageSize bounds a single local-channel frame; a client asking
// for more than this is almost certainly desynchronized.
const maxAppMessageSize = 16 << 20

// session is one local client's control-channel connection: the C1
// endpoint a gcnClient-style application dials into. All state a session
// owns (its group subscriptions, its announced sources, its per-group DATA
// sequence counters) is only ever touched from the event loop.
type session struct {
	conn *net.TCPConn
	svc  *Service

	pulledGroups   map[wire.GroupId]struct{}
	announcedGroup map[wire.GroupId]struct{}
	dataSeq        map[wire.GroupId]wire.SeqNum

	outbound chan *wire.AppMessage
}

func newSession(conn *net.TCPConn, svc *Service) *session {
	return &session{
		conn:           conn,
		svc:            svc,
		pulledGroups:   map[wire.GroupId]struct{}{},
		announcedGroup: map[wire.GroupId]struct{}{},
		dataSeq:        map[wire.GroupId]wire.SeqNum{},
		outbound:       make(chan *wire.AppMessage, 64),
	}
}

func (sess *session) nextDataSeq(group wire.GroupId) wire.SeqNum {
	sess.dataSeq[group]++
	return sess.dataSeq[group]
}

// push queues a local-channel frame for delivery to this session's client,
// dropping it if the session's outbound buffer is saturated rather than
// blocking the event loop.
func (sess *session) push(msg *wire.AppMessage) {
	select {
	case sess.outbound <- msg:
	default:
	}
}

// deliverData queues a DATA frame for delivery to this session's client.
func (sess *session) deliverData(d *wire.Data) {
	sess.push(&wire.AppMessage{Datas: []wire.DataCtl{{
		Group:      d.Group,
		Payload:    d.Payload,
		HasSrcNode: true,
		SrcNode:    d.SrcNode,
	}}})
}

// pushPull tells this session's client it now has at least one downstream
// subscriber for a group it announces, the local-channel analogue of
// gcnClient's mHasSubscribers being set true.
func (sess *session) pushPull(group wire.GroupId) {
	sess.push(&wire.AppMessage{Pulls: []wire.Pull{{Group: group}}})
}

// pushUnpull tells this session's client it no longer has any downstream
// subscriber for a group it announces.
func (sess *session) pushUnpull(group wire.GroupId) {
	sess.push(&wire.AppMessage{Unpulls: []wire.Unpull{{Group: group}}})
}

// runAccept is C1's listener loop: one session, and one parallel task tree,
// per accepted connection.
func (s *Service) runAccept(ctx context.Context, ls net.Listener) error {
	log := logger.Get(ctx)

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		for {
			conn, err := ls.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return errors.WithStack(ctx.Err())
				}
				return errors.WithStack(err)
			}

			tcpConn, ok := conn.(*net.TCPConn)
			if !ok {
				conn.Close()
				continue
			}

			sess := newSession(tcpConn, s)
			s.post(func(svc *Service) { svc.sessions[sess] = struct{}{} })
			spawn("session", parallel.Continue, func(ctx context.Context) error {
				defer func() {
					s.post(func(svc *Service) { svc.closeSession(sess) })
				}()

				err := parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
					spawn("read", parallel.Fail, sess.runReader)
					spawn("write", parallel.Fail, sess.runWriter)
					return nil
				})
				if err != nil {
					log.Debug("session ended", zap.Error(err))
				}
				return nil
			})
		}
	})
}

func (sess *session) runReader(ctx context.Context) error {
	for {
		msg, err := readAppMessage(sess.conn)
		if err != nil {
			return errors.WithStack(err)
		}
		sess.svc.post(func(svc *Service) { svc.handleAppMessage(sess, msg) })
	}
}

func (sess *session) runWriter(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case msg := <-sess.outbound:
			if err := writeAppMessage(sess.conn, msg); err != nil {
				return errors.WithStack(err)
			}
		}
	}
}

func readAppMessage(r io.Reader) (*wire.AppMessage, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if size > maxAppMessageSize {
		return nil, errors.Errorf("app message too large: %d bytes", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return wire.DecodeAppMessage(buf)
}

func writeAppMessage(w io.Writer, m *wire.AppMessage) error {
	payload := wire.EncodeAppMessage(m)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// handleAppMessage dispatches one local-channel frame's records into the
// relevant table mutations and protocol actions, all on the event loop.
func (s *Service) handleAppMessage(sess *session, msg *wire.AppMessage) {
	for i := range msg.Pulls {
		s.localPull(sess, msg.Pulls[i].Group)
	}
	for i := range msg.Unpulls {
		s.localUnpull(sess, msg.Unpulls[i].Group)
	}
	for i := range msg.Advertises {
		ctl := &msg.Advertises[i]
		switch ctl.Type {
		case wire.AnnounceRegister:
			sess.announcedGroup[ctl.Group] = struct{}{}
			s.registerAnnounce(sess, ctl)
		case wire.AnnounceDeregister:
			delete(sess.announcedGroup, ctl.Group)
			s.deregisterAnnounce(ctl.Group)
		}
	}
	for i := range msg.Datas {
		s.clientSendData(sess, &msg.Datas[i])
	}
}

func (s *Service) localPull(sess *session, group wire.GroupId) {
	sess.pulledGroups[group] = struct{}{}

	subs, exists := s.tables.localSubs[group]
	if !exists {
		subs = map[*session]struct{}{}
		s.tables.localSubs[group] = subs
	}
	subs[sess] = struct{}{}

	if s.trace != nil {
		s.trace.LocalPull(group, s.config.NodeID)
	}
}

func (s *Service) localUnpull(sess *session, group wire.GroupId) {
	delete(sess.pulledGroups, group)

	if subs, exists := s.tables.localSubs[group]; exists {
		delete(subs, sess)
		if len(subs) == 0 {
			delete(s.tables.localSubs, group)
		}
	}

	if s.trace != nil {
		s.trace.LocalUnpull(group, s.config.NodeID)
	}
}

// closeSession unsubscribes a disconnected session from everything it held:
// its group pulls, and any sources it was being advertised on behalf of.
func (s *Service) closeSession(sess *session) {
	for group := range sess.pulledGroups {
		s.localUnpull(sess, group)
	}
	for group := range sess.announcedGroup {
		s.deregisterAnnounce(group)
	}
	delete(s.sessions, sess)
}
