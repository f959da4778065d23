// Package meshlink implements link.Link over a TCP mesh of resonance
// connections, standing in for a real broadcast radio medium when GCN nodes
// run as ordinary OS processes (desktop demos, CI).
package meshlink

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/resonance"

	"github.com/outofforest/gcn/link"
	"github.com/outofforest/gcn/wire"
)

var errSameNode = errors.New("connected to myself")

type peerID uint64

func newPeerID() (peerID, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, errors.WithStack(err)
	}
	return peerID(binary.BigEndian.Uint64(b[:])), nil
}

// peerConns fans a broadcast out to every currently connected peer. Unlike
// the point-to-point dedup-by-revision registry this is grounded on, it
// keeps no message history: GCN's own duplicate tracker (C3) decides what
// is new, the link layer just moves bytes.
type peerConns struct {
	mu    sync.RWMutex
	conns map[chan []byte]struct{}
}

func newPeerConns() *peerConns {
	return &peerConns{conns: map[chan []byte]struct{}{}}
}

func (c *peerConns) Add() chan []byte {
	ch := make(chan []byte, 32)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.conns[ch] = struct{}{}
	return ch
}

func (c *peerConns) Remove(ch chan []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.conns[ch]; exists {
		delete(c.conns, ch)
		close(ch)
	}
}

func (c *peerConns) Broadcast(frame []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for ch := range c.conns {
		select {
		case ch <- frame:
		default:
			// A slow peer drops frames rather than stalling the broadcast;
			// it is just another lossy hop as far as GCN is concerned.
		}
	}
}

// Config configures a mesh link.
type Config struct {
	// Listen is the local address to accept peer connections on. Empty
	// means this node only dials out.
	Listen string
	// Peers are addresses of peers to dial and keep reconnecting to.
	Peers          []string
	MaxMessageSize uint64
}

// Link is the TCP-mesh implementation of link.Link.
type Link struct {
	config  Config
	self    peerID
	conns   *peerConns
	inbound chan link.InboundFrame
}

var _ link.Link = (*Link)(nil)

// New creates a mesh link. Call Run to start listening/dialing.
func New(config Config) (*Link, error) {
	self, err := newPeerID()
	if err != nil {
		return nil, err
	}

	return &Link{
		config:  config,
		self:    self,
		conns:   newPeerConns(),
		inbound: make(chan link.InboundFrame, 64),
	}, nil
}

// Inbound returns the channel of frames received from peers.
func (l *Link) Inbound() <-chan link.InboundFrame {
	return l.inbound
}

// Send broadcasts payload, tagged with class, to every connected peer.
func (l *Link) Send(ctx context.Context, class wire.FrameClass, payload []byte) error {
	frame := make([]byte, len(payload)+1)
	frame[0] = byte(class)
	copy(frame[1:], payload)
	l.conns.Broadcast(frame)
	return nil
}

// Close is a no-op; shutdown is driven by cancelling the context passed to
// Run.
func (l *Link) Close() error {
	return nil
}

// Run accepts inbound peer connections (if Listen is set) and dials every
// configured peer, reconnecting with backoff, until ctx is cancelled.
func (l *Link) Run(ctx context.Context) error {
	connConfig := resonance.Config{MaxMessageSize: l.config.MaxMessageSize}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		if l.config.Listen != "" {
			ls, err := net.Listen("tcp", l.config.Listen)
			if err != nil {
				return errors.WithStack(err)
			}

			spawn("accept", parallel.Fail, func(ctx context.Context) error {
				defer ls.Close()
				return resonance.RunServer(ctx, ls, connConfig, func(ctx context.Context, c *resonance.Connection) error {
					return l.runPeer(ctx, c)
				})
			})
		}

		for _, peer := range l.config.Peers {
			peer := peer
			spawn("dial", parallel.Continue, func(ctx context.Context) error {
				log := logger.Get(ctx)

				for {
					err := resonance.RunClient(ctx, peer, connConfig, func(ctx context.Context, c *resonance.Connection) error {
						return l.runPeer(ctx, c)
					})

					if ctx.Err() != nil {
						return errors.WithStack(ctx.Err())
					}
					if errors.Is(err, errSameNode) {
						return nil
					}

					log.Error("mesh link connection failed", zap.String("peer", peer), zap.Error(err))
					select {
					case <-ctx.Done():
						return errors.WithStack(ctx.Err())
					case <-time.After(time.Second):
					}
				}
			})
		}

		return nil
	})
}

func (l *Link) runPeer(ctx context.Context, c *resonance.Connection) error {
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], uint64(l.self))
	if err := c.SendRawBytes(idBuf[:]); err != nil {
		return err
	}

	peerIDBuf, err := c.ReceiveRawBytes()
	if err != nil {
		return err
	}
	if len(peerIDBuf) != 8 {
		return errors.New("peer id message expected")
	}
	if peerID(binary.BigEndian.Uint64(peerIDBuf)) == l.self {
		return errSameNode
	}

	sendCh := l.conns.Add()

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("receiver", parallel.Fail, func(ctx context.Context) error {
			defer l.conns.Remove(sendCh)

			for {
				frame, err := c.ReceiveRawBytes()
				if err != nil {
					return err
				}
				if len(frame) == 0 {
					continue
				}

				select {
				case <-ctx.Done():
					return errors.WithStack(ctx.Err())
				case l.inbound <- link.InboundFrame{Class: wire.FrameClass(frame[0]), Payload: frame[1:]}:
				}
			}
		})
		spawn("sender", parallel.Fail, func(ctx context.Context) error {
			defer func() {
				for range sendCh {
				}
			}()
			defer c.Close()

			for frame := range sendCh {
				if err := c.SendRawBytes(frame); err != nil {
					return err
				}
			}

			return nil
		})

		return nil
	})
}
