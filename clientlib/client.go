// Package clientlib is the shared library an application links against to
// talk to a local gcn node: open the control-channel socket, register as a
// source or subscriber, and exchange DATA with the application through
// plain byte buffers, hiding PULL/UNPULL/ADVERTISE bookkeeping and the wire
// encoding from the caller. Grounded on gcnClient.h/gcnClient.cpp.
package clientlib

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/outofforest/gcn/wire"
)

const maxAppMessageSize = 16 << 20

// Default parameters mirrored from gcnClient.h.
const (
	DefaultPort         = 12345
	DefaultServerHost   = "127.0.0.1"
	DefaultSrcTTL       = 2
	DefaultAnnounceRate = 20 * time.Second
)

// Config configures one client connection. It intentionally stays close to
// ClientConfig's flat, plain-field shape rather than splitting it into
// optional sub-structs: every field here is meaningful the moment
// Advertise or Pull is set.
type Config struct {
	ServerAddr string
	Group      wire.GroupId

	// Pull, when true, subscribes this client to Group on Start.
	Pull bool

	// Advertise, when true, registers this client as a source for Group
	// on Start, with the fields below.
	Advertise    bool
	SrcTTL       uint32
	AnnounceRate time.Duration
	ProbRelay    uint32
	RegenTTL     bool

	// AckMode, when true and Advertise is set, builds the ADVERTISE/ACK
	// tree instead of flooding: DATA carries no src_ttl, and SendMessage
	// withholds transmission until the node has told this client it has
	// at least one downstream subscriber (gcnClient's mHasSubscribers).
	AckMode bool
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = DefaultServerHost + ":12345"
	}
	if c.SrcTTL == 0 {
		c.SrcTTL = DefaultSrcTTL
	}
	if c.AnnounceRate == 0 {
		c.AnnounceRate = DefaultAnnounceRate
	}
	return c
}

// Handler receives the source node and payload of every DATA frame the node
// delivers to this client. It has no return value: delivery is not
// acknowledged back to the library.
type Handler func(srcNode wire.NodeId, payload []byte)

// Client is one open connection to a local gcn node's control channel.
type Client struct {
	config Config
	conn   *net.TCPConn

	mu            sync.Mutex
	closed        bool
	hasSubscriber bool
}

// Start dials the local node, performs the configured PULL/ADVERTISE
// registration, and begins delivering received DATA to handler on a
// background goroutine. The returned Client is safe to call SendMessage on
// from any goroutine.
func Start(ctx context.Context, config Config, handler Handler) (*Client, error) {
	config = config.withDefaults()

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", config.ServerAddr)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	tcpConn := conn.(*net.TCPConn)

	c := &Client{config: config, conn: tcpConn, hasSubscriber: true}
	if config.Advertise && config.AckMode {
		// Don't send data until the node tells us we have a subscriber.
		c.hasSubscriber = false
	}

	init := &wire.AppMessage{}
	if config.Pull {
		init.Pulls = append(init.Pulls, wire.Pull{Group: config.Group})
	}
	if config.Advertise {
		init.Advertises = append(init.Advertises, wire.AdvertiseCtl{
			Group:        config.Group,
			Type:         wire.AnnounceRegister,
			SrcTTL:       config.SrcTTL,
			IntervalSecs: config.AnnounceRate.Seconds(),
			ProbRelay:    config.ProbRelay,
			RegenTTL:     config.RegenTTL,
		})
	}
	if len(init.Pulls) > 0 || len(init.Advertises) > 0 {
		if err := writeAppMessage(tcpConn, init); err != nil {
			tcpConn.Close()
			return nil, errors.WithStack(err)
		}
	}

	go c.recvLoop(handler)

	return c, nil
}

// Stop unregisters (UNPULL, ADVERTISE deregister) and closes the
// connection.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	fin := &wire.AppMessage{}
	if c.config.Pull {
		fin.Unpulls = append(fin.Unpulls, wire.Unpull{Group: c.config.Group})
	}
	if c.config.Advertise {
		fin.Advertises = append(fin.Advertises, wire.AdvertiseCtl{
			Group: c.config.Group,
			Type:  wire.AnnounceDeregister,
		})
	}
	if len(fin.Unpulls) > 0 || len(fin.Advertises) > 0 {
		_ = writeAppMessage(c.conn, fin)
	}

	return c.conn.Close()
}

// SendMessage transmits one DATA frame through the local node. dest of 0
// means broadcast to the whole group; any other value requests unicast
// delivery to that node. In AckMode, the frame is silently dropped (no
// error) until the node has reported a downstream subscriber, mirroring
// gcnClient::sendMessage's hasSubs gate.
func (c *Client) SendMessage(gid wire.GroupId, payload []byte, dest wire.NodeId) error {
	if c.config.AckMode && !c.HasSubscriber() {
		return nil
	}

	ctl := wire.DataCtl{
		Group:     gid,
		Payload:   payload,
		HasSrcTTL: !c.config.AckMode,
		SrcTTL:    c.config.SrcTTL,
		RegenTTL:  c.config.RegenTTL,
	}
	if dest != 0 {
		ctl.HasUnicast = true
		ctl.Dest = dest
	}

	return writeAppMessage(c.conn, &wire.AppMessage{Datas: []wire.DataCtl{ctl}})
}

// HasSubscriber reports whether the node has told this client it has at
// least one downstream subscriber for Group, via a pushed Pull/Unpull
// record. Only meaningful when Advertise and AckMode are both set.
func (c *Client) HasSubscriber() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasSubscriber
}

func (c *Client) recvLoop(handler Handler) {
	for {
		msg, err := readAppMessage(c.conn)
		if err != nil {
			return
		}
		if len(msg.Pulls) > 0 {
			c.mu.Lock()
			c.hasSubscriber = true
			c.mu.Unlock()
		}
		if len(msg.Unpulls) > 0 {
			c.mu.Lock()
			c.hasSubscriber = false
			c.mu.Unlock()
		}
		for i := range msg.Datas {
			d := &msg.Datas[i]
			if handler != nil {
				handler(d.SrcNode, d.Payload)
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
	// One Write per frame, so concurrent callers on the same connection never
	// interleave a length prefix with another frame's payload.
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}
