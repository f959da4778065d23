// Package gcn implements a Group Centric Networking node: a sparse
// group-tree built from flooded ADVERTISE/ACK probes, with DATA forwarding
// gated by relay election, duplicate suppression, and reverse-path
// unicast.
package gcn

import (
	"context"
	"math/rand"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"

	"github.com/outofforest/gcn/link"
	"github.com/outofforest/gcn/trace"
	"github.com/outofforest/gcn/wire"
)

// Service is one GCN node: the tree control plane, data plane, duplicate
// tracker, and local client endpoint, all driven by a single event-loop
// goroutine over one Link.
type Service struct {
	config Config
	link   link.Link
	trace  *trace.Writer
	rng    *rand.Rand

	tables *tables
	stats  Stats

	events       chan func(*Service)
	closed       chan struct{}
	timerGen     map[string]uint64
	timerHandles map[string]*time.Timer

	sessions map[*session]struct{}
}

// New creates a node. The Link must already be constructed (and, for
// meshlink, have Run scheduled by the caller's own parallel group);
// Service.Run only drives the protocol, not link transport lifecycle.
func New(config Config, l link.Link, tr *trace.Writer) *Service {
	config = config.withDefaults()

	seed := time.Now().UnixNano() ^ int64(config.NodeID)

	return &Service{
		config:       config,
		link:         l,
		trace:        tr,
		rng:          rand.New(rand.NewSource(seed)), //nolint:gosec // relay election, not security-sensitive
		tables:       newTables(),
		events:       make(chan func(*Service), 256),
		closed:       make(chan struct{}),
		timerGen:     map[string]uint64{},
		timerHandles: map[string]*time.Timer{},
		sessions:     map[*session]struct{}{},
	}
}

// Stats returns a snapshot of the node's operational counters. Safe to call
// from any goroutine; it round-trips through the event loop.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	result := make(chan Stats, 1)
	select {
	case s.events <- func(svc *Service) { result <- svc.stats }:
	case <-ctx.Done():
		return Stats{}, errors.WithStack(ctx.Err())
	case <-s.closed:
		return Stats{}, errors.New("service closed")
	}

	select {
	case st := <-result:
		return st, nil
	case <-ctx.Done():
		return Stats{}, errors.WithStack(ctx.Err())
	}
}

// Run starts the node and blocks until ctx is cancelled or a task fails.
func (s *Service) Run(ctx context.Context) error {
	defer close(s.closed)

	ls, err := net.Listen("tcp", s.config.LocalAddr)
	if err != nil {
		return errors.WithStack(err)
	}
	defer ls.Close()

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("loop", parallel.Fail, s.runLoop)
		spawn("accept", parallel.Fail, func(ctx context.Context) error {
			return s.runAccept(ctx, ls)
		})
		spawn("link", parallel.Fail, s.runLinkReader)
		spawn("sweep", parallel.Fail, s.runSweep)

		return nil
	})
}

func (s *Service) runLoop(ctx context.Context) error {
	log := logger.Get(ctx)

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case fn := <-s.events:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error("panic handling event", zap.Any("recover", r))
					}
				}()
				fn(s)
			}()
		}
	}
}

func (s *Service) runLinkReader(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case frame, ok := <-s.link.Inbound():
			if !ok {
				return errors.New("link closed")
			}
			msg, err := wire.DecodeOTAMessage(frame.Payload)
			if err != nil {
				logger.Get(ctx).Debug("dropping malformed OTA frame", zap.Error(err))
				continue
			}
			s.post(func(svc *Service) { svc.handleOTAMessage(msg) })
		}
	}
}

func (s *Service) handleOTAMessage(msg *wire.OTAMessage) {
	now := time.Now()
	for i := range msg.Advertises {
		s.onAdvertise(now, msg.Origin, &msg.Advertises[i])
	}
	for i := range msg.Acks {
		s.onAck(now, msg.Origin, &msg.Acks[i])
	}
	for i := range msg.Datas {
		s.onData(now, msg.Origin, &msg.Datas[i])
	}
}

func (s *Service) sendOTA(class wire.FrameClass, msg *wire.OTAMessage) {
	msg.Origin = s.config.NodeID
	payload := wire.EncodeOTAMessage(msg)
	if err := s.link.Send(context.Background(), class, payload); err != nil {
		zap.L().Error("link send failed", zap.Uint64("node", uint64(s.config.NodeID)), zap.Error(err))
		s.stats.DropCount++
		return
	}
	s.stats.SentCount++
}

func (s *Service) runSweep(ctx context.Context) error {
	interval := s.config.HashInterval
	if s.config.PullInterval < interval {
		interval = s.config.PullInterval
	}
	if s.config.PathInterval < interval {
		interval = s.config.PathInterval
	}
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-ticker.C:
			now := time.Now()
			s.post(func(svc *Service) {
				svc.sweepHash(now)
				svc.sweepAdvSeen(now)
				svc.sweepRemoteSubsAndReversePath(now)
			})
		}
	}
}
