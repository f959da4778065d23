package gcn

import (
	"time"

	"github.com/outofforest/gcn/wire"
)

// Default timing and resource-management parameters, carried over from the
// reference node's defaults.
const (
	DefaultHashExpire    = 30 * time.Second
	DefaultHashInterval  = 10 * time.Second
	DefaultPullExpire    = 3600 * time.Second
	DefaultPullInterval  = 5 * time.Second
	DefaultPathExpire    = 3600 * time.Second
	DefaultPathInterval  = 10 * time.Second
	DefaultLocalPort     = 12345
)

// ADV forward jitter and ACK response jitter bounds.
const (
	advForwardJitterMin = 0
	advForwardJitterMax = 1000 * time.Microsecond
	ackJitterMin        = 100 * time.Millisecond
	ackJitterMax        = 200 * time.Millisecond
)

// Config holds a node's startup configuration, the Go analogue of the
// reference implementation's command-line-parsed config structure.
type Config struct {
	NodeID wire.NodeId

	// LocalAddr is the address C1's local control-channel listener binds
	// to. Defaults to "127.0.0.1:12345".
	LocalAddr string

	// DataFile, if non-empty, receives one line per DATAITEM event (see
	// trace.Writer).
	DataFile string

	HashExpire   time.Duration
	HashInterval time.Duration
	PullExpire   time.Duration
	PullInterval time.Duration
	PathExpire   time.Duration
	PathInterval time.Duration

	// McastEthernetHeader and AlwaysRebroadcast mirror the reference
	// node's link-layer addressing mode and robust-rebroadcast flags.
	// McastEthernetHeader is only stored here: no Link implementation in
	// this module reads it. AlwaysRebroadcast lets a group participant
	// forward new ADVERTISE/ACK-mode DATA without a registered downstream
	// subscriber (see data.go).
	McastEthernetHeader bool
	AlwaysRebroadcast   bool
}

// withDefaults returns a copy of c with zero-valued durations and the local
// address replaced by their defaults.
func (c Config) withDefaults() Config {
	if c.LocalAddr == "" {
		c.LocalAddr = "127.0.0.1:12345"
	}
	if c.HashExpire == 0 {
		c.HashExpire = DefaultHashExpire
	}
	if c.HashInterval == 0 {
		c.HashInterval = DefaultHashInterval
	}
	if c.PullExpire == 0 {
		c.PullExpire = DefaultPullExpire
	}
	if c.PullInterval == 0 {
		c.PullInterval = DefaultPullInterval
	}
	if c.PathExpire == 0 {
		c.PathExpire = DefaultPathExpire
	}
	if c.PathInterval == 0 {
		c.PathInterval = DefaultPathInterval
	}
	return c
}
