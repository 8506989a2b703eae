// Package server accepts connections and dispatches their messages through a
// handler chain.
//
//	Bind ──> net.Listen ──> acceptLoop ──> one transport.Channel per conn ──> Chain.Dispatch
//
// Close stops the listener first, then lets every channel finish the message it is
// dispatching before the connection is torn down.
package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"hippo4j-rpc/handler"
	"hippo4j-rpc/logger"
	"hippo4j-rpc/transport"
)

// DefaultDrainTimeout bounds how long Close waits for in-flight dispatch.
const DefaultDrainTimeout = 5 * time.Second

// ServerConnection listens on one port.
type ServerConnection interface {
	Bind(port ServerPort) error
	IsActive() bool
	Port() int
	Close() error
}

type ConnectionOption func(*connOptions)

type connOptions struct {
	host         string
	drainTimeout time.Duration
	log          *zap.Logger
}

// WithHost restricts the listener to one interface. The default listens on all.
func WithHost(host string) ConnectionOption {
	return func(o *connOptions) { o.host = host }
}

func WithDrainTimeout(d time.Duration) ConnectionOption {
	return func(o *connOptions) { o.drainTimeout = d }
}

func WithLogger(l *zap.Logger) ConnectionOption {
	return func(o *connOptions) { o.log = l }
}

// SimpleServerConnection is a ServerConnection whose accepted connections all share
// the embedded handler chain. Handlers are added before Bind.
type SimpleServerConnection struct {
	*handler.Chain

	opts      connOptions
	mu        sync.Mutex
	listener  net.Listener
	channels  map[*transport.Channel]struct{}
	port      int
	active    atomic.Bool
	shutdown  atomic.Bool
	accepting sync.WaitGroup
	closeOnce sync.Once
}

var _ ServerConnection = (*SimpleServerConnection)(nil)

func NewSimpleServerConnection(chain *handler.Chain, opts ...ConnectionOption) *SimpleServerConnection {
	o := connOptions{drainTimeout: DefaultDrainTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Named("server")
	}
	if chain == nil {
		chain = handler.NewChain()
	}
	return &SimpleServerConnection{
		Chain:    chain,
		opts:     o,
		channels: make(map[*transport.Channel]struct{}),
	}
}

// Bind starts listening on port and accepting connections in the background.
// Port 0 binds any free port; Port reports the one chosen.
func (s *SimpleServerConnection) Bind(port ServerPort) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return errors.New("server: bind after close")
	}
	if s.listener != nil {
		return fmt.Errorf("server: already bound to port %d", s.port)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.opts.host, strconv.Itoa(port.Port())))
	if err != nil {
		return fmt.Errorf("server: bind port %d: %w", port.Port(), err)
	}
	s.listener = ln
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.active.Store(true)

	s.accepting.Add(1)
	go s.acceptLoop(ln)
	s.opts.log.Info("server bound", zap.Int("port", s.port))
	return nil
}

func (s *SimpleServerConnection) acceptLoop(ln net.Listener) {
	defer s.accepting.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Close makes Accept fail; only an unexpected failure is worth a log line.
			if !s.shutdown.Load() {
				s.opts.log.Error("accept failed, listener stopped", zap.Error(err))
				s.active.Store(false)
			}
			return
		}

		ch := transport.NewChannel(conn, s.Chain, transport.ChannelConfig{Server: true, Log: s.opts.log})
		if !s.track(ch) {
			ch.Close()
			return
		}
		go func() {
			<-ch.Done()
			s.untrack(ch)
		}()
	}
}

func (s *SimpleServerConnection) track(ch *transport.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.channels[ch] = struct{}{}
	return true
}

func (s *SimpleServerConnection) untrack(ch *transport.Channel) {
	s.mu.Lock()
	delete(s.channels, ch)
	s.mu.Unlock()
}

func (s *SimpleServerConnection) IsActive() bool {
	return s.active.Load()
}

func (s *SimpleServerConnection) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Connections returns the number of open inbound connections.
func (s *SimpleServerConnection) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

// Close stops accepting, drains in-flight dispatch for up to the drain timeout and
// closes every connection. It is idempotent.
func (s *SimpleServerConnection) Close() error {
	s.closeOnce.Do(func() {
		// Flag first: the Accept error caused by closing the listener is expected.
		s.shutdown.Store(true)
		s.active.Store(false)

		s.mu.Lock()
		ln := s.listener
		channels := make([]*transport.Channel, 0, len(s.channels))
		for ch := range s.channels {
			channels = append(channels, ch)
		}
		s.mu.Unlock()

		if ln == nil {
			return
		}
		ln.Close()
		s.accepting.Wait()

		for _, ch := range channels {
			ch.Drain()
		}
		drained := make(chan struct{})
		go func() {
			for _, ch := range channels {
				<-ch.Done()
			}
			close(drained)
		}()

		select {
		case <-drained:
		case <-time.After(s.opts.drainTimeout):
			s.opts.log.Warn("timeout waiting for in-flight requests, closing connections",
				zap.Duration("timeout", s.opts.drainTimeout))
			for _, ch := range channels {
				ch.Close()
			}
		}
		s.opts.log.Info("server closed", zap.Int("port", s.port))
	})
	return nil
}
