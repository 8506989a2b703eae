// Package transport carries hippo4j-rpc messages over TCP.
//
// A Channel owns one net.Conn. Writers share the connection under a write lock, so
// the header and body of one frame are never interleaved with another's. A single
// read goroutine decodes frames in order and hands each message to the handler chain:
//
//	caller ──Write(req)──> conn ──> peer
//	readLoop: <── frame ── decode ── chain.Dispatch(ch, msg) ── first accepting handler
//
// Dispatch runs on the read goroutine, so handlers see messages in arrival order.
// ConnectPool hands out Channels to one endpoint, at most one caller per Channel.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"hippo4j-rpc/codec"
	"hippo4j-rpc/handler"
	"hippo4j-rpc/logger"
	"hippo4j-rpc/message"
	"hippo4j-rpc/protocol"
	"hippo4j-rpc/rpcerr"
)

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	Codec codec.CodecType
	// Heartbeat is the interval between keepalive frames. Zero sends none.
	Heartbeat time.Duration
	// Server channels answer in the codec of the last frame they received.
	Server bool
	Log    *zap.Logger
}

// Channel is a framed, codec-aware connection. It implements handler.Channel.
type Channel struct {
	conn      net.Conn
	chain     *handler.Chain
	codec     atomic.Uint32 // codec.CodecType used for outbound frames
	server    bool
	sending   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
	dead      atomic.Bool
	log       *zap.Logger
}

var _ handler.Channel = (*Channel)(nil)

// NewChannel wraps conn and starts its read loop, plus a heartbeat loop when
// cfg.Heartbeat is positive. Inbound messages go to chain, which may be nil.
func NewChannel(conn net.Conn, chain *handler.Chain, cfg ChannelConfig) *Channel {
	if chain == nil {
		chain = handler.NewChain()
	}
	c := &Channel{
		conn:   conn,
		chain:  chain,
		server: cfg.Server,
		done:   make(chan struct{}),
		log:    cfg.Log,
	}
	if c.log == nil {
		c.log = logger.Named("transport")
	}
	c.codec.Store(uint32(cfg.Codec))

	go c.readLoop()
	if cfg.Heartbeat > 0 {
		go c.heartbeatLoop(cfg.Heartbeat)
	}
	return c
}

func msgTypeOf(msg any) (protocol.MsgType, error) {
	switch msg.(type) {
	case *message.Request:
		return protocol.MsgTypeRequest, nil
	case *message.Response:
		return protocol.MsgTypeResponse, nil
	case *message.Oneway:
		return protocol.MsgTypeOneway, nil
	}
	return 0, fmt.Errorf("transport: cannot write %T", msg)
}

// Write encodes msg, which must be a *message.Request, *message.Response or
// *message.Oneway, and sends it as one frame. A failed write marks the channel dead.
func (c *Channel) Write(msg any) error {
	mt, err := msgTypeOf(msg)
	if err != nil {
		return err
	}
	if !c.IsActive() {
		return rpcerr.ErrClosed
	}

	cdc, err := codec.GetCodec(codec.CodecType(c.codec.Load()))
	if err != nil {
		return err
	}
	body, err := cdc.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", mt, err)
	}

	header := protocol.Header{CodecType: byte(cdc.Type()), MsgType: mt}
	c.sending.Lock()
	err = protocol.Encode(c.conn, &header, body)
	c.sending.Unlock()
	if err != nil {
		c.MarkDead()
		return fmt.Errorf("write %s frame to %s: %w", mt, c.RemoteAddr(), err)
	}
	return nil
}

func (c *Channel) readLoop() {
	defer c.Close()
	for {
		header, body, err := protocol.Decode(c.conn)
		if err != nil {
			if c.IsActive() && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !isTimeout(err) {
				c.log.Warn("read frame failed", zap.Stringer("remote", c.RemoteAddr()), zap.Error(err))
			}
			return
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}

		msg, err := c.decode(header, body)
		if err != nil {
			c.log.Warn("decode frame failed",
				zap.Stringer("remote", c.RemoteAddr()),
				zap.Stringer("type", header.MsgType),
				zap.Error(err))
			continue
		}
		if c.server {
			c.codec.Store(uint32(header.CodecType))
		}
		if !c.chain.Dispatch(c, msg) {
			c.log.Debug("no handler accepted message, dropped",
				zap.Stringer("remote", c.RemoteAddr()),
				zap.Stringer("type", header.MsgType))
		}
	}
}

func (c *Channel) decode(header *protocol.Header, body []byte) (any, error) {
	cdc, err := codec.GetCodec(codec.CodecType(header.CodecType))
	if err != nil {
		return nil, err
	}
	var msg any
	switch header.MsgType {
	case protocol.MsgTypeRequest:
		msg = &message.Request{}
	case protocol.MsgTypeResponse:
		msg = &message.Response{}
	case protocol.MsgTypeOneway:
		msg = &message.Oneway{}
	default:
		return nil, fmt.Errorf("unexpected message type %s", header.MsgType)
	}
	if err := cdc.Decode(body, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (c *Channel) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	header := &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}
		header.CodecType = byte(c.codec.Load())
		c.sending.Lock()
		err := protocol.Encode(c.conn, header, nil)
		c.sending.Unlock()
		if err != nil {
			c.log.Debug("heartbeat failed, closing", zap.Stringer("remote", c.RemoteAddr()), zap.Error(err))
			c.Close()
			return
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// MarkDead flags the channel as unusable without closing it. A pool discards dead
// channels on release.
func (c *Channel) MarkDead() {
	c.dead.Store(true)
}

// IsActive reports whether the channel is open and has not failed.
func (c *Channel) IsActive() bool {
	if c.dead.Load() {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Done is closed once the channel is closed, by either side.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Drain makes the read loop stop after the message it is currently dispatching.
func (c *Channel) Drain() {
	c.conn.SetReadDeadline(time.Now())
}

func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.dead.Store(true)
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Channel) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}
