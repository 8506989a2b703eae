package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"hippo4j-rpc/address"
	"hippo4j-rpc/codec"
	"hippo4j-rpc/handler"
	"hippo4j-rpc/logger"
	"hippo4j-rpc/rpcerr"
)

const (
	DefaultMaxConns       = 64
	DefaultConnectTimeout = 30 * time.Second
	DefaultHeartbeat      = 30 * time.Second
)

// DialFunc opens a raw connection. It matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type PoolOption func(*poolOptions)

type poolOptions struct {
	maxConns       int
	connectTimeout time.Duration
	heartbeat      time.Duration
	codec          codec.CodecType
	chain          *handler.Chain
	dial           DialFunc
	log            *zap.Logger
}

func WithMaxConns(n int) PoolOption {
	return func(o *poolOptions) { o.maxConns = n }
}

// WithConnectTimeout bounds dialing, and acquisition through AcquireAsync.
func WithConnectTimeout(d time.Duration) PoolOption {
	return func(o *poolOptions) { o.connectTimeout = d }
}

// WithHeartbeat sets the keepalive interval of pooled channels. Zero disables it.
func WithHeartbeat(d time.Duration) PoolOption {
	return func(o *poolOptions) { o.heartbeat = d }
}

func WithCodec(t codec.CodecType) PoolOption {
	return func(o *poolOptions) { o.codec = t }
}

// WithChain sets the handler chain every new channel dispatches inbound messages to.
func WithChain(c *handler.Chain) PoolOption {
	return func(o *poolOptions) { o.chain = c }
}

func WithDialer(dial DialFunc) PoolOption {
	return func(o *poolOptions) { o.dial = dial }
}

func WithLogger(l *zap.Logger) PoolOption {
	return func(o *poolOptions) { o.log = l }
}

// ConnectPool bounds the channels borrowed from one endpoint.
//
// A weighted semaphore admits at most maxConns borrowers. A borrower reuses an idle
// channel when one is available and dials a new one otherwise, so channels are created
// lazily up to capacity. Release puts the channel back into the idle queue before it
// returns the permit: the next borrower always finds it there instead of dialing.
type ConnectPool struct {
	ep        address.Endpoint
	opts      poolOptions
	sem       *semaphore.Weighted
	idle      chan *Channel
	closed    atomic.Bool
	closeOnce sync.Once
}

// AcquireResult is delivered by AcquireAsync.
type AcquireResult struct {
	Channel *Channel
	Err     error
}

func NewConnectPool(ep address.Endpoint, opts ...PoolOption) *ConnectPool {
	o := poolOptions{
		maxConns:       DefaultMaxConns,
		connectTimeout: DefaultConnectTimeout,
		heartbeat:      DefaultHeartbeat,
		codec:          codec.CodecTypeJSON,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxConns <= 0 {
		o.maxConns = DefaultMaxConns
	}
	if o.log == nil {
		o.log = logger.Named("transport")
	}
	if o.dial == nil {
		d := &net.Dialer{Timeout: o.connectTimeout}
		o.dial = d.DialContext
	}
	return &ConnectPool{
		ep:   ep,
		opts: o,
		sem:  semaphore.NewWeighted(int64(o.maxConns)),
		idle: make(chan *Channel, o.maxConns),
	}
}

func (p *ConnectPool) Endpoint() address.Endpoint { return p.ep }

func (p *ConnectPool) MaxConns() int { return p.opts.maxConns }

// Idle returns the number of channels waiting for reuse.
func (p *ConnectPool) Idle() int { return len(p.idle) }

// Acquire borrows a channel, blocking while the pool is at capacity. It fails with
// *rpcerr.TimeoutError when ctx's deadline passes first, with ctx.Err() when ctx is
// canceled, and with rpcerr.ErrClosed once the pool is closed.
func (p *ConnectPool) Acquire(ctx context.Context) (*Channel, error) {
	if p.closed.Load() {
		return nil, rpcerr.ErrClosed
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &rpcerr.TimeoutError{Op: "acquire", Key: p.ep.String()}
		}
		return nil, err
	}
	if p.closed.Load() {
		p.sem.Release(1)
		return nil, rpcerr.ErrClosed
	}

	if ch := p.takeIdle(); ch != nil {
		return ch, nil
	}
	ch, err := p.dial(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	return ch, nil
}

// AcquireTimeout is Acquire bounded by d.
func (p *ConnectPool) AcquireTimeout(d time.Duration) (*Channel, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	ch, err := p.Acquire(ctx)
	var te *rpcerr.TimeoutError
	if errors.As(err, &te) {
		te.After = d
	}
	return ch, err
}

// AcquireAsync acquires in the background, bounded by the connect timeout, and
// delivers exactly one result on the returned channel.
func (p *ConnectPool) AcquireAsync() <-chan AcquireResult {
	result := make(chan AcquireResult, 1)
	go func() {
		ch, err := p.AcquireTimeout(p.opts.connectTimeout)
		result <- AcquireResult{Channel: ch, Err: err}
	}()
	return result
}

// takeIdle returns the first live idle channel, closing dead ones on the way.
func (p *ConnectPool) takeIdle() *Channel {
	for {
		select {
		case ch := <-p.idle:
			if ch.IsActive() {
				return ch
			}
			ch.Close()
		default:
			return nil
		}
	}
}

func (p *ConnectPool) dial(ctx context.Context) (*Channel, error) {
	dctx, cancel := context.WithTimeout(ctx, p.opts.connectTimeout)
	defer cancel()

	conn, err := p.opts.dial(dctx, "tcp", p.ep.String())
	if err != nil {
		return nil, err
	}
	p.opts.log.Debug("connected", zap.Stringer("remote", conn.RemoteAddr()))
	return NewChannel(conn, p.opts.chain, ChannelConfig{
		Codec:     p.opts.codec,
		Heartbeat: p.opts.heartbeat,
		Log:       p.opts.log,
	}), nil
}

// Release returns a borrowed channel. Dead channels, and any channel released after
// Close, are closed instead of kept.
func (p *ConnectPool) Release(ch *Channel) {
	if ch == nil {
		return
	}
	defer p.sem.Release(1)

	if !ch.IsActive() || p.closed.Load() {
		ch.Close()
		return
	}
	select {
	case p.idle <- ch:
	default:
		ch.Close()
	}
	if p.closed.Load() {
		p.drainIdle()
	}
}

func (p *ConnectPool) drainIdle() {
	for {
		select {
		case ch := <-p.idle:
			ch.Close()
		default:
			return
		}
	}
}

// Close closes every idle channel and rejects further acquisition. Borrowed channels
// are closed as they are released. Close is idempotent.
func (p *ConnectPool) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.drainIdle()
	})
	return nil
}
