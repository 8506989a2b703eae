// Package client sends requests to one remote endpoint and waits for the
// correlated responses.
//
//	Connect(req):  pool.Acquire ──> holder.Put(rid) ──> ch.Write(req) ──> holder.Wait(rid, timeout) ──> pool.Release
//	read loop:     response(rid) ──> ClientTakeHandler ──> holder.Signal(rid)
//
// The acquire timeout and the response timeout are separate budgets: the response
// timer starts once the request is on the wire.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"hippo4j-rpc/address"
	"hippo4j-rpc/handler"
	"hippo4j-rpc/logger"
	"hippo4j-rpc/message"
	"hippo4j-rpc/result"
	"hippo4j-rpc/rpcerr"
	"hippo4j-rpc/transport"
)

// DefaultTimeout bounds the wait for a response.
const DefaultTimeout = 30 * time.Second

// ClientConnection is a logical connection to one remote endpoint.
type ClientConnection interface {
	// Connect sends req and blocks until the correlated response arrives or the
	// timeout elapses.
	Connect(ctx context.Context, req *message.Request) (*message.Response, error)
	// Send writes param without waiting for any answer.
	Send(ctx context.Context, param any) error
	Timeout() time.Duration
	SetTimeout(d time.Duration)
	Close() error
}

type Option func(*options)

type options struct {
	timeout        time.Duration
	acquireTimeout time.Duration
	poolOpts       []transport.PoolOption
	log            *zap.Logger
}

// WithTimeout sets the response timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithAcquireTimeout bounds how long a call waits for a pooled connection.
func WithAcquireTimeout(d time.Duration) Option {
	return func(o *options) { o.acquireTimeout = d }
}

// WithPoolOptions configures the underlying connection pool.
func WithPoolOptions(opts ...transport.PoolOption) Option {
	return func(o *options) { o.poolOpts = append(o.poolOpts, opts...) }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// SimpleClientConnection owns a connection pool and the correlation holder its
// responses are delivered through.
type SimpleClientConnection struct {
	ep             address.Endpoint
	pool           *transport.ConnectPool
	holder         *result.Holder
	timeout        atomic.Int64
	acquireTimeout time.Duration
	closed         atomic.Bool
	closeOnce      sync.Once
	log            *zap.Logger
}

var _ ClientConnection = (*SimpleClientConnection)(nil)

func NewSimpleClientConnection(ep address.Endpoint, opts ...Option) *SimpleClientConnection {
	o := options{timeout: DefaultTimeout, acquireTimeout: transport.DefaultConnectTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Named("client")
	}

	holder := result.NewHolder()
	chain := handler.NewChain()
	chain.AddFirst("client-take", handler.NewClientTakeHandler(holder))

	poolOpts := append([]transport.PoolOption{transport.WithLogger(o.log)}, o.poolOpts...)
	poolOpts = append(poolOpts, transport.WithChain(chain))

	c := &SimpleClientConnection{
		ep:             ep,
		pool:           transport.NewConnectPool(ep, poolOpts...),
		holder:         holder,
		acquireTimeout: o.acquireTimeout,
		log:            o.log.With(zap.Stringer("remote", ep)),
	}
	c.timeout.Store(int64(o.timeout))
	return c
}

func (c *SimpleClientConnection) Endpoint() address.Endpoint { return c.ep }

func (c *SimpleClientConnection) Timeout() time.Duration {
	return time.Duration(c.timeout.Load())
}

func (c *SimpleClientConnection) SetTimeout(d time.Duration) {
	c.timeout.Store(int64(d))
}

func (c *SimpleClientConnection) acquire(ctx context.Context) (*transport.Channel, error) {
	if c.closed.Load() {
		return nil, rpcerr.ErrClosed
	}
	if c.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.acquireTimeout)
		defer cancel()
	}
	return c.pool.Acquire(ctx)
}

// Connect writes req on a pooled connection and waits for the response with the
// same RID. The connection goes back to the pool on every path. A request that gets
// no response within the timeout fails with *rpcerr.TimeoutError; a response that
// arrives later is dropped.
func (c *SimpleClientConnection) Connect(ctx context.Context, req *message.Request) (*message.Response, error) {
	ch, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(ch)

	wait := c.holder.Put(req.RID)
	if err := ch.Write(req); err != nil {
		c.holder.Remove(req.RID)
		return nil, err
	}

	resp, err := c.await(ctx, ch, req, wait)
	if err != nil {
		// The peer may still be dispatching the abandoned request on this connection,
		// which would stall every later call queued behind it.
		ch.MarkDead()
		return nil, err
	}
	c.log.Debug("call successful", zap.String("key", req.Key), zap.String("rid", req.RID))
	return resp, nil
}

// await waits for the response, giving up early when the connection closes.
func (c *SimpleClientConnection) await(ctx context.Context, ch *transport.Channel, req *message.Request, wait <-chan *message.Response) (*message.Response, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ch.Done():
			cancel()
		case <-wctx.Done():
		}
	}()

	resp, err := c.holder.Wait(wctx, req.RID, wait, c.Timeout())
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// The read loop signals before it notices the close, so the response may be here.
		select {
		case resp := <-wait:
			if resp != nil {
				return resp, nil
			}
		default:
		}
		return nil, &rpcerr.ConnectionError{Msg: fmt.Sprintf("connection to %s closed while waiting for %s", c.ep, req.Key)}
	}
	return resp, err
}

// Send writes param as a oneway message and returns once it is on the wire.
// Failures match rpcerr.ErrSend.
func (c *SimpleClientConnection) Send(ctx context.Context, param any) error {
	o, err := message.NewOneway(param)
	if err != nil {
		return fmt.Errorf("%w: %w", rpcerr.ErrSend, err)
	}
	ch, err := c.acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", rpcerr.ErrSend, err)
	}
	defer c.pool.Release(ch)

	if err := ch.Write(o); err != nil {
		return fmt.Errorf("%w: %w", rpcerr.ErrSend, err)
	}
	return nil
}

// Close shuts the pool down. Calls in flight keep their connection until they return.
func (c *SimpleClientConnection) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.pool.Close()
	})
	return nil
}
