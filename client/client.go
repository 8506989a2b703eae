package client

import (
	"context"
	"sync"

	"hippo4j-rpc/address"
	"hippo4j-rpc/message"
	"hippo4j-rpc/rpcerr"
)

// RPCClient is the client facade over a ClientConnection. Unlike the connection
// itself it turns error responses into errors.
type RPCClient struct {
	conn ClientConnection
}

func NewRPCClient(conn ClientConnection) *RPCClient {
	return &RPCClient{conn: conn}
}

// Connect sends req and returns the response. When the remote side failed, the
// response is returned together with its *rpcerr.RemoteInvocationError.
func (c *RPCClient) Connect(ctx context.Context, req *message.Request) (*message.Response, error) {
	resp, err := c.conn.Connect(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp, resp.Err()
}

// Invoke sends req and decodes the result into reply, which may be nil for void calls.
func (c *RPCClient) Invoke(ctx context.Context, req *message.Request, reply any) error {
	resp, err := c.Connect(ctx, req)
	if err != nil {
		return err
	}
	return resp.Decode(reply)
}

// Send writes param without waiting for an answer.
func (c *RPCClient) Send(ctx context.Context, param any) error {
	return c.conn.Send(ctx, param)
}

func (c *RPCClient) Connection() ClientConnection { return c.conn }

func (c *RPCClient) Close() error {
	return c.conn.Close()
}

// Support caches one RPCClient per endpoint. Clients are created on first use;
// when two goroutines race, the loser's client is closed and the winner's shared.
type Support struct {
	opts    []Option
	clients sync.Map // map[address.Endpoint]*RPCClient
	mu      sync.Mutex
	closed  bool
}

// NewSupport returns a cache whose clients are built with opts.
func NewSupport(opts ...Option) *Support {
	return &Support{opts: opts}
}

func (s *Support) GetClient(ep address.Endpoint) (*RPCClient, error) {
	if v, ok := s.clients.Load(ep); ok {
		return v.(*RPCClient), nil
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, rpcerr.ErrClosed
	}

	cli := NewRPCClient(NewSimpleClientConnection(ep, s.opts...))
	if v, loaded := s.clients.LoadOrStore(ep, cli); loaded {
		cli.Close()
		return v.(*RPCClient), nil
	}
	return cli, nil
}

// GetClientByAddress resolves addr and returns its client.
func (s *Support) GetClientByAddress(addr string) (*RPCClient, error) {
	ep, err := address.Resolve(addr)
	if err != nil {
		return nil, err
	}
	return s.GetClient(ep)
}

// CloseClient closes and forgets the client for ep, if any.
func (s *Support) CloseClient(ep address.Endpoint) error {
	if v, ok := s.clients.LoadAndDelete(ep); ok {
		return v.(*RPCClient).Close()
	}
	return nil
}

// Close closes every cached client. Later GetClient calls fail with rpcerr.ErrClosed.
func (s *Support) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.clients.Range(func(key, value any) bool {
		s.clients.Delete(key)
		value.(*RPCClient).Close()
		return true
	})
	return nil
}

// Call sends a key request to addr over the cached client and decodes the result.
func Call[R any](ctx context.Context, s *Support, addr, key string, params ...any) (R, error) {
	var zero R
	cli, err := s.GetClientByAddress(addr)
	if err != nil {
		return zero, err
	}
	req, err := message.NewKeyRequest(key, params...)
	if err != nil {
		return zero, err
	}
	var out R
	if err := cli.Invoke(ctx, req, &out); err != nil {
		return zero, err
	}
	return out, nil
}
