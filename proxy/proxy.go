// Package proxy builds client stubs for remote interfaces.
//
// Go cannot implement an interface at runtime, so each interface gets a small
// hand-written adapter whose methods forward to Stub.Invoke:
//
//	type calculatorStub struct{ *proxy.Stub }
//
//	func (c calculatorStub) Add(a, b int) (int, error) {
//		return proxy.Call[int](context.Background(), c.Stub, "Add", a, b)
//	}
//
//	calc, err := proxy.Get(pc, "127.0.0.1:8080", func(s *proxy.Stub) Calculator { return calculatorStub{s} })
//
// Every call becomes a reflective request for the interface's registered name, which
// the server resolves against its class registry.
package proxy

import (
	"context"
	"reflect"
	"strings"
	"sync"

	"hippo4j-rpc/address"
	"hippo4j-rpc/client"
	"hippo4j-rpc/message"
	"hippo4j-rpc/registry"
	"hippo4j-rpc/rpcerr"
)

// Stub sends calls on one interface to one endpoint. It holds no per-call state and
// is safe for concurrent use.
type Stub struct {
	cli       *client.RPCClient
	ep        address.Endpoint
	iface     reflect.Type
	className string
}

func newStub(cli *client.RPCClient, ep address.Endpoint, iface reflect.Type) *Stub {
	return &Stub{cli: cli, ep: ep, iface: iface, className: registry.TypeName(iface)}
}

func (s *Stub) Endpoint() address.Endpoint { return s.ep }

func (s *Stub) ClassName() string { return s.className }

// Key is the logical request key of method. It is the same for every call.
func (s *Stub) Key(method string) string {
	return s.ep.String() + s.className + method
}

// Invoke calls method with args and decodes the result into reply, which may be nil.
// A remote failure is returned as *rpcerr.RemoteInvocationError.
func (s *Stub) Invoke(ctx context.Context, method string, reply any, args ...any) error {
	req, err := message.NewRequest(s.Key(method), s.className, method, args...)
	if err != nil {
		return err
	}
	resp, err := s.cli.Connect(ctx, req)
	if err != nil {
		return err
	}
	return resp.Decode(reply)
}

// Call is Invoke returning the decoded result.
func Call[R any](ctx context.Context, s *Stub, method string, args ...any) (R, error) {
	var out R
	if err := s.Invoke(ctx, method, &out, args...); err != nil {
		var zero R
		return zero, err
	}
	return out, nil
}

// Context caches one proxy per (endpoint, interface) on top of a client cache.
// Concurrent first calls may both build a proxy; the last one stored wins, which is
// harmless because stubs are interchangeable.
type Context struct {
	clients *client.Support
	proxies sync.Map // map[string]any
}

func NewContext(clients *client.Support) *Context {
	return &Context{clients: clients}
}

func proxyKey(ep address.Endpoint, iface reflect.Type) string {
	return ep.String() + "#" + registry.TypeName(iface)
}

func interfaceOf[T any]() (reflect.Type, error) {
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Interface {
		return nil, &rpcerr.InterfaceRequiredError{Type: t.String()}
	}
	return t, nil
}

// Get returns the cached proxy of T for addr, building it with build on first use.
// T must be an interface type; otherwise Get fails before resolving addr.
func Get[T any](pc *Context, addr string, build func(*Stub) T) (T, error) {
	var zero T
	iface, err := interfaceOf[T]()
	if err != nil {
		return zero, err
	}
	ep, err := address.Resolve(addr)
	if err != nil {
		return zero, err
	}

	key := proxyKey(ep, iface)
	if v, ok := pc.proxies.Load(key); ok {
		return v.(T), nil
	}

	cli, err := pc.clients.GetClient(ep)
	if err != nil {
		return zero, err
	}
	p := build(newStub(cli, ep, iface))
	pc.proxies.Store(key, p)
	return p, nil
}

// Create builds an uncached proxy of T over cli.
func Create[T any](cli *client.RPCClient, ep address.Endpoint, build func(*Stub) T) (T, error) {
	var zero T
	iface, err := interfaceOf[T]()
	if err != nil {
		return zero, err
	}
	return build(newStub(cli, ep, iface)), nil
}

// Remove drops the proxy of iface for addr and closes the address's client. Other
// proxies sharing that client are dropped as well, so the next Get rebuilds them
// over a fresh client.
func (pc *Context) Remove(iface reflect.Type, addr string) error {
	ep, err := address.Resolve(addr)
	if err != nil {
		return err
	}
	pc.proxies.Delete(proxyKey(ep, iface))
	prefix := ep.String() + "#"
	pc.proxies.Range(func(key, _ any) bool {
		if strings.HasPrefix(key.(string), prefix) {
			pc.proxies.Delete(key)
		}
		return true
	})
	return pc.clients.CloseClient(ep)
}

// Close closes every client and forgets every proxy.
func (pc *Context) Close() error {
	pc.proxies.Clear()
	return pc.clients.Close()
}
