package server

import (
	"context"
	"errors"
	"net"
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"hippo4j-rpc/address"
	"hippo4j-rpc/client"
	"hippo4j-rpc/handler"
	"hippo4j-rpc/message"
	"hippo4j-rpc/naming"
	"hippo4j-rpc/registry"
)

type Calculator interface {
	Add(a, b int) int
	Div(a, b int) (int, error)
}

type calculator struct{}

func (calculator) Add(a, b int) int { return a + b }

func (calculator) Div(a, b int) (int, error) {
	if b == 0 {
		return 0, errors.New("division by zero")
	}
	return a / b, nil
}

func localEndpoint(port int) address.Endpoint {
	return address.Endpoint{Host: "127.0.0.1", Port: port}
}

func startCalculator(t *testing.T, opts ...SupportOption) *Support {
	t.Helper()
	s := NewSupport(AnyPort(), opts...)
	if err := RegisterService[Calculator](s, calculator{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Bind(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSupportReflectiveCall(t *testing.T) {
	s := startCalculator(t)
	if !s.IsActive() || s.Port() == 0 {
		t.Fatalf("expect active server on a real port, got active=%v port=%d", s.IsActive(), s.Port())
	}

	cli := client.NewRPCClient(client.NewSimpleClientConnection(localEndpoint(s.Port())))
	defer cli.Close()

	className := registry.TypeName(reflect.TypeFor[Calculator]())
	req, _ := message.NewRequest("add", className, "Add", 1, 2)
	var sum int
	if err := cli.Invoke(context.Background(), req, &sum); err != nil || sum != 3 {
		t.Fatalf("expect 3, got %d (%v)", sum, err)
	}

	req, _ = message.NewRequest("div", className, "Div", 1, 0)
	resp, err := cli.Connect(context.Background(), req)
	if err == nil || resp == nil || !resp.IsErr() {
		t.Fatalf("expect remote error, got %+v (%v)", resp, err)
	}
	if resp.ErrMsg != "division by zero" {
		t.Fatalf("expect division by zero, got %q", resp.ErrMsg)
	}
}

func TestBindFixedPortInUse(t *testing.T) {
	s := startCalculator(t)

	other := NewSupport(Port(s.Port()))
	if err := other.Bind(); err == nil {
		other.Close()
		t.Fatal("expect bind on a used port to fail")
	}
	if other.IsActive() {
		t.Fatal("expect failed server to be inactive")
	}
}

func TestCloseIdempotent(t *testing.T) {
	s := NewSupport(AnyPort())
	if err := s.Bind(); err != nil {
		t.Fatal(err)
	}
	port := s.Port()

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("expect second close to succeed, got %v", err)
	}
	if s.IsActive() {
		t.Fatal("expect closed server to be inactive")
	}
	if _, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 200*time.Millisecond); err == nil {
		t.Fatal("expect closed port to refuse connections")
	}
	if err := s.Bind(); err == nil {
		t.Fatal("expect bind after close to fail")
	}

	// Closing a server that was never bound is fine too.
	if err := NewSupport(AnyPort()).Close(); err != nil {
		t.Fatal(err)
	}
}

func TestWithClassesRegistersInterfacesOnly(t *testing.T) {
	s := NewSupport(AnyPort(), WithClasses(reflect.TypeFor[Calculator](), reflect.TypeFor[calculator]()))
	if s.Classes().Len() != 1 {
		t.Fatalf("expect 1 class, got %d", s.Classes().Len())
	}
	if _, ok := s.Classes().Get(registry.TypeName(reflect.TypeFor[Calculator]())); !ok {
		t.Fatal("expect Calculator to be registered")
	}
	if err := s.Register(reflect.TypeFor[calculator](), calculator{}); err == nil {
		t.Fatal("expect registering a concrete type to fail")
	}
}

func TestBoundFunctionServer(t *testing.T) {
	conn := NewSimpleServerConnection(nil)
	conn.AddLast("sum", handler.Bind2("calc.add", func(a, b int) (int, error) { return a + b, nil }))
	s := NewSupport(AnyPort(), WithConnection(conn))
	if err := s.Bind(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if n := len(conn.Entities()); n != 1 {
		t.Fatalf("expect the default handler to be skipped, got %d handlers", n)
	}

	sup := client.NewSupport()
	defer sup.Close()
	sum, err := client.Call[int](context.Background(), sup, "127.0.0.1:"+strconv.Itoa(s.Port()), "calc.add", 1, 6)
	if err != nil || sum != 7 {
		t.Fatalf("expect 7, got %d (%v)", sum, err)
	}
}

type notice struct {
	Text string
}

func TestSingleShotExchange(t *testing.T) {
	received := make(chan string, 1)
	conn := NewSimpleServerConnection(nil)
	conn.AddFirst("notice", handler.NewSimpleTakeHandler(func(n notice) { received <- n.Text }))
	s := NewSupport(AnyPort(), WithConnection(conn))
	if err := s.Bind(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	cc := client.NewSimpleClientConnection(localEndpoint(s.Port()))
	defer cc.Close()
	if err := cc.Send(context.Background(), notice{Text: "hello"}); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-received:
		if got != "hello" {
			t.Fatalf("expect hello, got %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expect notice to be delivered")
	}

	deadline := time.Now().Add(2 * time.Second)
	for conn.Connections() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expect server to close the connection after one message")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCloseDrainsInFlight(t *testing.T) {
	conn := NewSimpleServerConnection(nil, WithDrainTimeout(2*time.Second))
	conn.AddLast("slow", handler.Bind0("slow", func() (string, error) {
		time.Sleep(200 * time.Millisecond)
		return "done", nil
	}))
	s := NewSupport(AnyPort(), WithConnection(conn))
	if err := s.Bind(); err != nil {
		t.Fatal(err)
	}

	cli := client.NewRPCClient(client.NewSimpleClientConnection(localEndpoint(s.Port())))
	defer cli.Close()

	var (
		wg  sync.WaitGroup
		got string
		err error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		req, _ := message.NewKeyRequest("slow")
		err = cli.Invoke(context.Background(), req, &got)
	}()

	time.Sleep(50 * time.Millisecond)
	if cerr := s.Close(); cerr != nil {
		t.Fatal(cerr)
	}
	wg.Wait()
	if err != nil || got != "done" {
		t.Fatalf("expect in-flight call to finish, got %q (%v)", got, err)
	}
}

// recordingNaming records publications instead of talking to etcd.
type recordingNaming struct {
	mu        sync.Mutex
	published map[string]naming.ServiceInstance
}

func (r *recordingNaming) Register(ctx context.Context, service string, inst naming.ServiceInstance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published[service+"/"+inst.Addr] = inst
	return nil
}

func (r *recordingNaming) Deregister(ctx context.Context, service, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.published, service+"/"+addr)
	return nil
}

func (r *recordingNaming) Discover(ctx context.Context, service string) ([]naming.ServiceInstance, error) {
	return nil, nil
}

func (r *recordingNaming) Watch(ctx context.Context, service string) <-chan []naming.ServiceInstance {
	return nil
}

func (r *recordingNaming) Close() error { return nil }

func TestSupportPublishesEndpoint(t *testing.T) {
	reg := &recordingNaming{published: make(map[string]naming.ServiceInstance)}
	s := NewSupport(AnyPort(), WithNaming(reg, "calc", "127.0.0.1"))
	if err := s.Bind(); err != nil {
		t.Fatal(err)
	}

	key := "calc/127.0.0.1:" + strconv.Itoa(s.Port())
	reg.mu.Lock()
	_, ok := reg.published[key]
	reg.mu.Unlock()
	if !ok {
		t.Fatalf("expect %s to be published", key)
	}

	s.Close()
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.published) != 0 {
		t.Fatalf("expect endpoint to be withdrawn, got %v", reg.published)
	}
}
