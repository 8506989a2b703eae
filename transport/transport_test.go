package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"hippo4j-rpc/address"
	"hippo4j-rpc/codec"
	"hippo4j-rpc/handler"
	"hippo4j-rpc/message"
	"hippo4j-rpc/result"
	"hippo4j-rpc/rpcerr"
)

// echoHandler answers every request with its own key.
type echoHandler struct{}

func (echoHandler) Accept(msg any) bool {
	_, ok := msg.(*message.Request)
	return ok
}

func (echoHandler) Handle(ch handler.Channel, msg any) {
	req := msg.(*message.Request)
	resp, _ := message.NewResponse(req, req.Key)
	ch.Write(resp)
}

// startServer accepts connections on a free port and serves them with chain.
func startServer(t *testing.T, chain *handler.Chain) address.Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var (
		mu    sync.Mutex
		conns []*Channel
	)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, NewChannel(conn, chain, ChannelConfig{Server: true}))
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return address.Endpoint{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}
}

func clientChain(holder *result.Holder) *handler.Chain {
	chain := handler.NewChain()
	chain.AddFirst("client-take", handler.NewClientTakeHandler(holder))
	return chain
}

func TestChannelRoundTrip(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeGob} {
		ep := startServer(t, handler.NewChain(echoHandler{}))

		holder := result.NewHolder()
		pool := NewConnectPool(ep, WithMaxConns(1), WithCodec(ct), WithChain(clientChain(holder)))

		ch, err := pool.Acquire(context.Background())
		if err != nil {
			t.Fatal(err)
		}

		for _, key := range []string{"a", "b", "c"} {
			req, _ := message.NewKeyRequest(key)
			wait := holder.Put(req.RID)
			if err := ch.Write(req); err != nil {
				t.Fatal(err)
			}
			resp, err := holder.Wait(context.Background(), req.RID, wait, time.Second)
			if err != nil {
				t.Fatalf("%s: %v", ct, err)
			}
			var got string
			if err := resp.Decode(&got); err != nil || got != key {
				t.Fatalf("%s: expect %s, got %s (%v)", ct, key, got, err)
			}
		}
		pool.Release(ch)
		pool.Close()
	}
}

func TestChannelPassThrough(t *testing.T) {
	ep := startServer(t, handler.NewChain(echoHandler{}))
	holder := result.NewHolder()
	pool := NewConnectPool(ep, WithChain(clientChain(holder)))
	defer pool.Close()

	ch, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Release(ch)

	// Nobody on the server accepts a oneway: it is dropped and the channel survives.
	o, _ := message.NewOneway("ignored")
	if err := ch.Write(o); err != nil {
		t.Fatal(err)
	}

	req, _ := message.NewKeyRequest("after")
	wait := holder.Put(req.RID)
	if err := ch.Write(req); err != nil {
		t.Fatal(err)
	}
	if _, err := holder.Wait(context.Background(), req.RID, wait, time.Second); err != nil {
		t.Fatalf("expect response after pass-through, got %v", err)
	}
	if !ch.IsActive() {
		t.Fatal("expect channel to stay active")
	}
}

func TestChannelWriteRejectsUnknownMessage(t *testing.T) {
	ep := startServer(t, handler.NewChain())
	pool := NewConnectPool(ep)
	defer pool.Close()

	ch, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Release(ch)

	if err := ch.Write("plain string"); err == nil {
		t.Fatal("expect error writing an unsupported message")
	}
}

func TestChannelCloseIdempotent(t *testing.T) {
	ep := startServer(t, handler.NewChain())
	pool := NewConnectPool(ep)
	defer pool.Close()

	ch, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	ch.Close()
	ch.Close()
	if ch.IsActive() {
		t.Fatal("expect closed channel to be inactive")
	}
	select {
	case <-ch.Done():
	default:
		t.Fatal("expect Done to be closed")
	}
	req, _ := message.NewKeyRequest("k")
	if err := ch.Write(req); !errors.Is(err, rpcerr.ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
	pool.Release(ch)
}

func TestPoolSecondAcquireWaits(t *testing.T) {
	ep := startServer(t, handler.NewChain())
	pool := NewConnectPool(ep, WithMaxConns(1))
	defer pool.Close()

	first, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	var g errgroup.Group
	var second *Channel
	g.Go(func() error {
		var err error
		second, err = pool.AcquireTimeout(2 * time.Second)
		return err
	})

	time.Sleep(50 * time.Millisecond)
	pool.Release(first)

	if err := g.Wait(); err != nil {
		t.Fatalf("expect second acquire to succeed, got %v", err)
	}
	if second != first {
		t.Fatal("expect the released channel to be reused")
	}
	pool.Release(second)
	if pool.Idle() != 1 {
		t.Fatalf("expect 1 idle channel, got %d", pool.Idle())
	}
}

func TestPoolSecondAcquireTimesOut(t *testing.T) {
	ep := startServer(t, handler.NewChain())
	pool := NewConnectPool(ep, WithMaxConns(1))
	defer pool.Close()

	first, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Release(first)

	start := time.Now()
	_, err = pool.AcquireTimeout(100 * time.Millisecond)
	if !errors.Is(err, rpcerr.ErrTimeout) {
		t.Fatalf("expect timeout, got %v", err)
	}
	var te *rpcerr.TimeoutError
	if !errors.As(err, &te) || te.Op != "acquire" || te.After != 100*time.Millisecond {
		t.Fatalf("unexpected timeout error %+v", te)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("expect to wait the full timeout, waited %s", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expect context.Canceled, got %v", err)
	}
}

func TestPoolAcquireAsync(t *testing.T) {
	ep := startServer(t, handler.NewChain())
	pool := NewConnectPool(ep, WithMaxConns(2), WithConnectTimeout(time.Second))
	defer pool.Close()

	select {
	case res := <-pool.AcquireAsync():
		if res.Err != nil {
			t.Fatal(res.Err)
		}
		pool.Release(res.Channel)
	case <-time.After(2 * time.Second):
		t.Fatal("expect async acquire to complete")
	}
}

func TestPoolDiscardsDeadChannels(t *testing.T) {
	ep := startServer(t, handler.NewChain())
	pool := NewConnectPool(ep, WithMaxConns(1))
	defer pool.Close()

	first, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	first.MarkDead()
	pool.Release(first)
	if pool.Idle() != 0 {
		t.Fatalf("expect dead channel to be discarded, %d idle", pool.Idle())
	}

	second, err := pool.AcquireTimeout(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Release(second)
	if second == first {
		t.Fatal("expect a freshly dialed channel")
	}
}

func TestPoolClose(t *testing.T) {
	ep := startServer(t, handler.NewChain())
	pool := NewConnectPool(ep, WithMaxConns(2))

	idle, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	borrowed, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	pool.Release(idle)

	if err := pool.Close(); err != nil {
		t.Fatal(err)
	}
	if err := pool.Close(); err != nil {
		t.Fatalf("expect second close to succeed, got %v", err)
	}
	if idle.IsActive() {
		t.Fatal("expect idle channel to be closed")
	}
	if _, err := pool.Acquire(context.Background()); !errors.Is(err, rpcerr.ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}

	pool.Release(borrowed)
	if borrowed.IsActive() {
		t.Fatal("expect channel released after close to be closed")
	}
}

func TestPoolDialFailure(t *testing.T) {
	dialErr := errors.New("refused")
	pool := NewConnectPool(address.Endpoint{Host: "127.0.0.1", Port: 1}, WithMaxConns(1),
		WithDialer(func(ctx context.Context, network, addr string) (net.Conn, error) {
			return nil, dialErr
		}))
	defer pool.Close()

	if _, err := pool.Acquire(context.Background()); !errors.Is(err, dialErr) {
		t.Fatalf("expect dial error, got %v", err)
	}
	// The permit is returned, so the next attempt dials again instead of blocking.
	if _, err := pool.AcquireTimeout(100 * time.Millisecond); !errors.Is(err, dialErr) {
		t.Fatalf("expect dial error again, got %v", err)
	}
}
