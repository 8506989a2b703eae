// Package handler dispatches inbound messages through an ordered chain.
//
// A Chain is attached to every connection, client and server side. For each inbound
// message the entries are tried in ascending order; the first Handler whose Accept
// returns true handles it and the chain stops. A message nobody accepts is passed
// through: Dispatch reports false and the transport logs and drops it.
//
// Mutating a chain while it dispatches is safe but not ordered with respect to
// in-flight messages; wire the chain before traffic starts.
package handler

import (
	"math"
	"net"
	"sort"
	"sync"
)

// Channel is the connection a handler answers on.
type Channel interface {
	Write(msg any) error
	Close() error
	RemoteAddr() net.Addr
}

// Handler processes inbound messages it accepts.
type Handler interface {
	Accept(msg any) bool
	Handle(ch Channel, msg any)
}

// Entity is one chain entry. Ties in Order are broken by insertion order.
type Entity struct {
	Order   int64
	Name    string
	Handler Handler
	seq     uint64
}

type Chain struct {
	mu       sync.RWMutex
	entities []Entity
	seq      uint64
}

// NewChain returns a chain with handlers appended in order.
func NewChain(handlers ...Handler) *Chain {
	c := &Chain{}
	for _, h := range handlers {
		c.AddLast("", h)
	}
	return c
}

// AddFirst inserts h ahead of every entry added so far with a non-minimal order.
func (c *Chain) AddFirst(name string, h Handler) *Chain {
	return c.Add(math.MinInt64, name, h)
}

// AddLast appends h behind every entry added so far.
func (c *Chain) AddLast(name string, h Handler) *Chain {
	return c.Add(math.MaxInt64, name, h)
}

// Add inserts h with an explicit order.
func (c *Chain) Add(order int64, name string, h Handler) *Chain {
	if h == nil {
		panic("handler: nil Handler")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// Copy on write: Dispatch iterates the old slice without holding the lock.
	c.seq++
	next := make([]Entity, len(c.entities), len(c.entities)+1)
	copy(next, c.entities)
	next = append(next, Entity{Order: order, Name: name, Handler: h, seq: c.seq})
	sort.SliceStable(next, func(i, j int) bool {
		if next[i].Order != next[j].Order {
			return next[i].Order < next[j].Order
		}
		return next[i].seq < next[j].seq
	})
	c.entities = next
	return c
}

func (c *Chain) IsEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities) == 0
}

// Entities returns a snapshot of the chain in dispatch order.
func (c *Chain) Entities() []Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entity, len(c.entities))
	copy(out, c.entities)
	return out
}

// Dispatch hands msg to the first accepting handler. It reports whether any did.
func (c *Chain) Dispatch(ch Channel, msg any) bool {
	c.mu.RLock()
	entities := c.entities
	c.mu.RUnlock()

	for _, e := range entities {
		if e.Handler.Accept(msg) {
			e.Handler.Handle(ch, msg)
			return true
		}
	}
	return false
}
