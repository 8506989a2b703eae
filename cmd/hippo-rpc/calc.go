package main

import (
	"context"
	"errors"

	"hippo4j-rpc/proxy"
)

// Calculator is the demo service exposed by "serve".
type Calculator interface {
	Add(a, b int) (int, error)
	Div(a, b int) (int, error)
}

type calculator struct{}

func (calculator) Add(a, b int) (int, error) { return a + b, nil }

func (calculator) Div(a, b int) (int, error) {
	if b == 0 {
		return 0, errors.New("division by zero")
	}
	return a / b, nil
}

type calculatorStub struct {
	*proxy.Stub
}

func newCalculatorStub(s *proxy.Stub) Calculator { return &calculatorStub{s} }

func (c *calculatorStub) Add(a, b int) (int, error) {
	return proxy.Call[int](context.Background(), c.Stub, "Add", a, b)
}

func (c *calculatorStub) Div(a, b int) (int, error) {
	return proxy.Call[int](context.Background(), c.Stub, "Div", a, b)
}
