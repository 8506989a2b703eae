package main

import (
	"testing"

	"hippo4j-rpc/naming"
)

func TestPickAddr(t *testing.T) {
	addr, err := pickAddr("calculator", []naming.ServiceInstance{{}, {Addr: "10.0.0.1:9000"}, {Addr: "10.0.0.2:9000"}})
	if err != nil {
		t.Fatal(err)
	}
	if addr != "10.0.0.1:9000" {
		t.Fatalf("expect first published endpoint, got %s", addr)
	}

	if _, err := pickAddr("calculator", nil); err == nil {
		t.Fatal("expect error when nothing is published")
	}
}
