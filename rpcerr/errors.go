// Package rpcerr defines the error taxonomy shared by every layer of the RPC stack.
//
// Callers distinguish failures with errors.Is / errors.As:
//
//	errors.Is(err, rpcerr.ErrTimeout)              // no correlated response in time
//	errors.As(err, new(*rpcerr.RemoteInvocationError)) // the remote code failed
//	errors.As(err, new(*rpcerr.AddressFormatError))    // the address never parsed
package rpcerr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("timeout waiting for server-side response")

	// ErrClosed is returned when using a pool, client or server after Close.
	ErrClosed = errors.New("rpc: use of closed resource")

	// ErrSend wraps fire-and-forget write failures.
	ErrSend = errors.New("rpc: send failed")
)

// AddressFormatError reports an address string without a parseable port.
type AddressFormatError struct {
	Address string
	Reason  string
}

func (e *AddressFormatError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("rpc: malformed address %q", e.Address)
	}
	return fmt.Sprintf("rpc: malformed address %q: %s", e.Address, e.Reason)
}

// TimeoutError reports that an operation ran out of its time budget.
// Op names the phase that expired: "acquire" for the pool, "response" for the wait.
type TimeoutError struct {
	Op    string
	Key   string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	msg := ErrTimeout.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Key != "" {
		msg += ", key " + e.Key
	}
	if e.After > 0 {
		msg += fmt.Sprintf(" after %s", e.After)
	}
	return msg
}

// Timeout makes TimeoutError satisfy the net.Error style check.
func (e *TimeoutError) Timeout() bool { return true }

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ConnectionError reports a structural protocol violation, such as a request
// carrying the wrong number of parameters for its target.
type ConnectionError struct {
	Msg string
}

func (e *ConnectionError) Error() string { return "rpc: " + e.Msg }

// InterfaceRequiredError is returned when a proxy is requested over a non-interface type.
type InterfaceRequiredError struct {
	Type string
}

func (e *InterfaceRequiredError) Error() string {
	return fmt.Sprintf("rpc: %s is not an interface", e.Type)
}

// RemoteInvocationError carries a failure raised by the remote handler.
// Type is the remote error's Go type name as reported by the server.
type RemoteInvocationError struct {
	Key     string
	Type    string
	Message string
}

func (e *RemoteInvocationError) Error() string {
	if e.Type == "" {
		return "rpc: remote invocation failed: " + e.Message
	}
	return fmt.Sprintf("rpc: remote invocation failed (%s): %s", e.Type, e.Message)
}
