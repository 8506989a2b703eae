// Package naming publishes the endpoint a server bound to, so operators and peers
// can learn a dynamically allocated port.
//
// Callers can look a published endpoint up by service name and watch the list
// change. There is no balancing across instances.
package naming

import "context"

// ServiceInstance is one published endpoint.
type ServiceInstance struct {
	Addr    string `json:"addr"`
	Version string `json:"version,omitempty"`
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
	Close() error
}
