package server

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"time"

	"go.uber.org/zap"

	"hippo4j-rpc/handler"
	"hippo4j-rpc/logger"
	"hippo4j-rpc/middleware"
	"hippo4j-rpc/naming"
	"hippo4j-rpc/registry"
)

// DefaultNamingTTL is the lease, in seconds, of a published endpoint.
const DefaultNamingTTL int64 = 10

type SupportOption func(*Support)

// WithClasses registers the given types for reflective dispatch. Only interface
// types are registered; anything else is skipped.
func WithClasses(types ...reflect.Type) SupportOption {
	return func(s *Support) {
		for _, t := range types {
			s.putClass(t)
		}
	}
}

// WithInstance replaces the default instance provider.
func WithInstance(instance registry.Instance) SupportOption {
	return func(s *Support) { s.instance = instance }
}

// WithConnection serves through conn instead of a fresh SimpleServerConnection.
func WithConnection(conn *SimpleServerConnection) SupportOption {
	return func(s *Support) { s.conn = conn }
}

// WithMiddleware wraps the default reflective handler.
func WithMiddleware(mws ...middleware.Middleware) SupportOption {
	return func(s *Support) {
		s.handlerOpts = append(s.handlerOpts, handler.WithMiddleware(mws...))
	}
}

// WithNaming publishes host:boundPort under service once bound and withdraws it on Close.
func WithNaming(reg naming.Registry, service, host string) SupportOption {
	return func(s *Support) {
		s.naming, s.service, s.host = reg, service, host
	}
}

func WithSupportLogger(l *zap.Logger) SupportOption {
	return func(s *Support) { s.log = l }
}

// Support assembles a server: class registry, instance provider, handler chain and
// listener. Without explicit handlers it serves reflective calls on the registered
// interfaces.
type Support struct {
	port        ServerPort
	conn        *SimpleServerConnection
	server      *RPCServer
	classes     *registry.ClassRegistry
	instance    registry.Instance
	handlerOpts []handler.Option
	naming      naming.Registry
	service     string
	host        string
	published   string
	log         *zap.Logger
}

func NewSupport(port ServerPort, opts ...SupportOption) *Support {
	s := &Support{
		port:    port,
		classes: registry.NewClassRegistry(),
		log:     logger.Named("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.instance == nil {
		s.instance = registry.NewDefaultInstance()
	}
	if s.conn == nil {
		s.conn = NewSimpleServerConnection(nil, WithLogger(s.log))
	}
	s.server = NewRPCServer(s.conn, port)
	return s
}

func (s *Support) putClass(t reflect.Type) {
	if t.Kind() != reflect.Interface {
		s.log.Debug("skip non-interface class", zap.Stringer("type", t))
		return
	}
	s.classes.PutType(t)
}

// Register binds impl as the receiver for calls on iface. iface must be an interface
// and the instance provider a *registry.DefaultInstance.
func (s *Support) Register(iface reflect.Type, impl any) error {
	if iface.Kind() != reflect.Interface {
		return fmt.Errorf("server: %s is not an interface", iface)
	}
	di, ok := s.instance.(*registry.DefaultInstance)
	if !ok {
		return fmt.Errorf("server: instance provider %T does not accept registrations", s.instance)
	}
	if err := di.Register(iface, impl); err != nil {
		return err
	}
	s.classes.PutType(iface)
	return nil
}

// RegisterService registers impl for the interface T.
func RegisterService[T any](s *Support, impl T) error {
	return s.Register(reflect.TypeFor[T](), impl)
}

func (s *Support) Classes() *registry.ClassRegistry { return s.classes }

// Connection exposes the handler chain, so handlers can be added before Bind.
func (s *Support) Connection() *SimpleServerConnection { return s.conn }

// Bind installs the reflective handler when the chain is empty, binds the port and
// publishes the endpoint when naming is configured.
func (s *Support) Bind() error {
	if s.conn.IsEmpty() {
		h, err := handler.NewServerTakeHandler(s.classes, s.instance, s.handlerOpts...)
		if err != nil {
			return err
		}
		s.conn.AddLast("server-take", h)
	}
	if err := s.server.Bind(); err != nil {
		return err
	}

	if s.naming != nil {
		addr := net.JoinHostPort(s.host, strconv.Itoa(s.server.Port()))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.naming.Register(ctx, s.service, naming.ServiceInstance{Addr: addr}, DefaultNamingTTL); err != nil {
			s.server.Close()
			return fmt.Errorf("server: publish %s: %w", addr, err)
		}
		s.published = addr
		s.log.Info("endpoint published", zap.String("service", s.service), zap.String("addr", addr))
	}
	return nil
}

func (s *Support) IsActive() bool { return s.server.IsActive() }

func (s *Support) Port() int { return s.server.Port() }

// Close withdraws the published endpoint first, so nobody learns a dying address,
// then closes the server. It is idempotent.
func (s *Support) Close() error {
	if s.naming != nil && s.published != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.naming.Deregister(ctx, s.service, s.published); err != nil {
			s.log.Warn("withdraw endpoint failed", zap.String("addr", s.published), zap.Error(err))
		}
		cancel()
		s.published = ""
	}
	return s.server.Close()
}
