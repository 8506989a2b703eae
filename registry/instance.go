package registry

import (
	"fmt"
	"reflect"
	"sync"
)

// Instance supplies the receiver that calls on type t are invoked on.
// Applications with their own wiring implement it (or use InstanceFunc) to hand
// out injected objects.
type Instance interface {
	GetInstance(t reflect.Type) (any, error)
}

// InstanceFunc adapts a function to Instance.
type InstanceFunc func(t reflect.Type) (any, error)

func (f InstanceFunc) GetInstance(t reflect.Type) (any, error) { return f(t) }

// DefaultInstance keeps one singleton per type.
//
// Interfaces must be bound with Register or Provide. Struct types (and pointers to
// structs) without a binding are constructed with their zero value on first use.
type DefaultInstance struct {
	mu        sync.Mutex
	instances map[reflect.Type]any
	factories map[reflect.Type]func() (any, error)
}

func NewDefaultInstance() *DefaultInstance {
	return &DefaultInstance{
		instances: make(map[reflect.Type]any),
		factories: make(map[reflect.Type]func() (any, error)),
	}
}

// Register binds a ready instance to t. For interface types impl must implement t.
func (d *DefaultInstance) Register(t reflect.Type, impl any) error {
	if impl == nil {
		return fmt.Errorf("registry: nil instance for %s", t)
	}
	if t.Kind() == reflect.Interface && !reflect.TypeOf(impl).Implements(t) {
		return fmt.Errorf("registry: %T does not implement %s", impl, t)
	}
	d.mu.Lock()
	d.instances[t] = impl
	d.mu.Unlock()
	return nil
}

// Provide binds a factory to t. It runs once, on first GetInstance.
func (d *DefaultInstance) Provide(t reflect.Type, factory func() (any, error)) {
	d.mu.Lock()
	d.factories[t] = factory
	delete(d.instances, t)
	d.mu.Unlock()
}

func (d *DefaultInstance) GetInstance(t reflect.Type) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if inst, ok := d.instances[t]; ok {
		return inst, nil
	}

	var (
		inst any
		err  error
	)
	switch {
	case d.factories[t] != nil:
		inst, err = d.factories[t]()
		if err != nil {
			return nil, fmt.Errorf("registry: create instance of %s: %w", t, err)
		}
		if t.Kind() == reflect.Interface && (inst == nil || !reflect.TypeOf(inst).Implements(t)) {
			return nil, fmt.Errorf("registry: factory for %s returned %T", t, inst)
		}
	case t.Kind() == reflect.Struct:
		// Pointer so that pointer-receiver methods are callable.
		inst = reflect.New(t).Interface()
	case t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct:
		inst = reflect.New(t.Elem()).Interface()
	default:
		return nil, fmt.Errorf("registry: no instance bound for %s", t)
	}

	d.instances[t] = inst
	return inst, nil
}
