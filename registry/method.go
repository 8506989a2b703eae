package registry

import (
	"fmt"
	"reflect"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"hippo4j-rpc/message"
	"hippo4j-rpc/rpcerr"
)

// DefaultMethodCacheSize bounds the number of resolved methods kept per server.
const DefaultMethodCacheSize = 256

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Method is a resolved, callable method signature.
//
// Accepted shapes (receiver omitted):
//
//	func(args...)
//	func(args...) R
//	func(args...) error
//	func(args...) (R, error)
type Method struct {
	Name      string
	In        []reflect.Type
	HasValue  bool
	HasError  bool
	ownerType reflect.Type
}

// MethodCache resolves methods by name and parameter types and keeps the most
// recently used resolutions.
type MethodCache struct {
	cache *lru.Cache
}

func NewMethodCache(size int) (*MethodCache, error) {
	if size <= 0 {
		size = DefaultMethodCacheSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &MethodCache{cache: c}, nil
}

// methodKey identifies a resolution. Types are compared by identity, so same-named
// types from different packages never share an entry.
type methodKey struct {
	t      reflect.Type
	name   string
	params string
}

func cacheKey(t reflect.Type, name string, paramTypes []string) methodKey {
	return methodKey{t: t, name: name, params: strings.Join(paramTypes, ",")}
}

// Lookup resolves name on t. Non-empty entries of paramTypes must match the
// declared parameter types; interface-typed parameters accept anything.
func (c *MethodCache) Lookup(t reflect.Type, name string, paramTypes []string) (*Method, error) {
	key := cacheKey(t, name, paramTypes)
	if v, ok := c.cache.Get(key); ok {
		return v.(*Method), nil
	}

	m, err := resolve(t, name, paramTypes)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, m)
	return m, nil
}

func (c *MethodCache) Len() int {
	return c.cache.Len()
}

func resolve(t reflect.Type, name string, paramTypes []string) (*Method, error) {
	var (
		fn     reflect.Type
		offset int // 1 when fn carries the receiver as its first argument
	)
	if t.Kind() == reflect.Interface {
		m, ok := t.MethodByName(name)
		if !ok {
			return nil, fmt.Errorf("registry: no method %s on %s", name, t)
		}
		fn = m.Type
	} else {
		pt := t
		if pt.Kind() != reflect.Pointer {
			pt = reflect.PointerTo(t)
		}
		m, ok := pt.MethodByName(name)
		if !ok {
			return nil, fmt.Errorf("registry: no method %s on %s", name, t)
		}
		fn, offset = m.Type, 1
	}

	if fn.IsVariadic() {
		return nil, fmt.Errorf("registry: variadic method %s.%s is not callable remotely", t, name)
	}

	method := &Method{Name: name, ownerType: t}
	for i := offset; i < fn.NumIn(); i++ {
		method.In = append(method.In, fn.In(i))
	}

	switch fn.NumOut() {
	case 0:
	case 1:
		if fn.Out(0) == errorType {
			method.HasError = true
		} else {
			method.HasValue = true
		}
	case 2:
		if fn.Out(1) != errorType {
			return nil, fmt.Errorf("registry: second result of %s.%s must be error", t, name)
		}
		method.HasValue, method.HasError = true, true
	default:
		return nil, fmt.Errorf("registry: %s.%s returns too many values", t, name)
	}

	if len(paramTypes) > 0 {
		if len(paramTypes) != len(method.In) {
			return nil, &rpcerr.ConnectionError{Msg: fmt.Sprintf("%s.%s expects %d parameters, request declares %d", t, name, len(method.In), len(paramTypes))}
		}
		for i, pt := range paramTypes {
			in := method.In[i]
			if pt == "" || in.Kind() == reflect.Interface {
				continue
			}
			if pt != in.String() {
				return nil, fmt.Errorf("registry: no method %s.%s with parameter %d of type %s", t, name, i, pt)
			}
		}
	}
	return method, nil
}

// DecodeArgs unmarshals the request parameters into the declared parameter types.
// A parameter count mismatch is a *rpcerr.ConnectionError.
func (m *Method) DecodeArgs(req *message.Request) ([]reflect.Value, error) {
	if len(req.Parameters) != len(m.In) {
		return nil, &rpcerr.ConnectionError{Msg: fmt.Sprintf("%s.%s expects %d parameters, got %d", m.ownerType, m.Name, len(m.In), len(req.Parameters))}
	}
	args := make([]reflect.Value, len(m.In))
	for i, in := range m.In {
		ptr := reflect.New(in)
		if err := req.Param(i, ptr.Interface()); err != nil {
			return nil, fmt.Errorf("decode parameter %d of %s.%s: %w", i, m.ownerType, m.Name, err)
		}
		args[i] = ptr.Elem()
	}
	return args, nil
}

// Call invokes the method on receiver and splits the results into value and error.
func (m *Method) Call(receiver any, args []reflect.Value) (any, error) {
	fn := reflect.ValueOf(receiver).MethodByName(m.Name)
	if !fn.IsValid() {
		return nil, fmt.Errorf("registry: %T has no callable method %s", receiver, m.Name)
	}

	results := fn.Call(args)

	var (
		value any
		err   error
	)
	if m.HasValue {
		value = results[0].Interface()
	}
	if m.HasError {
		if e := results[len(results)-1]; !e.IsNil() {
			err = e.Interface().(error)
		}
	}
	return value, err
}
