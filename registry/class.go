// Package registry resolves the targets of reflective calls on the server:
//
//	ClassRegistry  name -> reflect.Type            ("which interface is being called")
//	MethodCache    (type, method, params) -> Method ("which method, with which signature")
//	Instance       reflect.Type -> receiver         ("which object handles it")
//
// Each server owns its own registries, so tests and embedded servers never share state.
package registry

import (
	"reflect"
	"sync"
)

// TypeName is the name a type is registered and called under: "pkgpath.Name".
// Client stubs and servers both derive class names through it.
func TypeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer && t.Name() == "" {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// ClassRegistry maps class names to types. Last write wins.
type ClassRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

func NewClassRegistry() *ClassRegistry {
	return &ClassRegistry{types: make(map[string]reflect.Type)}
}

func (r *ClassRegistry) Put(name string, t reflect.Type) {
	r.mu.Lock()
	r.types[name] = t
	r.mu.Unlock()
}

// PutType registers t under TypeName(t) and returns that name.
func (r *ClassRegistry) PutType(t reflect.Type) string {
	name := TypeName(t)
	r.Put(name, t)
	return name
}

func (r *ClassRegistry) Get(name string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

func (r *ClassRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}
