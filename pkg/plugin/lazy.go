package plugin

import "sync"

// Lazy builds a value on the first Get and returns the same value, or the
// same error, on every later call.
type Lazy[T any] struct {
	once  sync.Once
	build func() (T, error)
	v     T
	err   error
}

func NewLazy[T any](build func() (T, error)) *Lazy[T] {
	return &Lazy[T]{build: build}
}

// LazyResolve defers Resolve until the first Get.
func LazyResolve[T any](r *Registry, kind Kind, name string, opts Options) *Lazy[T] {
	return NewLazy(func() (T, error) { return Resolve[T](r, kind, name, opts) })
}

func (l *Lazy[T]) Get() (T, error) {
	l.once.Do(func() {
		l.v, l.err = l.build()
		l.build = nil
	})
	return l.v, l.err
}
