package driver

import (
	"fmt"
	"sort"
	"sync"
)

// OpenFunc opens a backend.
type OpenFunc func(opts Options) (Driver, error)

var (
	mu       sync.RWMutex
	backends = make(map[Kind]OpenFunc)
)

// Register makes a backend available under kind. Backends register from init.
func Register(kind Kind, fn OpenFunc) {
	mu.Lock()
	defer mu.Unlock()
	backends[kind] = fn
}

// Open opens the backend registered for opts.Kind.
func Open(opts Options) (Driver, error) {
	mu.RLock()
	fn, ok := backends[opts.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q is not available in this build", ErrUnknownKind, opts.Kind)
	}
	if opts.SnapLen <= 0 {
		opts.SnapLen = DefaultSnapLen
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	return fn(opts)
}

// IsSupported reports whether a backend is registered for kind.
func IsSupported(kind Kind) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := backends[kind]
	return ok
}

// SupportedKinds lists the registered backends in name order.
func SupportedKinds() []Kind {
	mu.RLock()
	defer mu.RUnlock()
	kinds := make([]Kind, 0, len(backends))
	for k := range backends {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
