package ingest

import (
	"errors"
	"fmt"
	"sync"
)

// Adapter names accepted in sources.yaml.
const (
	AdapterGeneric = "generic"
	AdapterBDNS    = "bdns"
	AdapterCKAN    = "ckan"
	AdapterRSS     = "rss"
	AdapterHTML    = "html"
)

var ErrUnknownAdapter = errors.New("unknown adapter")

// AdapterFactory maps adapter names (from sources.yaml) to implementations.
type AdapterFactory struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewAdapterFactory() *AdapterFactory {
	return &AdapterFactory{
		adapters: make(map[string]Adapter),
	}
}

// DefaultAdapterFactory returns a factory with every built-in adapter registered.
func DefaultAdapterFactory() *AdapterFactory {
	f := NewAdapterFactory()
	f.Register(GenericAdapter{})
	f.Register(BDNSAdapter{})
	f.Register(CKANAdapter{})
	f.Register(NewRSSAdapter())
	f.Register(HTMLAdapter{})
	return f
}

func (f *AdapterFactory) Register(a Adapter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adapters[a.Name()] = a
}

func (f *AdapterFactory) Get(name string) (Adapter, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAdapter, name)
	}
	return a, nil
}
