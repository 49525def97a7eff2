package vectorstore

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/iapropria/iapropria/internal/logging"
	"github.com/iapropria/iapropria/internal/settings"
)

// Provider owns the transport for the current configuration snapshot. It
// builds lazily, rebuilds when the resolved API key or index name changes,
// and closes a replaced transport once the calls using it have returned.
//
// Safe for concurrent use.
type Provider struct {
	resolver *Resolver
	build    BuildFunc
	logger   *logging.Logger

	mu      sync.Mutex // serializes builds and swaps
	current *lease
	closed  bool
}

type lease struct {
	transport Transport
	snapshot  Snapshot
	inflight  sync.WaitGroup
}

// NewProvider creates a provider resolving configuration with resolver and
// constructing transports with build.
func NewProvider(resolver *Resolver, build BuildFunc, logger *logging.Logger) *Provider {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Provider{
		resolver: resolver,
		build:    build,
		logger:   logger.Named("provider"),
	}
}

// Acquire returns the transport for the current snapshot. The caller must
// call release when done; the transport stays open until then even if it
// is replaced meanwhile. A missing API key or index yields a
// ConfigurationError before anything is built.
func (p *Provider) Acquire(ctx context.Context) (Transport, func(), error) {
	snap, err := p.resolver.Snapshot()
	if err != nil {
		return nil, nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, nil, ErrClosed
	}

	if p.current != nil && p.current.snapshot != snap {
		p.logger.Info(ctx, "vector store configuration changed, rebuilding transport",
			zap.String("index", snap.IndexName))
		p.retireLocked()
	}

	if p.current == nil {
		t, err := p.build(ctx, snap)
		if err != nil {
			return nil, nil, err
		}
		TransportRebuilds.Inc()
		p.logger.Debug(ctx, "vector store transport built",
			zap.String("transport", t.Name()),
			zap.String("index", snap.IndexName))
		p.current = &lease{transport: t, snapshot: snap}
	}

	l := p.current
	l.inflight.Add(1)
	var once sync.Once
	return l.transport, func() { once.Do(l.inflight.Done) }, nil
}

// Snapshot returns the snapshot the cached transport was built for.
func (p *Provider) Snapshot() (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return Snapshot{}, false
	}
	return p.current.snapshot, true
}

// Invalidate drops the cached transport so the next Acquire rebuilds it.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retireLocked()
}

// WatchSettings invalidates the provider whenever the API keys or the index
// selection change in store. The returned func stops watching.
func (p *Provider) WatchSettings(store *settings.Store) func() {
	return store.Subscribe(func(c settings.Change) {
		if c.Key == settings.KeyAPIKeys || c.Key == settings.KeyVectorIndex {
			p.Invalidate()
		}
	})
}

// Close closes the cached transport after in-flight calls finish. Later
// Acquire calls fail with ErrClosed.
func (p *Provider) Close() error {
	p.mu.Lock()
	p.closed = true
	l := p.current
	p.current = nil
	p.mu.Unlock()

	if l == nil {
		return nil
	}
	l.inflight.Wait()
	return l.transport.Close()
}

func (p *Provider) retireLocked() {
	l := p.current
	if l == nil {
		return
	}
	p.current = nil
	go func() {
		l.inflight.Wait()
		if err := l.transport.Close(); err != nil {
			p.logger.Warn(context.Background(), "closing replaced transport", zap.Error(err))
		}
	}()
}
