package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/iapropria/iapropria/internal/config"
	"github.com/iapropria/iapropria/internal/logging"
)

// NewBuilder returns the BuildFunc assembling the configured primary and
// fallback transports for a snapshot.
func NewBuilder(cfg config.VectorStoreConfig, logger *logging.Logger) BuildFunc {
	if logger == nil {
		logger = logging.Nop()
	}
	return func(ctx context.Context, snap Snapshot) (Transport, error) {
		primary, err := newTransport(cfg.Primary, cfg, snap, logger)
		if err != nil {
			return nil, fmt.Errorf("building primary transport: %w", err)
		}

		var secondary Transport
		if cfg.Fallback != "" && cfg.Fallback != config.TransportNone {
			secondary, err = newTransport(cfg.Fallback, cfg, snap, logger)
			switch {
			case IsConfigurationError(err):
				// An unconfigured fallback leaves the primary usable.
				logger.Warn(ctx, "fallback transport not configured, running without it",
					zap.String("fallback", cfg.Fallback), zap.Error(err))
				secondary = nil
			case err != nil:
				_ = primary.Close()
				return nil, fmt.Errorf("building fallback transport: %w", err)
			}
		}

		return NewFallbackTransport(primary, secondary, cfg.QueryTimeout, logger), nil
	}
}

func newTransport(name string, cfg config.VectorStoreConfig, snap Snapshot, logger *logging.Logger) (Transport, error) {
	switch name {
	case config.TransportQdrant:
		return NewQdrantTransport(QdrantConfig{
			Host:           cfg.Qdrant.Host,
			Port:           cfg.Qdrant.Port,
			APIKey:         snap.APIKey,
			Collection:     snap.IndexName,
			Dimension:      cfg.Dimension,
			UseTLS:         cfg.Qdrant.UseTLS,
			MaxMessageSize: cfg.Qdrant.MaxMessageSize,
		}, logger)
	case config.TransportREST:
		timeout := cfg.REST.Timeout
		if timeout <= 0 {
			timeout = cfg.QueryTimeout
		}
		return NewRESTTransport(RESTConfig{
			Host:    cfg.REST.Host,
			APIKey:  snap.APIKey,
			Timeout: timeout,
		}, logger)
	case config.TransportChromem:
		return NewChromemTransport(ChromemConfig{
			Path:      cfg.Chromem.Path,
			Compress:  cfg.Chromem.Compress,
			Index:     snap.IndexName,
			Dimension: cfg.Dimension,
		}, logger)
	default:
		return nil, &ConfigurationError{Field: "vectorstore.primary", Reason: fmt.Sprintf("unknown transport %q", name)}
	}
}
