// Package storage selects and opens the configured persistence backend.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/minerva-erp/glcore/internal/config"
	"github.com/minerva-erp/glcore/internal/importer"
	"github.com/minerva-erp/glcore/internal/service/aggregate"
	"github.com/minerva-erp/glcore/internal/service/dimension"
	"github.com/minerva-erp/glcore/internal/service/directory"
	"github.com/minerva-erp/glcore/internal/service/posting"
	"github.com/minerva-erp/glcore/internal/service/recon"
	"github.com/minerva-erp/glcore/internal/storage/bolt"
	"github.com/minerva-erp/glcore/internal/storage/memory"
	"github.com/minerva-erp/glcore/internal/storage/postgres"
)

// Store is the full persistence surface the services consume. Every backend
// implements all of it with the same concrete store.
type Store interface {
	posting.Repo
	posting.Writer
	dimension.Reader
	aggregate.Reader
	directory.Repo
	directory.Writer
	recon.Repo
	recon.Writer
	recon.Directory
	importer.Store

	Ping(ctx context.Context) error
}

// Open returns the backend named by the configuration and a close function.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (Store, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		st, err := postgres.Open(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		log.Info("using postgres store")
		return st, st.Close, nil
	case config.BackendBolt:
		st, err := bolt.Open(cfg.Store.BoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open bolt store: %w", err)
		}
		log.Info("using bolt store", "path", cfg.Store.BoltPath)
		return st, func() { _ = st.Close() }, nil
	case config.BackendMemory:
		log.Warn("using in-memory store, data is lost on restart")
		return memory.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
