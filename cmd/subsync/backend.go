package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/subsync/pkg/billing"
	"github.com/dmitrymomot/subsync/pkg/config"
	"github.com/dmitrymomot/subsync/pkg/httpserver"
	"github.com/dmitrymomot/subsync/pkg/mongo"
	"github.com/dmitrymomot/subsync/pkg/pg"
	"github.com/dmitrymomot/subsync/pkg/queue"
)

// backend is the persistence selected by STORE_DRIVER: subscription records
// and the event retry queue always live in the same database.
type backend struct {
	records billing.RecordStore
	tasks   queue.Storage
	checks  []httpserver.Check
	close   func()
}

func openBackend(ctx context.Context, driver string, log *slog.Logger) (*backend, error) {
	switch driver {
	case storeMemory:
		log.WarnContext(ctx, "using in-memory store, records are lost on restart")
		return &backend{
			records: billing.NewMemoryStore(),
			tasks:   queue.NewMemoryStorage(),
			close:   func() {},
		}, nil

	case storeMongo:
		var cfg mongo.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		db, err := mongo.NewWithDatabase(ctx, cfg)
		if err != nil {
			return nil, err
		}
		tasks := mongo.NewQueueStorage(db)
		if err := tasks.EnsureIndexes(ctx); err != nil {
			_ = db.Client().Disconnect(context.WithoutCancel(ctx))
			return nil, err
		}
		records := mongo.NewRecordStore(db)
		return &backend{
			records: records,
			tasks:   tasks,
			checks:  []httpserver.Check{{Name: "mongo", Fn: records.Healthcheck}},
			close:   func() { _ = db.Client().Disconnect(context.Background()) },
		}, nil

	case storePostgres:
		var cfg pg.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx, pool, cfg, log); err != nil {
				pool.Close()
				return nil, err
			}
		}
		records := pg.NewRecordStore(pool)
		return &backend{
			records: records,
			tasks:   pg.NewQueueStorage(pool),
			checks:  []httpserver.Check{{Name: "postgres", Fn: records.Healthcheck}},
			close:   pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q: want %s, %s or %s", driver, storeMemory, storeMongo, storePostgres)
	}
}
