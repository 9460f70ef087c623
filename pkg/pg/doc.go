// Package pg is the PostgreSQL backend of the service, built on pgx/v5.
//
// Connect opens a retrying *pgxpool.Pool from Config (PG_* environment
// variables) and Migrate applies the embedded goose migrations that create the
// subscription_records, queue_tasks and queue_dead_letters tables.
//
// RecordStore implements billing.RecordStore. Version 0 writes are
// INSERT ... ON CONFLICT DO NOTHING and later writes are UPDATE ... WHERE
// version = $n, so a lost race surfaces as billing.ErrVersionConflict. The
// record table also enforces the record invariants with CHECK constraints.
//
// QueueStorage implements queue.Storage. Workers claim tasks with
// FOR UPDATE SKIP LOCKED and dead-lettering runs in a single transaction.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//	if err := pg.Migrate(ctx, pool, cfg, log); err != nil {
//		return err
//	}
//	records := pg.NewRecordStore(pool)
//	tasks := pg.NewQueueStorage(pool)
package pg
