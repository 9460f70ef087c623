// Package mongo provides the MongoDB backend of the service: connection
// management, the subscription record store and the retry queue storage.
//
// RecordStore keeps one document per user keyed by user id. Writes are
// optimistic: the first version is inserted (a duplicate key means another
// writer won), later versions are replaced with a filter on the expected
// version. QueueStorage claims due tasks with a single findOneAndUpdate so
// several workers can share one collection.
//
// # Usage
//
//	db, err := mongo.NewWithDatabase(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	records := mongo.NewRecordStore(db)
//	tasks := mongo.NewQueueStorage(db)
//	if err := tasks.EnsureIndexes(ctx); err != nil {
//		return err
//	}
//
// Configuration is read from MONGODB_* environment variables; see Config.
package mongo
