// Package redis connects to Redis with go-redis and provides the shared
// event deduplicator used when several service replicas receive provider
// events.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	svc := billing.NewService(provider, store, catalog,
//		billing.WithDeduplicator(redis.NewEventDeduplicator(client, cfg)))
//
// EventDeduplicator.Healthcheck is the probe behind the redis entry of /health.
package redis
