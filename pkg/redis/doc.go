// Package redis opens the go-redis client shared by the path lock and the
// record cache.
//
//	client, err := redis.Open(ctx, redis.Config{URL: "redis://localhost:6379/0"})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
// [Healthcheck] and [Shutdown] return closures for health probes and
// shutdown hooks.
package redis
