// Package health runs named dependency checks in parallel.
//
//	report := health.Run(ctx, health.Checks{
//		"storage":  store.Healthcheck(),
//		"postgres": db.Healthcheck(pool),
//		"redis":    redis.Healthcheck(client),
//	}, health.WithTimeout(2*time.Second))
//	if err := report.Err(); err != nil {
//		return err
//	}
package health
