// Package async runs background work that must not block a request.
//
// A Group owns a set of fire-and-forget tasks. Each task runs with its own
// timeout, detached from the request context, and panics or errors are
// logged instead of propagated:
//
//	background := async.NewGroup(logger, 5*time.Second)
//	background.Go("api key last-used update", func(ctx context.Context) error {
//		return store.TouchLastUsed(ctx, keyID, now)
//	})
//
// Shutdown calls WaitContext so in-flight writes finish before the database
// pool is closed.
package async
