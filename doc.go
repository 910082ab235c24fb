// Package socialq provides the background-processing and caching substrate
// of a social-graph application: a retrying, named job queue that moves
// slow work (email delivery, post and comment persistence) off the request
// path, and a Redis-backed social cache for follower lists, block lists and
// per-user counters.
//
// # Quick Start
//
//	d, err := socialq.New(
//	    socialq.WithStore(redisstore.New(client)),
//	    socialq.WithLogger(logger),
//	)
//	eng, err := engine.Build(d)
//
//	emails := eng.Queue("email")
//	engine.Register(emails, job.NewDefinition("resetPasswordEmail", worker.Send,
//	    job.WithConcurrency(5)))
//
//	_, err = emails.Enqueue(ctx, "resetPasswordEmail", payload)
//
// # Architecture
//
// Every queue shares one broker store and one worker pool. Per-domain
// queues (email, post, comment) are configuration over the shared
// [engine.Queue] handle: a table of job names to handlers with a
// concurrency limit each. Jobs are attempted at most three times with a
// fixed five second delay between attempts. Completed jobs are removed by
// the engine's monitor; exhausted ones land in the dead letter queue,
// which a cron entry on the maintenance queue trims.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package socialq
