// Package queue gates job execution per queue and per (queue, job name)
// pair.
//
// Every worker binding registers a concurrency for its job name. The
// [Manager] refuses to start another invocation of that handler once the
// bound number are running. Queues may additionally carry a token-bucket
// rate limit (golang.org/x/time/rate) and a queue-wide concurrency cap:
//
//	m := queue.NewManager(queue.Config{Name: "email", RateLimit: 10, RateBurst: 20})
//	m.SetJobConcurrency("email", "resetPasswordEmail", 5)
//
//	if m.Acquire("email", "resetPasswordEmail") {
//	    defer m.Release("email", "resetPasswordEmail")
//	    // process the job
//	}
//
// Queues and job names without configuration have no limits beyond the
// pool size.
package queue
