// Package dlq holds jobs that failed terminally, either because a handler
// classified the failure as terminal or because every attempt was spent.
//
// When a job fails for the last time the executor calls [Service.Push].
// The entry keeps the original payload, final error, attempt counts and
// whether the failure was classified terminal, so an operator can
// inspect it and decide whether to replay.
//
// # Replay
//
// [Service.Replay] enqueues a new job with the same queue, name and
// payload, a fresh ID and a fresh attempt budget, then marks the entry
// replayed. The monitoring API exposes it as POST /dlq/{id}/replay.
package dlq
