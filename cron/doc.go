// Package cron enqueues jobs on a schedule.
//
// An [Entry] names a queue, a registered job and a fixed payload, plus a
// standard 5-field cron expression or a descriptor such as "@daily" or
// "@every 30s". The [Scheduler] checks entries on every tick and enqueues
// the ones that are due.
//
// When several processes run the same schedule, give each Scheduler the
// same [Locker]. Every fire slot (entry name plus scheduled time) is
// claimed with SET NX, so exactly one process enqueues it. Without a
// Locker every process fires.
//
// Usage:
//
//	s := cron.NewScheduler(enqueue, cron.WithLocker(cacheStore))
//	_ = s.Add(cron.Entry{Name: "dlq-retention", Schedule: "@daily",
//	    Queue: "maintenance", JobName: dlq.PurgeJobName, Payload: p})
//	_ = s.Start(ctx)
//	defer s.Stop(ctx)
package cron
