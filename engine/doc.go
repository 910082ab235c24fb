// Package engine wires the socialq subsystems together and provides the
// application-level API for registering workers and enqueuing jobs.
//
// The engine package exists to break an import cycle: the root socialq
// package defines Entity and the sentinel errors, which job, dlq and the
// stores import, so it cannot import those packages back. Engine sits
// above all subsystem packages and below the application layer.
//
// # Building an Engine
//
//	d, err := socialq.New(
//	    socialq.WithStore(redisstore.New(client)),
//	    socialq.WithLogger(logger),
//	)
//
//	eng, err := engine.Build(d,
//	    engine.WithBoard(board),
//	    engine.WithMeterProvider(mp),
//	)
//
// # Queues
//
// Every domain queue is a handle over the shared broker and pool:
//
//	emails := eng.Queue("email")
//	engine.Register(emails, job.NewDefinition("resetPasswordEmail", send,
//	    job.WithConcurrency(5)))
//
//	_, err = emails.Enqueue(ctx, "resetPasswordEmail", payload)
//
// Enqueue rejects job names with no registered worker, validates the
// payload against the worker's type, and reports broker failures as
// socialq.ErrBrokerUnavailable.
//
// # Maintenance
//
// [Engine.ScheduleDLQRetention] registers the DLQ purge job on
// [MaintenanceQueue] and adds its cron entry; [Engine.EnqueueRaw] is the
// enqueue function a cron.Scheduler calls.
//
// # Options
//
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the execution chain
//   - [WithBackoff]: replace the fixed retry delay
//   - [WithQueueConfig]: per-queue rate limits and concurrency
//   - [WithBoard]: share a monitor.Board with the monitoring API
//   - [WithMonitor]: replace the default job monitor
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
package engine
