// Package recorder durably records entity state changes.
//
// The write path is:
//
//	EventSource -> Intake -> write queue -> Writer -> Store
//
// Intake tracks the last-known state of every entity to derive
// last_changed, then enqueues an immutable State record. A single Writer
// goroutine commits records in enqueue order. Commit failures are logged
// and the record is dropped; the write path never fails the producer
// except for malformed events or shutdown.
//
// BlockTillDone is a drain barrier: it returns once everything enqueued
// before the call has been handled by the Writer.
//
// Two Store implementations are provided: SQLiteStore (default, via the
// database package) and PostgresStore (via pgx).
//
// Usage:
//
//	rec := recorder.New(recorder.NewSQLiteStore(db.DB), recorder.Options{SeedCache: true})
//	rec.SetLogger(log)
//	if err := rec.Start(ctx); err != nil {
//	    return err
//	}
//	defer rec.Stop(context.Background())
//	_ = rec.Attach(ctx, subscriber)
package recorder
