// Package snapshot persists exported policy states.
//
// A Snapshot is the bandit.State of one domain's policy at a point in time.
// Backends keep every saved snapshot until it is pruned, so operators can
// inspect history and restore the latest state after a restart.
//
// Available backends:
//   - MemoryBackend: in-process, lost on exit (default)
//   - SQLiteBackend: SQLite database file, survives restarts
//
// SaveAll and RestoreAll move the states of every domain at once, and
// Scheduler runs SaveAll on a cron schedule.
//
// # Example
//
//	backend, err := snapshot.Open(cfg.Snapshot)
//	if err != nil {
//	    return err
//	}
//	defer backend.Close()
//
//	sched, err := snapshot.NewScheduler(cfg.Snapshot.Schedule, func(ctx context.Context) error {
//	    _, err := snapshot.SaveAll(ctx, backend, engine, cfg.Snapshot.Retain)
//	    return err
//	}, logger)
//	sched.Start()
//	defer sched.Stop(ctx)
package snapshot
