// Package ledger keeps an audit trail of experiment phase transitions.
//
// Every promotion, rollback and operator action taken by the experiment
// coordinator is written as a Transition. Writes go through a Recorder
// that buffers them on a channel and persists them on a background
// goroutine, so the coordinator never blocks on storage.
//
// Two storage backends are provided:
//   - MemoryStorage: for tests and ephemeral deployments
//   - SQLiteStorage: a SQLite database in WAL mode
//
// # Usage
//
//	store, err := ledger.Open(cfg.Ledger)
//	if err != nil {
//	    return err
//	}
//	rec := ledger.NewRecorder(store, ledger.RecorderConfig{AsyncBuffer: 1000})
//	defer rec.Close()
//
//	rec.Record(&ledger.Transition{Domain: "routing", Variant: "variant_a", From: "shadow", To: "active"})
package ledger
