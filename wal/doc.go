// Package wal implements the append-only event journal.
//
// Every committed vote change and every leadership transition is appended to
// the journal after the store transaction commits. The journal is an audit
// trail: it can be read back and folded to recompute per-key totals and the
// leader sequence, which is how the ledger is verified offline.
//
// # Core Interface
//
// WAL defines the segment writer:
//
//	type WAL interface {
//	    Write(msg *Message) error
//	    WriteSync(msg *Message) error
//	    LastSeq() uint64
//	    Start() error
//	    Stop() error
//	}
//
// Journal wraps a WAL, numbers events consecutively and satisfies the
// engine's sink contract.
//
// # File Format
//
// Each entry is encoded as:
//
//	[4 bytes: length][17 bytes: type, seq, unix nanos][N bytes: JSON event][4 bytes: CRC32]
//
// CRC32 detects corruption from incomplete writes or disk errors.
//
// # Rotation and Cleanup
//
// Segments rotate once they reach the configured size:
//
//	wal-00000
//	wal-00001
//
// Checkpoint removes leading segments whose entries are all at or below a
// given sequence number.
//
// # Recovery
//
// On Start every segment is scanned to recover the last sequence number. A
// damaged frame at the end of the newest segment is a torn write and is
// truncated; damage in any older segment is reported as ErrWALCorrupted.
//
// # Thread Safety
//
// FileWAL and Journal use internal locking. Only one writer should own a
// directory at a time.
//
// # Usage Example
//
//	w, err := wal.NewFileWAL("./data/journal")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := w.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
//	j := wal.NewJournal(w, true)
//	eng, err := engine.New(st, cfg, engine.WithSinks(j))
//
//	// later, offline
//	err = wal.ReadEvents("./data/journal", func(seq uint64, ev types.Event) error {
//	    fmt.Println(seq, ev.Type, ev.Project, ev.Key)
//	    return nil
//	})
package wal
