package wal

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/blockberries/tallyberry/types"
)

// Journal appends committed events to a WAL, numbering them consecutively.
// It satisfies the engine's post-commit sink contract.
type Journal struct {
	mu   sync.Mutex
	wal  WAL
	sync bool
}

// NewJournal wraps a started WAL. With sync set every event is fsynced
// before Publish returns.
func NewJournal(w WAL, sync bool) *Journal {
	return &Journal{wal: w, sync: sync}
}

// Publish appends ev.
func (j *Journal) Publish(_ context.Context, ev types.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	msg, err := NewEventMessage(j.wal.LastSeq()+1, ev)
	if err != nil {
		return err
	}
	if j.sync {
		return j.wal.WriteSync(msg)
	}
	return j.wal.Write(msg)
}

// LastSeq returns the sequence number of the last appended event.
func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.wal.LastSeq()
}

// ReadEvents calls fn for every event in the journal directory, in order.
// A missing journal yields no events.
func ReadEvents(dir string, fn func(seq uint64, ev types.Event) error) error {
	r, err := OpenWALForReading(dir)
	if errors.Is(err, ErrWALNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	defer r.Close()
	return ForEachEvent(r, fn)
}

// ForEachEvent drains r, decoding each message into an event.
func ForEachEvent(r Reader, fn func(seq uint64, ev types.Event) error) error {
	for {
		msg, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		ev, err := DecodeEvent(msg)
		if err != nil {
			return err
		}
		if err := fn(msg.Seq, ev); err != nil {
			return err
		}
	}
}
