package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	filePerm = 0600
	dirPerm  = 0700

	writeBufferSize       = 64 * 1024
	defaultMaxSegmentSize = 64 * 1024 * 1024
)

// ErrOutOfOrder is returned when a message does not extend the sequence.
var ErrOutOfOrder = errors.New("journal sequence out of order")

// Option configures a FileWAL.
type Option func(*FileWAL)

// WithMaxSegmentSize sets the size at which segments rotate.
func WithMaxSegmentSize(n int64) Option {
	return func(w *FileWAL) {
		if n > 0 {
			w.maxSegmentSize = n
		}
	}
}

// WithLogger sets the logger used for recovery messages.
func WithLogger(l logrus.FieldLogger) Option {
	return func(w *FileWAL) { w.log = l }
}

// segment is one journal file and the highest sequence number it holds
// (0 while empty).
type segment struct {
	index   int
	lastSeq uint64
}

// FileWAL is a segmented journal on disk. The newest segment is open for
// appending; older segments are closed and only ever deleted whole.
type FileWAL struct {
	mu             sync.Mutex
	dir            string
	maxSegmentSize int64
	log            logrus.FieldLogger

	started  bool
	segments []segment // oldest first
	file     *os.File
	out      *bufio.Writer
	size     int64 // bytes in the open segment
	lastSeq  uint64
}

// NewFileWAL creates a journal in dir. Nothing is read until Start.
func NewFileWAL(dir string, opts ...Option) (*FileWAL, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	w := &FileWAL{
		dir:            dir,
		maxSegmentSize: defaultMaxSegmentSize,
		log:            logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start recovers the sequence from the existing segments, cutting off a torn
// frame at the end of the newest one, and opens that segment for appending.
func (w *FileWAL) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}

	indices, err := listSegments(w.dir)
	if err != nil {
		return fmt.Errorf("failed to list journal segments: %w", err)
	}
	if len(indices) == 0 {
		indices = []int{0}
	}

	w.segments = w.segments[:0]
	w.lastSeq = 0
	for i, idx := range indices {
		last, err := w.recoverSegment(idx, i == len(indices)-1)
		if err != nil {
			return fmt.Errorf("failed to scan journal segment %d: %w", idx, err)
		}
		w.segments = append(w.segments, segment{index: idx, lastSeq: last})
		if last > w.lastSeq {
			w.lastSeq = last
		}
	}

	if err := w.open(indices[len(indices)-1]); err != nil {
		return err
	}
	w.started = true
	return nil
}

// recoverSegment returns the highest sequence number in a segment. Damage is
// only tolerated at the end of the newest segment, where it is a write the
// process did not finish; the segment is truncated to its last whole frame.
func (w *FileWAL) recoverSegment(index int, newest bool) (uint64, error) {
	path := segmentPath(w.dir, index)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	frames := newFrameReader(f)
	var (
		valid int64
		last  uint64
	)
	for {
		msg, n, err := frames.next()
		if err == io.EOF {
			return last, nil
		}
		if err != nil {
			if !newest {
				return 0, err
			}
			w.log.WithError(err).WithFields(logrus.Fields{
				"segment": index,
				"offset":  valid,
			}).Warn("truncating torn journal tail")
			if terr := os.Truncate(path, valid); terr != nil {
				return 0, fmt.Errorf("truncate torn tail: %w", terr)
			}
			return last, nil
		}
		valid += int64(n)
		last = msg.Seq
	}
}

func (w *FileWAL) open(index int) error {
	f, err := os.OpenFile(segmentPath(w.dir, index), os.O_RDWR|os.O_CREATE|os.O_APPEND, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open journal segment %d: %w", index, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat journal segment %d: %w", index, err)
	}

	w.file = f
	w.out = bufio.NewWriterSize(f, writeBufferSize)
	w.size = info.Size()
	return nil
}

// Stop flushes and closes the open segment. Stopping twice is a no-op.
func (w *FileWAL) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return nil
	}
	w.started = false

	if err := w.sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Write appends a message. It is buffered until the next sync.
func (w *FileWAL) Write(msg *Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.append(msg)
}

// WriteSync appends a message and fsyncs the segment.
func (w *FileWAL) WriteSync(msg *Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.append(msg); err != nil {
		return err
	}
	return w.sync()
}

func (w *FileWAL) append(msg *Message) error {
	if !w.started {
		return ErrWALClosed
	}
	if msg.Seq <= w.lastSeq {
		return fmt.Errorf("%w: seq %d after %d", ErrOutOfOrder, msg.Seq, w.lastSeq)
	}

	if w.size >= w.maxSegmentSize {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("failed to rotate journal: %w", err)
		}
	}

	n, err := frameWriter{w: w.out}.write(msg)
	if err != nil {
		return err
	}
	w.size += int64(n)
	w.lastSeq = msg.Seq
	w.segments[len(w.segments)-1].lastSeq = msg.Seq
	return nil
}

// rotate seals the open segment and starts the next one.
func (w *FileWAL) rotate() error {
	if err := w.sync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}

	next := w.segments[len(w.segments)-1].index + 1
	w.segments = append(w.segments, segment{index: next})
	return w.open(next)
}

// FlushAndSync flushes buffered messages and fsyncs the open segment.
func (w *FileWAL) FlushAndSync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return ErrWALClosed
	}
	return w.sync()
}

func (w *FileWAL) sync() error {
	if err := w.out.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// LastSeq returns the highest sequence number written.
func (w *FileWAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeq
}

// Group describes the segments currently on disk.
func (w *FileWAL) Group() *Group {
	w.mu.Lock()
	defer w.mu.Unlock()

	g := &Group{
		Dir:     w.dir,
		Prefix:  segmentPrefix,
		MaxSize: w.maxSegmentSize,
	}
	if len(w.segments) > 0 {
		g.MinIndex = w.segments[0].index
		g.MaxIndex = w.segments[len(w.segments)-1].index
	}
	return g
}

// Checkpoint deletes the oldest segments whose messages all have
// seq <= upTo. The open segment is never deleted.
func (w *FileWAL) Checkpoint(upTo uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return ErrWALClosed
	}

	removed := 0
	defer func() { w.segments = w.segments[removed:] }()

	for removed < len(w.segments)-1 && w.segments[removed].lastSeq <= upTo {
		idx := w.segments[removed].index
		if err := os.Remove(segmentPath(w.dir, idx)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete segment %d: %w", idx, err)
		}
		removed++
	}
	if removed > 0 {
		w.log.WithFields(logrus.Fields{
			"segments": removed,
			"up_to":    upTo,
		}).Debug("journal checkpoint")
	}
	return nil
}

// SegmentCount returns the number of segments on disk.
func (w *FileWAL) SegmentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.segments)
}

// CurrentSegmentSize returns the size of the open segment.
func (w *FileWAL) CurrentSegmentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

var _ WAL = (*FileWAL)(nil)
