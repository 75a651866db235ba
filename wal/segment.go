package wal

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const segmentPrefix = "wal-"

func segmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%05d", segmentPrefix, index))
}

// listSegments returns the indices of the segment files in dir, oldest
// first. A missing directory has no segments.
func listSegments(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var indices []int
	for _, e := range entries {
		rest, ok := strings.CutPrefix(e.Name(), segmentPrefix)
		if !ok || e.IsDir() {
			continue
		}
		idx, err := strconv.Atoi(rest)
		if err != nil || idx < 0 {
			continue
		}
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, nil
}

// OpenWALForReading opens a journal directory for reading from the oldest
// remaining segment.
func OpenWALForReading(dir string) (Reader, error) {
	indices, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return nil, ErrWALNotFound
	}
	return &segmentReader{dir: dir, pending: indices}, nil
}

// segmentReader reads the segments of a journal in order, opening each one
// only when the previous one is exhausted.
type segmentReader struct {
	dir     string
	pending []int
	file    *os.File
	frames  *frameReader
}

func (r *segmentReader) Read() (*Message, error) {
	for {
		if r.file == nil {
			if len(r.pending) == 0 {
				return nil, io.EOF
			}
			f, err := os.Open(segmentPath(r.dir, r.pending[0]))
			if err != nil {
				return nil, err
			}
			r.pending = r.pending[1:]
			r.file = f
			r.frames = newFrameReader(f)
		}

		msg, _, err := r.frames.next()
		if err == io.EOF {
			r.file.Close()
			r.file = nil
			continue
		}
		if err != nil {
			return nil, err
		}
		return msg, nil
	}
}

func (r *segmentReader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

var _ Reader = (*segmentReader)(nil)
