package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// Frame layout: [4B big-endian payload length][payload][4B CRC32-IEEE of payload].
const (
	frameLenSize  = 4
	frameCRCSize  = 4
	frameOverhead = frameLenSize + frameCRCSize
	maxFrameSize  = 10 << 20
)

// frameWriter appends framed messages to w.
type frameWriter struct {
	w io.Writer
}

// write frames msg and writes it with a single call. It returns the number
// of bytes written.
func (fw frameWriter) write(msg *Message) (int, error) {
	payload, err := msg.MarshalBinary()
	if err != nil {
		return 0, err
	}
	if len(payload) > maxFrameSize {
		return 0, fmt.Errorf("journal message too large: %d bytes", len(payload))
	}

	frame := make([]byte, frameOverhead+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[frameLenSize:], payload)
	binary.BigEndian.PutUint32(frame[frameLenSize+len(payload):], crc32.ChecksumIEEE(payload))
	return fw.w.Write(frame)
}

// frameReader reads framed messages. Its scratch buffer grows to the
// largest frame seen and is reused.
type frameReader struct {
	r       *bufio.Reader
	scratch []byte
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReader(r)}
}

// next returns the next message and the size of its frame. A clean end of
// input is io.EOF; a frame cut short is io.ErrUnexpectedEOF; a frame that
// fails its checksum is ErrWALCorrupted.
func (fr *frameReader) next() (*Message, int, error) {
	var lenBuf [frameLenSize]byte
	if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
		return nil, 0, err
	}
	size := int(binary.BigEndian.Uint32(lenBuf[:]))
	if size > maxFrameSize {
		return nil, 0, fmt.Errorf("%w: frame length %d", ErrWALCorrupted, size)
	}

	need := size + frameCRCSize
	if cap(fr.scratch) < need {
		fr.scratch = make([]byte, need)
	}
	body := fr.scratch[:need]
	if _, err := io.ReadFull(fr.r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, 0, err
	}

	payload := body[:size]
	want := binary.BigEndian.Uint32(body[size:])
	if got := crc32.ChecksumIEEE(payload); got != want {
		return nil, 0, fmt.Errorf("%w: CRC mismatch (expected %08x, got %08x)", ErrWALCorrupted, want, got)
	}

	// Message.Data aliases its input, so hand it a private copy.
	msg := &Message{}
	if err := msg.UnmarshalBinary(append([]byte(nil), payload...)); err != nil {
		return nil, 0, err
	}
	return msg, frameLenSize + need, nil
}
