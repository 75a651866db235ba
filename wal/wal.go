package wal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blockberries/tallyberry/types"
)

// Errors
var (
	ErrWALClosed    = errors.New("journal is closed")
	ErrWALCorrupted = errors.New("journal is corrupted")
	ErrWALNotFound  = errors.New("journal not found")
	ErrUnknownType  = errors.New("unknown journal message type")
)

// MessageType identifies the kind of committed change a message records.
type MessageType uint8

const (
	MsgTypeUnknown MessageType = iota
	MsgTypeCast
	MsgTypeSwitch
	MsgTypeCancel
	MsgTypeLeader
)

// String returns the event name of the type.
func (t MessageType) String() string {
	switch t {
	case MsgTypeCast:
		return string(types.EventCast)
	case MsgTypeSwitch:
		return string(types.EventSwitch)
	case MsgTypeCancel:
		return string(types.EventCancel)
	case MsgTypeLeader:
		return string(types.EventLeader)
	default:
		return "unknown"
	}
}

// MessageTypeFor maps an event type to its message type.
func MessageTypeFor(t types.EventType) (MessageType, error) {
	switch t {
	case types.EventCast:
		return MsgTypeCast, nil
	case types.EventSwitch:
		return MsgTypeSwitch, nil
	case types.EventCancel:
		return MsgTypeCancel, nil
	case types.EventLeader:
		return MsgTypeLeader, nil
	default:
		return MsgTypeUnknown, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

// Message is one journal entry. Seq increases by one per entry across
// segments and restarts.
type Message struct {
	Type MessageType
	Seq  uint64
	Time int64 // unix nanoseconds
	Data []byte
}

// headerSize is type (1) + seq (8) + time (8).
const headerSize = 17

// MarshalBinary serializes the message as a fixed header followed by Data.
func (m *Message) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerSize+len(m.Data))
	buf[0] = byte(m.Type)
	binary.BigEndian.PutUint64(buf[1:9], m.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(m.Time))
	copy(buf[headerSize:], m.Data)
	return buf, nil
}

// UnmarshalBinary deserializes the message. Data aliases the input.
func (m *Message) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("%w: short message (%d bytes)", ErrWALCorrupted, len(data))
	}
	m.Type = MessageType(data[0])
	m.Seq = binary.BigEndian.Uint64(data[1:9])
	m.Time = int64(binary.BigEndian.Uint64(data[9:17]))
	m.Data = data[headerSize:]
	return nil
}

// NewEventMessage creates a journal message for a committed event.
func NewEventMessage(seq uint64, ev types.Event) (*Message, error) {
	t, err := MessageTypeFor(ev.Type)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return &Message{
		Type: t,
		Seq:  seq,
		Time: ev.Time.UnixNano(),
		Data: data,
	}, nil
}

// DecodeEvent decodes the event carried by msg.
func DecodeEvent(msg *Message) (types.Event, error) {
	var ev types.Event
	if msg.Type == MsgTypeUnknown || msg.Type > MsgTypeLeader {
		return ev, fmt.Errorf("%w: %d", ErrUnknownType, msg.Type)
	}
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return ev, fmt.Errorf("%w: seq %d: %v", ErrWALCorrupted, msg.Seq, err)
	}
	if ev.Time.IsZero() {
		ev.Time = time.Unix(0, msg.Time).UTC()
	}
	return ev, nil
}

// WAL is an append-only, segmented journal.
type WAL interface {
	// Write writes a message to the journal
	Write(msg *Message) error

	// WriteSync writes a message and ensures it's synced to disk
	WriteSync(msg *Message) error

	// FlushAndSync flushes and syncs all pending writes
	FlushAndSync() error

	// LastSeq returns the highest sequence number written, 0 if none
	LastSeq() uint64

	// Start opens the journal for writing
	Start() error

	// Stop flushes and closes the journal
	Stop() error

	// Group returns the current segment group
	Group() *Group
}

// Reader reads journal messages in order.
type Reader interface {
	// Read returns the next message, or io.EOF
	Read() (*Message, error)

	// Close closes the reader
	Close() error
}

// Group describes the segment files of a journal.
type Group struct {
	Dir      string
	Prefix   string
	MaxSize  int64
	MinIndex int
	MaxIndex int
}
