// Package natsink publishes committed ledger events to NATS.
//
// Vote events (cast, switch, cancel) go to <prefix>.vote.<project>.<key> and
// leadership transitions to <prefix>.leader.<project>.<key>. Payloads are the
// JSON encoding of types.Event.
package natsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/blockberries/tallyberry/types"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "tallyberry"

// ErrBadSubject is returned when an event cannot be mapped to a subject.
var ErrBadSubject = errors.New("event does not map to a valid subject")

// publisher is the subset of *nats.Conn the sink uses.
type publisher interface {
	Publish(subj string, data []byte) error
}

// Sink publishes events to NATS. It satisfies engine.Sink.
type Sink struct {
	pub    publisher
	prefix string
	log    logrus.FieldLogger
}

// Option configures a Sink.
type Option func(*Sink)

// WithPrefix sets the subject prefix.
func WithPrefix(prefix string) Option {
	return func(s *Sink) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Sink) { s.log = l }
}

// New returns a sink publishing on conn.
func New(conn *nats.Conn, opts ...Option) *Sink {
	return newSink(conn, opts...)
}

func newSink(pub publisher, opts ...Option) *Sink {
	s := &Sink{
		pub:    pub,
		prefix: DefaultPrefix,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials url with reconnects enabled and logs connection state changes.
func Connect(url string, log logrus.FieldLogger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("tallyberry"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.WithField("url", c.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}

// Subject returns the subject ev is published on.
func (s *Sink) Subject(ev types.Event) (string, error) {
	var kind string
	switch ev.Type {
	case types.EventCast, types.EventSwitch, types.EventCancel:
		kind = "vote"
	case types.EventLeader:
		kind = "leader"
	default:
		return "", fmt.Errorf("%w: type %q", ErrBadSubject, ev.Type)
	}
	for _, token := range []string{string(ev.Project), string(ev.Key)} {
		if token == "" || strings.ContainsAny(token, " \t\r\n.*>") {
			return "", fmt.Errorf("%w: token %q", ErrBadSubject, token)
		}
	}
	return strings.Join([]string{s.prefix, kind, string(ev.Project), string(ev.Key)}, "."), nil
}

// Publish sends ev. NATS publishes are buffered by the client, so ctx is only
// checked before sending.
func (s *Sink) Publish(ctx context.Context, ev types.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, err := s.Subject(ev)
	if err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := s.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	s.log.WithFields(logrus.Fields{
		"subject": subject,
		"event":   ev.Type,
	}).Debug("event published")
	return nil
}
