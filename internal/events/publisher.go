// Package events streams recorded verification attempts to a message broker.
package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the JetStream stream holding attempt events.
	StreamName = "VERIFICATION_ATTEMPTS"
	// SubjectPrefix prefixes every attempt subject; the carrier name follows.
	SubjectPrefix = "verification.attempts"
)

// Publisher delivers one encoded event.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

// Subject returns the subject an attempt for carrier is published on.
// NATS token separators and wildcards in the carrier name are replaced.
func Subject(carrier string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return SubjectPrefix + "." + r.Replace(carrier)
}

// NATSPublisher publishes to a JetStream stream bound to SubjectPrefix.>.
type NATSPublisher struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// NewNATSPublisher connects to url and ensures the attempts stream exists.
func NewNATSPublisher(ctx context.Context, url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("telecom"))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectPrefix + ".>"},
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating stream %s: %w", StreamName, err)
	}

	return &NATSPublisher{conn: conn, js: js}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) error { return nil }
func (Nop) Close() error                                  { return nil }
