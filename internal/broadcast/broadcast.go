// Package broadcast fans sequenced messages out to subscribers over NATS.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/peerchat/internal/models"
)

// SubjectPrefix is prepended to the chatroom name to form the subject.
const SubjectPrefix = "chat."

// Publisher announces a message once it has been sequenced.
type Publisher interface {
	Publish(ctx context.Context, msg *models.SequencedMessage) error
	Close()
}

// Subject returns the subject a chatroom's messages are published on. NATS
// tokens cannot contain whitespace, dots or wildcards, so those are replaced.
func Subject(chatroom string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, chatroom)
	if token == "" {
		token = "_"
	}
	return SubjectPrefix + token
}

// NATSPublisher publishes on a core NATS connection.
type NATSPublisher struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url string, logger zerolog.Logger) (*NATSPublisher, error) {
	log := logger.With().Str("component", "broadcast").Logger()

	conn, err := nats.Connect(url,
		nats.Name("peerchat-server"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &NATSPublisher{conn: conn, logger: log}, nil
}

// Publish sends msg as JSON on its chatroom's subject.
func (p *NATSPublisher) Publish(_ context.Context, msg *models.SequencedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.conn.Publish(Subject(msg.Chatroom), data)
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn().Err(err).Msg("nats drain failed")
	}
}

// Nop discards every message. Used when no NATS server is configured.
type Nop struct{}

func (Nop) Publish(context.Context, *models.SequencedMessage) error { return nil }
func (Nop) Close()                                                   {}
