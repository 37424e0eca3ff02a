package store

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eldtechnologies/peerchat/internal/models"
)

var (
	// ErrNotFound is returned when a point update targets a missing record.
	ErrNotFound = errors.New("record not found")

	// ErrSequenceAlreadySet is returned when a message that already carries a
	// server sequence number is sequenced again.
	ErrSequenceAlreadySet = errors.New("message sequence number already set")
)

// LocalStore defines the device-side record store for peers, chatrooms and
// messages. SQLiteStore implements this interface.
type LocalStore interface {
	Close()

	// Peer operations
	UpsertPeer(ctx context.Context, peer *models.Peer) error
	GetPeer(ctx context.Context, name string) (*models.Peer, error)

	// Chatroom operations
	InsertChatroom(ctx context.Context, room *models.Chatroom) error
	ListChatrooms(ctx context.Context) ([]models.Chatroom, error)

	// Message operations
	InsertMessage(ctx context.Context, msg *models.Message) (int64, error)
	UpdateMessageSequence(ctx context.Context, id, seqNum int64) error
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	ListMessages(ctx context.Context, chatroom string) ([]models.Message, error)
	ListUnsequenced(ctx context.Context) ([]models.Message, error)
}

// Registry stores peer registrations on the chat server.
// Both PostgresStore and RedisStore implement this interface.
type Registry interface {
	Ping(ctx context.Context) error
	UpsertRegistration(ctx context.Context, reg *models.Registration) error
	GetRegistration(ctx context.Context, name string) (*models.Registration, error)
	CountRegistrations(ctx context.Context) (int64, error)
}

// MessageLog is the durable, sequence-ordered record of accepted messages.
// Both PostgresStore and RedisStore implement this interface.
type MessageLog interface {
	// AppendMessage stores msg and returns the sequence number the log holds
	// for its uid: msg.SeqNum when the uid is new, the earlier number when the
	// uid was logged before. A logged uid is never stored twice.
	AppendMessage(ctx context.Context, msg *models.SequencedMessage) (int64, error)
	ListMessages(ctx context.Context, chatroom string, since int64, limit int) ([]models.SequencedMessage, error)
}

// Sequencer hands out global sequence numbers. A repeated submission of the
// same uid yields the sequence number assigned the first time.
type Sequencer interface {
	Assign(ctx context.Context, uid string) (seqNum int64, duplicate bool, err error)

	// Release forgets the submission so a retry is sequenced afresh. The
	// number handed out before is not reused.
	Release(ctx context.Context, uid string) error

	// CurrentSequence returns the last number handed out, 0 before the first.
	CurrentSequence(ctx context.Context) (int64, error)
}

func observe(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
