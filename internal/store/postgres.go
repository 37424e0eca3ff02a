package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/peerchat/internal/metrics"
	"github.com/eldtechnologies/peerchat/internal/models"
)

// PostgresStore handles PostgreSQL database operations for the chat server.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate creates tables if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS registrations (
		name TEXT PRIMARY KEY,
		app_id UUID NOT NULL,
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		registered_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq_num BIGINT PRIMARY KEY,
		uid TEXT UNIQUE NOT NULL,
		chatroom TEXT NOT NULL,
		sender TEXT NOT NULL,
		text TEXT NOT NULL,
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		app_id TEXT NOT NULL DEFAULT '',
		ts BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chatroom_seq ON messages(chatroom, seq_num);
	`)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertRegistration records a peer, replacing an earlier registration of the same name.
func (s *PostgresStore) UpsertRegistration(ctx context.Context, reg *models.Registration) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO registrations (name, app_id, latitude, longitude)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			app_id = EXCLUDED.app_id,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			registered_at = now()
		RETURNING registered_at
	`, reg.Name, reg.AppID, reg.Latitude, reg.Longitude).Scan(&reg.RegisteredAt)
}

// GetRegistration retrieves a registration by peer name.
func (s *PostgresStore) GetRegistration(ctx context.Context, name string) (*models.Registration, error) {
	reg := &models.Registration{}
	err := s.pool.QueryRow(ctx, `
		SELECT name, app_id, latitude, longitude, registered_at
		FROM registrations WHERE name = $1
	`, name).Scan(
		&reg.Name,
		&reg.AppID,
		&reg.Latitude,
		&reg.Longitude,
		&reg.RegisteredAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return reg, nil
}

// CountRegistrations returns the number of registered peers.
func (s *PostgresStore) CountRegistrations(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM registrations`).Scan(&count)
	return count, err
}

// AppendMessage persists a sequenced message. Re-appending a uid leaves the
// stored row alone and returns its sequence number.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.SequencedMessage) (int64, error) {
	defer observe(metrics.PostgresLatency, time.Now())
	var seqNum int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (seq_num, uid, chatroom, sender, text, latitude, longitude, app_id, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (uid) DO UPDATE SET uid = EXCLUDED.uid
		RETURNING seq_num
	`, msg.SeqNum, msg.UID, msg.Chatroom, msg.Sender, msg.Text, msg.Latitude, msg.Longitude, msg.AppID, msg.Timestamp).Scan(&seqNum)
	if err != nil {
		return 0, err
	}
	return seqNum, nil
}

// ListMessages returns messages of a chatroom with a sequence number greater
// than since, in ascending sequence order.
func (s *PostgresStore) ListMessages(ctx context.Context, chatroom string, since int64, limit int) ([]models.SequencedMessage, error) {
	defer observe(metrics.PostgresLatency, time.Now())
	rows, err := s.pool.Query(ctx, `
		SELECT seq_num, uid, chatroom, sender, text, latitude, longitude, app_id, ts
		FROM messages
		WHERE chatroom = $1 AND seq_num > $2
		ORDER BY seq_num
		LIMIT $3
	`, chatroom, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.SequencedMessage, 0, limit)
	for rows.Next() {
		var msg models.SequencedMessage
		err := rows.Scan(
			&msg.SeqNum,
			&msg.UID,
			&msg.Chatroom,
			&msg.Sender,
			&msg.Text,
			&msg.Latitude,
			&msg.Longitude,
			&msg.AppID,
			&msg.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}
