package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/peerchat/internal/models"
)

// SQLiteStore is the device-local store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the local database.
// If dbPath is empty, defaults to "./data/peerchat.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/peerchat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS peers (
		name TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		latitude REAL,
		longitude REAL
	);

	CREATE TABLE IF NOT EXISTS chatrooms (
		name TEXT PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uid TEXT UNIQUE NOT NULL,
		text TEXT NOT NULL,
		chatroom TEXT NOT NULL,
		sender TEXT NOT NULL,
		latitude REAL,
		longitude REAL,
		app_id TEXT DEFAULT '',
		timestamp DATETIME NOT NULL,
		seq_num INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chatroom ON messages(chatroom);
	CREATE INDEX IF NOT EXISTS idx_messages_seq_num ON messages(seq_num);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// UpsertPeer inserts a peer or overwrites the timestamp and location of the
// peer with the same name.
func (s *SQLiteStore) UpsertPeer(ctx context.Context, peer *models.Peer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO peers (name, timestamp, latitude, longitude)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			timestamp = excluded.timestamp,
			latitude = excluded.latitude,
			longitude = excluded.longitude
	`, peer.Name, peer.Timestamp, peer.Latitude, peer.Longitude)
	if err != nil {
		return fmt.Errorf("upsert peer %q: %w", peer.Name, err)
	}
	return nil
}

// GetPeer retrieves a peer by name.
func (s *SQLiteStore) GetPeer(ctx context.Context, name string) (*models.Peer, error) {
	peer := &models.Peer{}
	var lat, lon sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT name, timestamp, latitude, longitude
		FROM peers WHERE name = ?
	`, name).Scan(&peer.Name, &peer.Timestamp, &lat, &lon)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	peer.Latitude = floatPtr(lat)
	peer.Longitude = floatPtr(lon)
	return peer, nil
}

// InsertChatroom adds a chatroom. Inserting a name that already exists is a no-op.
func (s *SQLiteStore) InsertChatroom(ctx context.Context, room *models.Chatroom) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO chatrooms (name) VALUES (?)`, room.Name)
	if err != nil {
		return fmt.Errorf("insert chatroom %q: %w", room.Name, err)
	}
	return nil
}

// ListChatrooms returns all chatrooms ordered by name.
func (s *SQLiteStore) ListChatrooms(ctx context.Context) ([]models.Chatroom, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM chatrooms ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Chatroom
	for rows.Next() {
		var room models.Chatroom
		if err := rows.Scan(&room.Name); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// InsertMessage records a message and returns its local primary key.
// The key is also written back to msg.ID.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *models.Message) (int64, error) {
	if msg.UID == "" {
		msg.UID = ulid.Make().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (uid, text, chatroom, sender, latitude, longitude, app_id, timestamp, seq_num)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.UID, msg.Text, msg.Chatroom, msg.Sender, msg.Latitude, msg.Longitude, msg.AppID, msg.Timestamp, msg.SeqNum)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	msg.ID = id
	return id, nil
}

// UpdateMessageSequence sets the server sequence number of the message with
// the given local key. The update only applies while the sequence number is
// still unset; a second attempt fails with ErrSequenceAlreadySet.
func (s *SQLiteStore) UpdateMessageSequence(ctx context.Context, id, seqNum int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET seq_num = ? WHERE id = ? AND seq_num IS NULL
	`, seqNum, id)
	if err != nil {
		return fmt.Errorf("update message %d sequence: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update message %d sequence: %w", id, err)
	}
	if n == 1 {
		return nil
	}

	// Nothing updated: either the key is unknown or the sequence is already set
	var existing sql.NullInt64
	err = s.db.QueryRowContext(ctx, `SELECT seq_num FROM messages WHERE id = ?`, id).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("message %d has sequence %d: %w", id, existing.Int64, ErrSequenceAlreadySet)
}

// GetMessage retrieves a message by local key.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, uid, text, chatroom, sender, latitude, longitude, app_id, timestamp, seq_num
		FROM messages WHERE id = ?
	`, id)

	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// ListMessages returns the messages of a chatroom in local insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatroom string) ([]models.Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, uid, text, chatroom, sender, latitude, longitude, app_id, timestamp, seq_num
		FROM messages WHERE chatroom = ?
		ORDER BY id
	`, chatroom)
}

// ListUnsequenced returns messages whose upload has not been acknowledged.
func (s *SQLiteStore) ListUnsequenced(ctx context.Context) ([]models.Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, uid, text, chatroom, sender, latitude, longitude, app_id, timestamp, seq_num
		FROM messages WHERE seq_num IS NULL
		ORDER BY id
	`)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var lat, lon sql.NullFloat64
	var seq sql.NullInt64

	err := row.Scan(
		&msg.ID,
		&msg.UID,
		&msg.Text,
		&msg.Chatroom,
		&msg.Sender,
		&lat,
		&lon,
		&msg.AppID,
		&msg.Timestamp,
		&seq,
	)
	if err != nil {
		return nil, err
	}

	msg.Latitude = floatPtr(lat)
	msg.Longitude = floatPtr(lon)
	if seq.Valid {
		n := seq.Int64
		msg.SeqNum = &n
	}
	return msg, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
