// Package settings persists the peer's durable settings: its app id, the
// server it registered with and its chat name.
package settings

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

const fileName = "settings.json"

// Settings is loaded once at startup and written back on every change.
type Settings struct {
	path string

	mu   sync.RWMutex
	data fileData
}

type fileData struct {
	AppID     string `json:"app_id"`
	ServerURI string `json:"server_uri,omitempty"`
	ChatName  string `json:"chat_name,omitempty"`
}

// Load reads settings from dir, creating the file with a fresh app id on
// first use.
func Load(dir string) (*Settings, error) {
	s := &Settings{path: filepath.Join(dir, fileName)}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(data, &s.data); err != nil {
			return nil, err
		}
	}

	if s.data.AppID == "" {
		s.data.AppID = uuid.NewString()
		if err := s.save(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// AppID returns the install's app id.
func (s *Settings) AppID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.AppID
}

// ServerURI returns the server the peer last registered with.
func (s *Settings) ServerURI() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.ServerURI
}

// ChatName returns the peer's registered chat name.
func (s *Settings) ChatName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.ChatName
}

// SaveServerURI stores the server URI.
func (s *Settings) SaveServerURI(uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.ServerURI = uri
	return s.save()
}

// SaveChatName stores the chat name.
func (s *Settings) SaveChatName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.ChatName = name
	return s.save()
}

// save writes the file atomically. Callers hold mu.
func (s *Settings) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}

	data, _ := json.MarshalIndent(s.data, "", "  ")
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
