package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/peerchat/internal/chatclient"
	"github.com/eldtechnologies/peerchat/internal/config"
	"github.com/eldtechnologies/peerchat/internal/identity"
	"github.com/eldtechnologies/peerchat/internal/location"
	"github.com/eldtechnologies/peerchat/internal/logger"
	"github.com/eldtechnologies/peerchat/internal/processor"
	"github.com/eldtechnologies/peerchat/internal/settings"
	"github.com/eldtechnologies/peerchat/internal/store"
)

// app wires the peer's components together for one CLI invocation.
type app struct {
	cfg      *config.ClientConfig
	settings *settings.Settings
	store    *store.SQLiteStore
	client   *chatclient.Client
	proc     *processor.Processor
	logger   zerolog.Logger
}

func newApp(ctx context.Context, cfg *config.ClientConfig) (*app, error) {
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Stdout = false // stdout is for command output
	logCfg.FilePath = cfg.LogPath()
	log := logger.New(logCfg).With().Str("env", cfg.Env).Logger()

	s, err := settings.Load(cfg.Home)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	fallback, err := location.Parse(cfg.Latitude, cfg.Longitude)
	if err != nil {
		return nil, err
	}
	loc := location.File{Path: filepath.Join(cfg.Home, "location.json"), Fallback: fallback}

	db, err := store.NewSQLiteStore(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	client := chatclient.NewClient(cfg.Timeout)

	return &app{
		cfg:      cfg,
		settings: s,
		store:    db,
		client:   client,
		logger:   log,
		proc: processor.New(processor.Deps{
			Settings:        s,
			Identity:        identity.New(s),
			Location:        loc,
			Remote:          client,
			Store:           db,
			Logger:          log,
			DefaultChatroom: cfg.DefaultChatroom,
		}),
	}, nil
}

// serverURI is the registered server, or the configured one before registration.
func (a *app) serverURI() string {
	if uri := a.settings.ServerURI(); uri != "" {
		return uri
	}
	return a.cfg.ServerURL
}

func (a *app) Close() {
	a.store.Close()
}
