package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/peerchat/internal/broadcast"
	"github.com/eldtechnologies/peerchat/internal/chatclient"
	"github.com/eldtechnologies/peerchat/internal/store"
)

// chatNameRegex limits chat names to what can sit in a URL path segment.
var chatNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.\-]{1,64}$`)

// Pinger is a dependency reported by the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds the collaborators of a Handler.
type Deps struct {
	Registry  store.Registry
	Sequencer store.Sequencer
	Messages  store.MessageLog // source of truth for reads
	Cache     store.MessageLog // optional recent-message cache, written after Messages
	Publisher broadcast.Publisher
	Checks    map[string]Pinger
	Logger    zerolog.Logger
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	registry  store.Registry
	sequencer store.Sequencer
	messages  store.MessageLog
	cache     store.MessageLog
	publisher broadcast.Publisher
	checks    map[string]Pinger
	logger    zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	h := &Handler{
		registry:  d.Registry,
		sequencer: d.Sequencer,
		messages:  d.Messages,
		cache:     d.Cache,
		publisher: d.Publisher,
		checks:    d.Checks,
		logger:    d.Logger.With().Str("component", "handlers").Logger(),
	}
	if h.publisher == nil {
		h.publisher = broadcast.Nop{}
	}
	return h
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len(name) > 100 {
		name = name[:100]
	}

	return name
}

func isValidChatName(name string) bool {
	return chatNameRegex.MatchString(name)
}

// coordinates reads the optional location headers. A header that is missing
// or out of range leaves that coordinate unknown.
func coordinates(r *http.Request) (lat, lon *float64) {
	return coordinate(r.Header.Get(chatclient.HeaderLatitude), 90),
		coordinate(r.Header.Get(chatclient.HeaderLongitude), 180)
}

func coordinate(s string, bound float64) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < -bound || v > bound {
		return nil
	}
	return &v
}
