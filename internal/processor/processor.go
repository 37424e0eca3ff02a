// Package processor decorates chat service requests with envelope metadata,
// dispatches them to their handler and reconciles the local store with the
// outcome of the remote call.
package processor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/peerchat/internal/chatclient"
	"github.com/eldtechnologies/peerchat/internal/identity"
	"github.com/eldtechnologies/peerchat/internal/location"
	"github.com/eldtechnologies/peerchat/internal/models"
	"github.com/eldtechnologies/peerchat/internal/request"
	"github.com/eldtechnologies/peerchat/internal/store"
)

// DefaultChatroom is created locally on successful registration unless
// overridden in Deps.
const DefaultChatroom = "_default"

// RemoteChatService is the transport to the chat server.
type RemoteChatService interface {
	Register(ctx context.Context, serverURI string, env request.Envelope) error
	PostMessage(ctx context.Context, serverURI string, env request.Envelope, msg *models.Message) (int64, error)
}

// Settings are the durable settings read and written by the processor.
type Settings interface {
	ChatName() string
	ServerURI() string
	SaveServerURI(uri string) error
	SaveChatName(name string) error
}

// Deps holds the collaborators of a Processor.
type Deps struct {
	Settings        Settings
	Identity        identity.Provider
	Location        location.Provider
	Remote          RemoteChatService
	Store           store.LocalStore
	Logger          zerolog.Logger
	DefaultChatroom string
	Now             func() time.Time
}

// Processor is the request processor.
type Processor struct {
	settings        Settings
	identity        identity.Provider
	location        location.Provider
	remote          RemoteChatService
	store           store.LocalStore
	logger          zerolog.Logger
	defaultChatroom string
	now             func() time.Time
}

// New creates a Processor.
func New(d Deps) *Processor {
	p := &Processor{
		settings:        d.Settings,
		identity:        d.Identity,
		location:        d.Location,
		remote:          d.Remote,
		store:           d.Store,
		logger:          d.Logger.With().Str("component", "processor").Logger(),
		defaultChatroom: d.DefaultChatroom,
		now:             d.Now,
	}
	if p.location == nil {
		p.location = location.Unknown{}
	}
	if p.defaultChatroom == "" {
		p.defaultChatroom = DefaultChatroom
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	return p
}

// Process decorates req with envelope metadata and dispatches it. It always
// returns exactly one response: the success variant req expects, or an
// *request.ErrorResponse.
func (p *Processor) Process(ctx context.Context, req request.Request) request.Response {
	if req == nil {
		return &request.ErrorResponse{ResponseCode: request.CodeUnsupported, ResponseMessage: "unsupported request"}
	}

	p.decorate(ctx, req)

	env := req.Meta()
	if env.ChatName == "" {
		return &request.ErrorResponse{
			ResponseCode:    request.CodeInvalid,
			ResponseMessage: "invalid request",
			ErrorMessage:    "no chat name: register first",
		}
	}

	switch r := req.(type) {
	case *request.Register:
		return p.register(ctx, r)
	case *request.PostMessage:
		return p.postMessage(ctx, r)
	default:
		p.logger.Error().Str("kind", string(req.Kind())).Msg("no handler for request")
		return &request.ErrorResponse{
			ResponseCode:    request.CodeUnsupported,
			ResponseMessage: "unsupported request",
			ErrorMessage:    string(req.Kind()),
		}
	}
}

// Go runs Process in its own goroutine and delivers the response on the
// returned channel. The request is handed over in its wire form, so the
// handler works on its own copy and the caller's value is left untouched.
func (p *Processor) Go(ctx context.Context, req request.Request) <-chan request.Response {
	out := make(chan request.Response, 1)

	data, err := request.Encode(req)
	if err != nil {
		out <- &request.ErrorResponse{ResponseCode: request.CodeUnsupported, ResponseMessage: "unsupported request", ErrorMessage: err.Error()}
		close(out)
		return out
	}

	go func() {
		defer close(out)

		owned, err := request.Decode(data)
		if err != nil {
			out <- &request.ErrorResponse{ResponseCode: request.CodeUnsupported, ResponseMessage: "unsupported request", ErrorMessage: err.Error()}
			return
		}
		out <- p.Process(ctx, owned)
	}()

	return out
}

// decorate fills in the envelope. Chat name is kept when already set
// (registration) and otherwise taken from settings.
func (p *Processor) decorate(ctx context.Context, req request.Request) {
	env := req.Meta()

	env.AppID = p.identity.AppID()
	if env.ChatName == "" {
		env.ChatName = p.settings.ChatName()
	}

	if v, err := p.identity.AppVersion(); err != nil {
		p.logger.Warn().Err(err).Msg("could not resolve app version")
	} else {
		env.Version = v
	}

	if loc, ok := p.location.LastKnown(ctx); ok {
		lat, lon := loc.Latitude, loc.Longitude
		env.Latitude, env.Longitude = &lat, &lon
	} else {
		env.Latitude, env.Longitude = nil, nil
	}

	env.Timestamp = p.now()
}

// errorResponse classifies a failed remote call. Timeouts and connection
// failures are reported the same way.
func errorResponse(err error) *request.ErrorResponse {
	var se *chatclient.StatusError
	if errors.As(err, &se) {
		msg := se.Status
		if msg == "" {
			msg = http.StatusText(se.StatusCode)
		}
		return &request.ErrorResponse{
			ResponseCode:    se.StatusCode,
			ResponseMessage: msg,
			ErrorMessage:    se.Message,
		}
	}
	return &request.ErrorResponse{
		ResponseCode:    request.CodeTransport,
		ResponseMessage: "transport failure",
		ErrorMessage:    err.Error(),
	}
}

func localStoreError(err error) *request.ErrorResponse {
	return &request.ErrorResponse{
		ResponseCode:    request.CodeLocalStore,
		ResponseMessage: "local store failure",
		ErrorMessage:    err.Error(),
	}
}
