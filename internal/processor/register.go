package processor

import (
	"context"

	"github.com/eldtechnologies/peerchat/internal/models"
	"github.com/eldtechnologies/peerchat/internal/request"
)

// register performs the registration handshake. Nothing is written locally
// until the server has confirmed the registration.
func (p *Processor) register(ctx context.Context, req *request.Register) request.Response {
	serverURI := req.RegisterURL
	if serverURI == "" {
		serverURI = p.settings.ServerURI()
	}

	log := p.logger.With().Str("chat_name", req.ChatName).Str("server", serverURI).Logger()
	log.Debug().Msg("registering")

	if err := p.remote.Register(ctx, serverURI, req.Envelope); err != nil {
		resp := errorResponse(err)
		log.Warn().
			Int("code", resp.ResponseCode).
			Str("detail", resp.ErrorMessage).
			Msg("registration failed")
		return resp
	}

	peer := &models.Peer{
		Name:      req.ChatName,
		Timestamp: p.now(),
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	}
	if err := p.store.UpsertPeer(ctx, peer); err != nil {
		log.Error().Err(err).Msg("could not record peer")
		return localStoreError(err)
	}

	// Idempotent: a second registration leaves the existing chatroom alone
	if err := p.store.InsertChatroom(ctx, &models.Chatroom{Name: p.defaultChatroom}); err != nil {
		log.Error().Err(err).Msg("could not record default chatroom")
		return localStoreError(err)
	}

	if err := p.settings.SaveServerURI(serverURI); err != nil {
		log.Error().Err(err).Msg("could not save server uri")
		return localStoreError(err)
	}
	if err := p.settings.SaveChatName(req.ChatName); err != nil {
		log.Error().Err(err).Msg("could not save chat name")
		return localStoreError(err)
	}

	log.Info().Msg("registered")
	return &request.RegisterResponse{}
}
