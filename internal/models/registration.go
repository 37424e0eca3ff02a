package models

import (
	"time"

	"github.com/google/uuid"
)

// Registration is a peer as known to the chat server.
type Registration struct {
	Name         string    `json:"name"`
	AppID        uuid.UUID `json:"app_id"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}
