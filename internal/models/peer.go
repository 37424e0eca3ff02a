package models

import "time"

// Peer is a chat identity registered from this install.
type Peer struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
}
