package models

// Chatroom is a named channel messages are posted to.
type Chatroom struct {
	Name string `json:"name"`
}
