package models

import "time"

// CachedMessage is a non-owning, reconstructible chat message record held
// by the in-memory message cache ring.
type CachedMessage struct {
	Platform  Platform  `json:"platform"`
	Channel   string    `json:"channel"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Tokens    int       `json:"tokens"`
}
