package models

import "time"

// Message is one chat entry as stored and as broadcast over the session channel.
type Message struct {
	ID        int64     `json:"id" db:"id"`
	SessionID int64     `json:"session_id" db:"session_id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Username  string    `json:"username" db:"username"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type SendMessageRequest struct {
	SessionID int64  `json:"session_id" binding:"required"`
	Content   string `json:"content" binding:"required,max=10000"`
}
