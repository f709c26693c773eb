package models

import "time"

type Session struct {
	ID         int64     `json:"id" db:"id"`
	Title      string    `json:"title" db:"title"`
	InviteCode string    `json:"invite_code" db:"invite_code"`
	CreatedBy  int64     `json:"created_by" db:"created_by"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

type SessionMember struct {
	SessionID int64     `json:"session_id" db:"session_id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	JoinedAt  time.Time `json:"joined_at" db:"joined_at"`
}

type CreateSessionRequest struct {
	Title string `json:"title" binding:"required,max=255"`
}

type JoinSessionRequest struct {
	InviteCode string `json:"invite_code" binding:"required,len=8"`
}
