package models

import "time"

// Material is a file shared into a session. The bytes live on disk under the
// configured materials directory; only metadata is stored in Postgres.
type Material struct {
	ID         int64     `json:"id" db:"id"`
	SessionID  int64     `json:"session_id" db:"session_id"`
	UploadedBy int64     `json:"uploaded_by" db:"uploaded_by"`
	Filename   string    `json:"filename" db:"filename"`
	StoredName string    `json:"-" db:"stored_name"`
	Size       int64     `json:"size" db:"size"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
