package repository

import (
	"database/sql"
	"fmt"

	"github.com/studyroom/backend/internal/database"
)

// DocumentRepository persists the shared text document of a session.
type DocumentRepository struct {
	db *database.DB
}

func NewDocumentRepository(db *database.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Load returns the stored document text, or empty if none exists.
func (r *DocumentRepository) Load(sessionID int64) (string, error) {
	query := `SELECT content FROM session_documents WHERE session_id = $1`

	var content string
	err := r.db.QueryRow(query, sessionID).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load document: %w", err)
	}

	return content, nil
}

// Save upserts the full document text.
func (r *DocumentRepository) Save(sessionID int64, content string) error {
	query := `
		INSERT INTO session_documents (session_id, content, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (session_id) DO UPDATE SET content = $2, updated_at = NOW()
	`

	if _, err := r.db.Exec(query, sessionID, content); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}

	return nil
}
