package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/studyroom/backend/internal/database"
	"github.com/studyroom/backend/internal/models"
)

// BoardRepository persists the sketch action log of a session. The stored
// value is the full JSON-encoded log; it is written on clear and when the last
// participant disconnects, and read once when a session's room is warmed.
type BoardRepository struct {
	db *database.DB
}

func NewBoardRepository(db *database.DB) *BoardRepository {
	return &BoardRepository{db: db}
}

// Load returns the stored stroke log, or an empty log if none exists.
func (r *BoardRepository) Load(sessionID int64) ([]models.StrokeAction, error) {
	query := `SELECT content FROM session_boards WHERE session_id = $1`

	var raw []byte
	err := r.db.QueryRow(query, sessionID).Scan(&raw)
	if err == sql.ErrNoRows {
		return []models.StrokeAction{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load board: %w", err)
	}

	actions := []models.StrokeAction{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &actions); err != nil {
			// Corrupt stored state resets to empty rather than wedging the room.
			return []models.StrokeAction{}, nil
		}
	}

	return actions, nil
}

// Save upserts the full stroke log.
func (r *BoardRepository) Save(sessionID int64, actions []models.StrokeAction) error {
	raw, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("failed to encode board: %w", err)
	}

	query := `
		INSERT INTO session_boards (session_id, content, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (session_id) DO UPDATE SET content = $2, updated_at = NOW()
	`

	if _, err := r.db.Exec(query, sessionID, raw); err != nil {
		return fmt.Errorf("failed to save board: %w", err)
	}

	return nil
}
