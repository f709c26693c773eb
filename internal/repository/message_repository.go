package repository

import (
	"database/sql"
	"fmt"

	"github.com/studyroom/backend/internal/database"
	"github.com/studyroom/backend/internal/models"
)

type MessageRepository struct {
	db *database.DB
}

func NewMessageRepository(db *database.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create creates a new message
func (r *MessageRepository) Create(message *models.Message) error {
	query := `
		INSERT INTO messages (session_id, user_id, content)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(
		query,
		message.SessionID,
		message.UserID,
		message.Content,
	).Scan(&message.ID, &message.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	return nil
}

// GetByID retrieves a message by ID
func (r *MessageRepository) GetByID(id int64) (*models.Message, error) {
	query := `
		SELECT m.id, m.session_id, m.user_id, u.username, m.content, m.created_at
		FROM messages m
		INNER JOIN users u ON m.user_id = u.id
		WHERE m.id = $1
	`

	message := &models.Message{}
	err := r.db.QueryRow(query, id).Scan(
		&message.ID,
		&message.SessionID,
		&message.UserID,
		&message.Username,
		&message.Content,
		&message.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return message, nil
}

// GetBySessionID retrieves the full chat history of a session in send order.
func (r *MessageRepository) GetBySessionID(sessionID int64, limit, offset int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT m.id, m.session_id, m.user_id, u.username, m.content, m.created_at
		FROM messages m
		INNER JOIN users u ON m.user_id = u.id
		WHERE m.session_id = $1
		ORDER BY m.created_at ASC, m.id ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(query, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message

		err := rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&msg.UserID,
			&msg.Username,
			&msg.Content,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		messages = append(messages, msg)
	}

	return messages, nil
}
