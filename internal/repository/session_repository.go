package repository

import (
	"database/sql"
	"fmt"

	"github.com/studyroom/backend/internal/database"
	"github.com/studyroom/backend/internal/models"
)

type SessionRepository struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create creates a session and adds the creator as its first member.
func (r *SessionRepository) Create(session *models.Session) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO sessions (title, invite_code, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	err = tx.QueryRow(query, session.Title, session.InviteCode, session.CreatedBy).
		Scan(&session.ID, &session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO session_members (session_id, user_id) VALUES ($1, $2)`,
		session.ID, session.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to add creator as member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}

	return nil
}

// GetByID retrieves a session by ID
func (r *SessionRepository) GetByID(id int64) (*models.Session, error) {
	query := `
		SELECT id, title, invite_code, created_by, created_at
		FROM sessions
		WHERE id = $1
	`

	session := &models.Session{}
	err := r.db.QueryRow(query, id).Scan(
		&session.ID,
		&session.Title,
		&session.InviteCode,
		&session.CreatedBy,
		&session.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// GetByInviteCode retrieves a session by its invite code
func (r *SessionRepository) GetByInviteCode(code string) (*models.Session, error) {
	query := `
		SELECT id, title, invite_code, created_by, created_at
		FROM sessions
		WHERE invite_code = $1
	`

	session := &models.Session{}
	err := r.db.QueryRow(query, code).Scan(
		&session.ID,
		&session.Title,
		&session.InviteCode,
		&session.CreatedBy,
		&session.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// GetByUserID lists sessions the user is a member of
func (r *SessionRepository) GetByUserID(userID int64) ([]models.Session, error) {
	query := `
		SELECT s.id, s.title, s.invite_code, s.created_by, s.created_at
		FROM sessions s
		INNER JOIN session_members sm ON sm.session_id = s.id
		WHERE sm.user_id = $1
		ORDER BY s.created_at DESC
	`

	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.Session{}
	for rows.Next() {
		var s models.Session
		err := rows.Scan(&s.ID, &s.Title, &s.InviteCode, &s.CreatedBy, &s.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	return sessions, nil
}

// AddMember adds a user to a session; already-member is not an error.
func (r *SessionRepository) AddMember(sessionID, userID int64) error {
	query := `
		INSERT INTO session_members (session_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (session_id, user_id) DO NOTHING
	`

	_, err := r.db.Exec(query, sessionID, userID)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}

	return nil
}

// IsMember checks whether a user belongs to a session
func (r *SessionRepository) IsMember(sessionID, userID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM session_members
			WHERE session_id = $1 AND user_id = $2
		)
	`

	var isMember bool
	err := r.db.QueryRow(query, sessionID, userID).Scan(&isMember)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}

	return isMember, nil
}

// Delete deletes a session; only the creator may do this.
func (r *SessionRepository) Delete(sessionID, userID int64) error {
	result, err := r.db.Exec(
		`DELETE FROM sessions WHERE id = $1 AND created_by = $2`,
		sessionID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session not found or not owned by user")
	}

	return nil
}
