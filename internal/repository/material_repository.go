package repository

import (
	"database/sql"
	"fmt"

	"github.com/studyroom/backend/internal/database"
	"github.com/studyroom/backend/internal/models"
)

type MaterialRepository struct {
	db *database.DB
}

func NewMaterialRepository(db *database.DB) *MaterialRepository {
	return &MaterialRepository{db: db}
}

// Create records an uploaded material
func (r *MaterialRepository) Create(material *models.Material) error {
	query := `
		INSERT INTO materials (session_id, uploaded_by, filename, stored_name, size)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(
		query,
		material.SessionID,
		material.UploadedBy,
		material.Filename,
		material.StoredName,
		material.Size,
	).Scan(&material.ID, &material.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create material: %w", err)
	}

	return nil
}

// GetByID retrieves a material by ID
func (r *MaterialRepository) GetByID(id int64) (*models.Material, error) {
	query := `
		SELECT id, session_id, uploaded_by, filename, stored_name, size, created_at
		FROM materials
		WHERE id = $1
	`

	material := &models.Material{}
	err := r.db.QueryRow(query, id).Scan(
		&material.ID,
		&material.SessionID,
		&material.UploadedBy,
		&material.Filename,
		&material.StoredName,
		&material.Size,
		&material.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("material not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get material: %w", err)
	}

	return material, nil
}

// GetBySessionID lists all materials of a session
func (r *MaterialRepository) GetBySessionID(sessionID int64) ([]models.Material, error) {
	query := `
		SELECT id, session_id, uploaded_by, filename, stored_name, size, created_at
		FROM materials
		WHERE session_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list materials: %w", err)
	}
	defer rows.Close()

	materials := []models.Material{}
	for rows.Next() {
		var m models.Material
		err := rows.Scan(
			&m.ID,
			&m.SessionID,
			&m.UploadedBy,
			&m.Filename,
			&m.StoredName,
			&m.Size,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan material: %w", err)
		}
		materials = append(materials, m)
	}

	return materials, nil
}

// Delete removes a material record
func (r *MaterialRepository) Delete(id int64) error {
	_, err := r.db.Exec(`DELETE FROM materials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete material: %w", err)
	}
	return nil
}
