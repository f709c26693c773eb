package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/studyroom/backend/internal/models"
	"github.com/studyroom/backend/internal/repository"
)

type MaterialHandler struct {
	materialRepo *repository.MaterialRepository
	sessionRepo  *repository.SessionRepository
	dir          string
	maxSize      int64
}

func NewMaterialHandler(
	materialRepo *repository.MaterialRepository,
	sessionRepo *repository.SessionRepository,
	dir string,
	maxSize int64,
) *MaterialHandler {
	return &MaterialHandler{
		materialRepo: materialRepo,
		sessionRepo:  sessionRepo,
		dir:          dir,
		maxSize:      maxSize,
	}
}

// Upload stores one file for a session. Bytes land on disk under a random
// name; the original filename survives only as metadata.
func (h *MaterialHandler) Upload(c *gin.Context) {
	userID, _ := c.Get("user_id")
	uid := userID.(int64)

	sessionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid session ID")
		return
	}

	if !h.requireMember(c, sessionID, uid) {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "File required")
		return
	}
	if file.Size > h.maxSize {
		ErrorResponse(c, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to store file")
		return
	}

	storedName := uuid.New().String() + filepath.Ext(file.Filename)
	if err := c.SaveUploadedFile(file, filepath.Join(h.dir, storedName)); err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to store file")
		return
	}

	material := &models.Material{
		SessionID:  sessionID,
		UploadedBy: uid,
		Filename:   filepath.Base(file.Filename),
		StoredName: storedName,
		Size:       file.Size,
	}

	if err := h.materialRepo.Create(material); err != nil {
		os.Remove(filepath.Join(h.dir, storedName))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to store file")
		return
	}

	c.JSON(http.StatusCreated, material)
}

// List returns all materials of a session
func (h *MaterialHandler) List(c *gin.Context) {
	userID, _ := c.Get("user_id")
	uid := userID.(int64)

	sessionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid session ID")
		return
	}

	if !h.requireMember(c, sessionID, uid) {
		return
	}

	materials, err := h.materialRepo.GetBySessionID(sessionID)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to fetch materials")
		return
	}

	c.JSON(http.StatusOK, gin.H{"materials": materials})
}

// Download streams a material back under its original filename.
func (h *MaterialHandler) Download(c *gin.Context) {
	userID, _ := c.Get("user_id")
	uid := userID.(int64)

	materialID, err := strconv.ParseInt(c.Param("materialId"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid material ID")
		return
	}

	material, err := h.materialRepo.GetByID(materialID)
	if err != nil {
		ErrorResponse(c, http.StatusNotFound, "Material not found")
		return
	}

	if !h.requireMember(c, material.SessionID, uid) {
		return
	}

	c.FileAttachment(filepath.Join(h.dir, material.StoredName), material.Filename)
}

// Delete removes a material. Only the uploader may delete.
func (h *MaterialHandler) Delete(c *gin.Context) {
	userID, _ := c.Get("user_id")
	uid := userID.(int64)

	materialID, err := strconv.ParseInt(c.Param("materialId"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid material ID")
		return
	}

	material, err := h.materialRepo.GetByID(materialID)
	if err != nil {
		ErrorResponse(c, http.StatusNotFound, "Material not found")
		return
	}
	if material.UploadedBy != uid {
		ErrorResponse(c, http.StatusForbidden, "Only the uploader can delete a material")
		return
	}

	if err := h.materialRepo.Delete(materialID); err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to delete material")
		return
	}
	os.Remove(filepath.Join(h.dir, material.StoredName))

	c.JSON(http.StatusOK, gin.H{"message": "Material deleted"})
}

func (h *MaterialHandler) requireMember(c *gin.Context, sessionID, userID int64) bool {
	isMember, err := h.sessionRepo.IsMember(sessionID, userID)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to verify membership")
		return false
	}
	if !isMember {
		ErrorResponse(c, http.StatusForbidden, "Not a member of this session")
		return false
	}
	return true
}
