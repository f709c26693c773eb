package handlers

import (
	"crypto/rand"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/studyroom/backend/internal/models"
	"github.com/studyroom/backend/internal/repository"
)

// inviteCodeAlphabet avoids ambiguous characters (0/O, 1/I/l).
const inviteCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

type SessionHandler struct {
	sessionRepo *repository.SessionRepository
}

func NewSessionHandler(sessionRepo *repository.SessionRepository) *SessionHandler {
	return &SessionHandler{sessionRepo: sessionRepo}
}

// CreateSession creates a study session with a fresh invite code. The creator
// becomes a member automatically.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	userID, _ := c.Get("user_id")
	uid := userID.(int64)

	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	code, err := newInviteCode(8)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to generate invite code")
		return
	}

	session := &models.Session{
		Title:      req.Title,
		InviteCode: code,
		CreatedBy:  uid,
	}

	if err := h.sessionRepo.Create(session); err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to create session")
		return
	}

	c.JSON(http.StatusCreated, session)
}

// JoinSession adds the caller to the session matching the invite code.
func (h *SessionHandler) JoinSession(c *gin.Context) {
	userID, _ := c.Get("user_id")
	uid := userID.(int64)

	var req models.JoinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.sessionRepo.GetByInviteCode(req.InviteCode)
	if err != nil {
		ErrorResponse(c, http.StatusNotFound, "Invalid invite code")
		return
	}

	if err := h.sessionRepo.AddMember(session.ID, uid); err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to join session")
		return
	}

	c.JSON(http.StatusOK, session)
}

// GetSessions lists the caller's sessions
func (h *SessionHandler) GetSessions(c *gin.Context) {
	userID, _ := c.Get("user_id")
	uid := userID.(int64)

	sessions, err := h.sessionRepo.GetByUserID(uid)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to fetch sessions")
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// GetSession returns one session the caller is a member of
func (h *SessionHandler) GetSession(c *gin.Context) {
	userID, _ := c.Get("user_id")
	uid := userID.(int64)

	sessionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid session ID")
		return
	}

	isMember, err := h.sessionRepo.IsMember(sessionID, uid)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to verify membership")
		return
	}
	if !isMember {
		ErrorResponse(c, http.StatusForbidden, "Not a member of this session")
		return
	}

	session, err := h.sessionRepo.GetByID(sessionID)
	if err != nil {
		ErrorResponse(c, http.StatusNotFound, "Session not found")
		return
	}

	c.JSON(http.StatusOK, session)
}

// DeleteSession deletes a session. Only the creator may delete.
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	userID, _ := c.Get("user_id")
	uid := userID.(int64)

	sessionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid session ID")
		return
	}

	if err := h.sessionRepo.Delete(sessionID, uid); err != nil {
		ErrorResponse(c, http.StatusForbidden, "Failed to delete session")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Session deleted"})
}

func newInviteCode(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = inviteCodeAlphabet[int(b)%len(inviteCodeAlphabet)]
	}
	return string(buf), nil
}
