package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/studyroom/backend/internal/models"
	"github.com/studyroom/backend/internal/repository"
)

type MessageHandler struct {
	msgRepo     *repository.MessageRepository
	sessionRepo *repository.SessionRepository
}

func NewMessageHandler(msgRepo *repository.MessageRepository, sessionRepo *repository.SessionRepository) *MessageHandler {
	return &MessageHandler{
		msgRepo:     msgRepo,
		sessionRepo: sessionRepo,
	}
}

// SendMessage stores a chat message over REST. Clients use this as a fallback
// when their channel send fails; the message reaches other participants on
// their next history fetch or resync.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	userID, _ := c.Get("user_id")
	uid := userID.(int64)
	username, _ := c.Get("username")

	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	isMember, err := h.sessionRepo.IsMember(req.SessionID, uid)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to verify membership")
		return
	}
	if !isMember {
		ErrorResponse(c, http.StatusForbidden, "Not a member of this session")
		return
	}

	message := &models.Message{
		SessionID: req.SessionID,
		UserID:    uid,
		Username:  username.(string),
		Content:   req.Content,
	}

	if err := h.msgRepo.Create(message); err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to send message")
		return
	}

	c.JSON(http.StatusCreated, message)
}

// GetMessages returns a session's chat history, oldest first.
func (h *MessageHandler) GetMessages(c *gin.Context) {
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

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	messages, err := h.msgRepo.GetBySessionID(sessionID, limit, offset)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to fetch messages")
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
