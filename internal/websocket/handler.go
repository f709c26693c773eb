package websocket

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/studyroom/backend/internal/auth"
	"github.com/studyroom/backend/internal/repository"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate origin properly
		return true
	},
}

// Handler handles WebSocket upgrade requests for session rooms.
type Handler struct {
	hub            *Hub
	jwtService     *auth.JWTService
	sessionRepo    *repository.SessionRepository
	validate       *validator.Validate
	allowedOrigins []string
}

// NewHandler creates a new WebSocket handler
func NewHandler(
	hub *Hub,
	jwtService *auth.JWTService,
	sessionRepo *repository.SessionRepository,
	allowedOrigins []string,
) *Handler {
	return &Handler{
		hub:            hub,
		jwtService:     jwtService,
		sessionRepo:    sessionRepo,
		validate:       validator.New(),
		allowedOrigins: allowedOrigins,
	}
}

// HandleWebSocket upgrades GET /ws/sessions/:id?token=... to a session channel.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	sessionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session ID"})
		return
	}

	// Browsers cannot set headers on WebSocket requests, so the token rides
	// in the query string.
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token required"})
		return
	}

	claims, err := h.jwtService.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	isMember, err := h.sessionRepo.IsMember(sessionID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify membership"})
		return
	}
	if !isMember {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a member of this session"})
		return
	}

	room, err := h.hub.Room(sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open session"})
		return
	}

	// Validate origin using configured allowed origins if provided
	if len(h.allowedOrigins) > 0 {
		upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return false
			}
			for _, pattern := range h.allowedOrigins {
				if matchOrigin(pattern, origin) {
					return true
				}
			}
			return false
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.logger.Errorf("failed to upgrade connection: %v", err)
		return
	}

	client := NewClient(room, conn, userID, claims.Username, h.validate)
	room.attach(client)

	go client.WritePump()
	go client.ReadPump()
}

// matchOrigin supports exact matches or wildcard patterns like *.example.com
func matchOrigin(pattern, origin string) bool {
	if pattern == origin {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		originHost := origin
		if u, err := url.Parse(origin); err == nil {
			originHost = u.Hostname()
		}
		patHost := strings.TrimPrefix(pattern, "*.")
		if strings.HasSuffix(originHost, patHost) {
			return true
		}
	}
	return false
}
