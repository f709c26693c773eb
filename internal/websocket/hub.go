package websocket

import (
	"sync"

	"github.com/studyroom/backend/internal/cache"
	"github.com/studyroom/backend/internal/loggers"
	"github.com/studyroom/backend/internal/metrics"
	"github.com/studyroom/backend/internal/models"
)

// MessageStore persists chat messages.
type MessageStore interface {
	Create(msg *models.Message) error
}

// BoardStore persists the sketch action log.
type BoardStore interface {
	Load(sessionID int64) ([]models.StrokeAction, error)
	Save(sessionID int64, actions []models.StrokeAction) error
}

// DocumentStore persists the shared document text.
type DocumentStore interface {
	Load(sessionID int64) (string, error)
	Save(sessionID int64, text string) error
}

// Hub owns one Room per active session. Rooms are created lazily when the
// first participant connects and released (with state persisted) when the last
// one leaves.
type Hub struct {
	mu    sync.Mutex
	rooms map[int64]*Room

	// Redis is optional; without it rooms fan out to local connections only.
	redis *cache.RedisClient

	msgRepo   MessageStore
	boardRepo BoardStore
	docRepo   DocumentStore

	logger  loggers.Logger
	metrics *metrics.Metrics
}

// NewHub creates a new Hub
func NewHub(
	redis *cache.RedisClient,
	msgRepo MessageStore,
	boardRepo BoardStore,
	docRepo DocumentStore,
	logger loggers.Logger,
	m *metrics.Metrics,
) *Hub {
	return &Hub{
		rooms:     make(map[int64]*Room),
		redis:     redis,
		msgRepo:   msgRepo,
		boardRepo: boardRepo,
		docRepo:   docRepo,
		logger:    logger,
		metrics:   m,
	}
}

// Room returns the room for a session, warming its in-memory state from the
// store on first use.
func (h *Hub) Room(sessionID int64) (*Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[sessionID]; ok {
		return room, nil
	}

	room, err := newRoom(h, sessionID)
	if err != nil {
		return nil, err
	}
	h.rooms[sessionID] = room

	if h.metrics != nil {
		h.metrics.ActiveSessions.Set(float64(len(h.rooms)))
	}
	h.logger.Infof("room opened for session %d", sessionID)

	return room, nil
}

// releaseRoom persists and drops an empty room. Called by the room itself
// after its last client detaches.
func (h *Hub) releaseRoom(room *Room) {
	h.mu.Lock()
	current, ok := h.rooms[room.sessionID]
	if !ok || current != room {
		h.mu.Unlock()
		return
	}
	delete(h.rooms, room.sessionID)
	if h.metrics != nil {
		h.metrics.ActiveSessions.Set(float64(len(h.rooms)))
	}
	h.mu.Unlock()

	room.shutdown()
	h.logger.Infof("room released for session %d", room.sessionID)
}
