package status

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the feed is read-only; auth happens at the router
	},
}

// Hub tracks websocket subscribers per job and pushes events to them.
// Writes to one connection are serialized with a per-connection mutex;
// gorilla/websocket forbids concurrent writers.
type Hub struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]map[*websocket.Conn]bool
	writeMu map[*websocket.Conn]*sync.Mutex
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		jobs:    make(map[uuid.UUID]map[*websocket.Conn]bool),
		writeMu: make(map[*websocket.Conn]*sync.Mutex),
		logger:  logger.With().Str("component", "status_hub").Logger(),
	}
}

// ServeJob upgrades the request and subscribes the connection to one job's
// events. Blocks until the client disconnects; the read loop only keeps the
// connection alive, inbound messages are ignored.
func (h *Hub) ServeJob(w http.ResponseWriter, r *http.Request, jobID uuid.UUID) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.mu.Lock()
	if h.jobs[jobID] == nil {
		h.jobs[jobID] = make(map[*websocket.Conn]bool)
	}
	h.jobs[jobID][conn] = true
	h.writeMu[conn] = &sync.Mutex{}
	total := len(h.jobs[jobID])
	h.mu.Unlock()

	h.logger.Debug().
		Str("job_id", jobID.String()).
		Int("subscribers", total).
		Msg("websocket client connected")

	defer func() {
		h.mu.Lock()
		delete(h.jobs[jobID], conn)
		if len(h.jobs[jobID]) == 0 {
			delete(h.jobs, jobID)
		}
		delete(h.writeMu, conn)
		remaining := len(h.jobs[jobID])
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().
			Str("job_id", jobID.String()).
			Int("subscribers", remaining).
			Msg("websocket client disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("websocket read error")
			}
			break
		}
	}
}

// Broadcast pushes one event to every subscriber of its job. A failed write
// is logged and left alone; the connection's read loop will notice the broken
// pipe and unregister it.
func (h *Hub) Broadcast(jobID uuid.UUID, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal status event")
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.jobs[jobID]))
	mutexes := make([]*sync.Mutex, 0, len(h.jobs[jobID]))
	for conn := range h.jobs[jobID] {
		conns = append(conns, conn)
		mutexes = append(mutexes, h.writeMu[conn])
	}
	h.mu.RUnlock()

	for i, conn := range conns {
		mutexes[i].Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutexes[i].Unlock()

		if err != nil {
			h.logger.Warn().
				Str("job_id", jobID.String()).
				Err(err).
				Msg("failed to send status event to client")
		}
	}
}

// Subscribers reports the current subscriber count for a job.
func (h *Hub) Subscribers(jobID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.jobs[jobID])
}

// Close drops every connection. Read loops exit on the closed sockets and
// unregister themselves; used on serve shutdown.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.writeMu))
	for conn := range h.writeMu {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}
