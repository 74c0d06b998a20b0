package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casewire/casewire/internal/domain/cases"
)

// hubServer mounts the hub behind a test server that subscribes every
// connection to the job id carried in the query string.
func hubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(r.URL.Query().Get("job"))
		if err != nil {
			http.Error(w, "bad job id", http.StatusBadRequest)
			return
		}
		hub.ServeJob(w, r, jobID)
	}))
	t.Cleanup(server.Close)
	return server
}

func dialJob(t *testing.T, server *httptest.Server, jobID uuid.UUID) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?job=" + jobID.String()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_BroadcastReachesJobSubscribers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	server := hubServer(t, hub)

	jobA := uuid.New()
	jobB := uuid.New()

	connA1 := dialJob(t, server, jobA)
	connA2 := dialJob(t, server, jobA)
	connB := dialJob(t, server, jobB)

	require.Eventually(t, func() bool {
		return hub.Subscribers(jobA) == 2 && hub.Subscribers(jobB) == 1
	}, 2*time.Second, 10*time.Millisecond)

	event := Event{
		Type:            EventTypeArtifactStatus,
		JobID:           jobA,
		Filename:        "fir_scan.pdf",
		Status:          cases.ArtifactProcessing,
		CurrentStage:    cases.StageExtraction,
		ProgressPercent: 10,
	}
	hub.Broadcast(jobA, event)

	for _, conn := range []*websocket.Conn{connA1, connA2} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var received Event
		require.NoError(t, json.Unmarshal(data, &received))
		assert.Equal(t, jobA, received.JobID)
		assert.Equal(t, "fir_scan.pdf", received.Filename)
		assert.Equal(t, 10, received.ProgressPercent)
	}

	// The other job's subscriber sees nothing.
	require.NoError(t, connB.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := connB.ReadMessage()
	require.Error(t, err)
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	server := hubServer(t, hub)

	jobID := uuid.New()
	conn := dialJob(t, server, jobID)

	require.Eventually(t, func() bool {
		return hub.Subscribers(jobID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return hub.Subscribers(jobID) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastWithoutSubscribers(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	// No subscribers registered; must be a no-op.
	hub.Broadcast(uuid.New(), Event{Type: EventTypeArtifactStatus})
}

func TestHub_CloseDropsConnections(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	server := hubServer(t, hub)

	jobID := uuid.New()
	conn := dialJob(t, server, jobID)

	require.Eventually(t, func() bool {
		return hub.Subscribers(jobID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return hub.Subscribers(jobID) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
