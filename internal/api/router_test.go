package api

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

	"github.com/casewire/casewire/internal/domain/cases"
	"github.com/casewire/casewire/internal/status"
)

func testRouter(t *testing.T) (http.Handler, *status.Hub) {
	t.Helper()
	hub := status.NewHub(zerolog.Nop())
	t.Cleanup(hub.Close)

	router := NewRouter(RouterConfig{
		Hub:     hub,
		Version: "test",
		Logger:  zerolog.Nop(),
	})
	return router, hub
}

func TestRouterHealthz(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want %q", resp.Status, "ok")
	}
	if resp.Version != "test" {
		t.Errorf("Version = %q, want %q", resp.Version, "test")
	}
}

func TestRouterReadyzWithoutDatabase(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != "unready" {
		t.Errorf("Status = %q, want %q", resp.Status, "unready")
	}
	db, ok := resp.Checks["database"]
	if !ok {
		t.Fatal("response missing database check")
	}
	if db.Status != "fail" {
		t.Errorf("database check status = %q, want %q", db.Status, "fail")
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router, _ := testRouter(t)

	// Drive one request through the middleware so the request counter has a
	// series to expose.
	warm := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(httptest.NewRecorder(), warm)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if !strings.Contains(body, "casewire_health_status") {
		t.Error("metrics output missing casewire_health_status")
	}
	if !strings.Contains(body, `casewire_http_requests_total{method="GET",path="/healthz"`) {
		t.Error("metrics output missing request counter labeled with the route pattern")
	}
}

func TestRouterWatchJobRejectsBadID(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/ws/jobs/not-a-uuid", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// The upgrade has to hijack the connection through the full middleware
// stack, so this runs against a real server rather than a recorder.
func TestRouterWatchJobStreamsEvents(t *testing.T) {
	router, hub := testRouter(t)

	server := httptest.NewServer(router)
	defer server.Close()

	jobID := uuid.New()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/jobs/" + jobID.String()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Subscribers(jobID) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if hub.Subscribers(jobID) == 0 {
		t.Fatal("subscriber never registered")
	}

	hub.Broadcast(jobID, status.Event{
		Type:     "artifact_status",
		JobID:    jobID,
		Filename: "intercept.mp3",
		Status:   cases.ArtifactProcessing,
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event status.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.JobID != jobID {
		t.Errorf("JobID = %s, want %s", event.JobID, jobID)
	}
	if event.Filename != "intercept.mp3" {
		t.Errorf("Filename = %q, want %q", event.Filename, "intercept.mp3")
	}
}
