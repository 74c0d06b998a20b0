package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/casewire/casewire/internal/status"
)

// WatchJob upgrades the connection to a websocket and streams status events
// for one job. The job does not have to exist yet; subscribing to a job that
// never produces events just yields silence until the client hangs up.
func WatchJob(hub *status.Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			http.Error(w, "invalid job id", http.StatusBadRequest)
			return
		}
		hub.ServeJob(w, r, jobID)
	})
}
