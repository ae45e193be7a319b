package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pysugar/session-nexus/internal/monitor"
)

// GetEventsHandler returns recent session events
func GetEventsHandler(sm *monitor.SessionMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 100)
		since := queryInt(r, "since_minutes", 0)

		events := sm.Recent(limit, since)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"events": events,
			"count":  len(events),
		})
	}
}

// GetEventHistoryHandler returns paginated session events, optionally filtered by email
func GetEventHistoryHandler(sm *monitor.SessionMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := queryInt(r, "page", 1)
		pageSize := queryInt(r, "page_size", 50)
		email := r.URL.Query().Get("email")

		events, total := sm.History(page, pageSize, email)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"events":    events,
			"total":     total,
			"page":      page,
			"page_size": pageSize,
		})
	}
}

// GetEventStatsHandler returns aggregated session event counters
func GetEventStatsHandler(sm *monitor.SessionMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sm.Stats())
	}
}

// ClearEventsHandler clears all session events
func ClearEventsHandler(sm *monitor.SessionMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sm.Clear(); err != nil {
			http.Error(w, "Failed to clear events: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ToggleEventLogHandler enables or disables event recording
func ToggleEventLogHandler(sm *monitor.SessionMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		sm.SetEnabled(req.Enabled)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"enabled": sm.IsEnabled(),
		})
	}
}

// GetEventLogStatusHandler returns whether events are being recorded
func GetEventLogStatusHandler(sm *monitor.SessionMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"enabled": sm.IsEnabled(),
		})
	}
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
