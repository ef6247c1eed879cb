package api

import (
	"net/http"
	"time"
)

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"instance": h.InstanceName,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}
