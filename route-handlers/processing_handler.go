package routehandlers

import (
	"fmt"
	"net/http"

	"github.com/printflow/printflow/datastore"
	"github.com/printflow/printflow/models"
	"github.com/printflow/printflow/webutil"
)

const (
	defaultRecentLogLimit = 100
	maxRecentLogLimit     = 500
)

// PollController is the subset of the poller the API drives.
type PollController interface {
	Start()
	Stop()
	Running() bool
}

// ProcessingHandler starts and stops mailbox polling and serves recent
// activity entries.
type ProcessingHandler struct {
	Poller PollController
	Logs   *datastore.ProcessingLogRepository
}

func NewProcessingHandler(poller PollController, logs *datastore.ProcessingLogRepository) *ProcessingHandler {
	return &ProcessingHandler{Poller: poller, Logs: logs}
}

func (h *ProcessingHandler) HandleStartProcessing(w http.ResponseWriter, r *http.Request) error {
	h.Poller.Start()
	webutil.RespondWithJSON(w, http.StatusOK, map[string]bool{"running": true})
	return nil
}

func (h *ProcessingHandler) HandleStopProcessing(w http.ResponseWriter, r *http.Request) error {
	h.Poller.Stop()
	webutil.RespondWithJSON(w, http.StatusOK, map[string]bool{"running": false})
	return nil
}

func (h *ProcessingHandler) HandleGetProcessingStatus(w http.ResponseWriter, r *http.Request) error {
	webutil.RespondWithJSON(w, http.StatusOK, map[string]bool{"running": h.Poller.Running()})
	return nil
}

func (h *ProcessingHandler) HandleGetRecentLogs(w http.ResponseWriter, r *http.Request) error {
	limit := queryInt(r, "limit", defaultRecentLogLimit)
	if limit <= 0 || limit > maxRecentLogLimit {
		limit = defaultRecentLogLimit
	}

	logs, err := h.Logs.GetRecentLogs(r.Context(), limit)
	if err != nil {
		return fmt.Errorf("failed to retrieve recent logs: %w", err)
	}
	if logs == nil {
		logs = []models.ProcessingLog{}
	}
	webutil.RespondWithJSON(w, http.StatusOK, logs)
	return nil
}
