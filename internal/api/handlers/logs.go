package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// LogReader reads the persisted process log
type LogReader interface {
	Recent(ctx context.Context, limit int) ([]contracts.LogEntry, error)
}

// LogHandler serves ecl.process_log
type LogHandler struct {
	reader LogReader
	logger *logger.Logger
}

// NewLogHandler creates a new log handler
func NewLogHandler(reader LogReader, log *logger.Logger) *LogHandler {
	return &LogHandler{reader: reader, logger: log.WithField("module", "api")}
}

type logItem struct {
	LoggedAt string `json:"logged_at"`
	Source   string `json:"source"`
	Level    string `json:"level"`
	Message  string `json:"message"`
}

// Recent returns the latest log entries
// GET /api/logs?limit=100
func (h *LogHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	entries, err := h.reader.Recent(r.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to read process log")
		respondError(w, http.StatusInternalServerError, "Failed to read process log")
		return
	}

	items := make([]logItem, len(entries))
	for i, e := range entries {
		items[i] = logItem{
			LoggedAt: e.LoggedAt.Format("2006-01-02T15:04:05.000Z07:00"),
			Source:   e.Source,
			Level:    e.Level,
			Message:  e.Message,
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(items),
		"entries": items,
	})
}
