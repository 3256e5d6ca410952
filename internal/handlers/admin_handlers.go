package handlers

import (
	"net/http"
	"strconv"

	"github.com/gradedge/gradedge/internal/service"
	"github.com/sirupsen/logrus"
)

type AdminHandlers struct {
	auth   *service.AuthService
	logger *logrus.Logger
}

func NewAdminHandlers(auth *service.AuthService, logger *logrus.Logger) *AdminHandlers {
	return &AdminHandlers{
		auth:   auth,
		logger: logger,
	}
}

// RecentLogs returns audit entries newest first, up to ?limit= (default 200).
func (h *AdminHandlers) RecentLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	entries, err := h.auth.RecentLogs(r.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to fetch audit logs")
		respondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"ok":    true,
		"count": len(entries),
		"data":  entries,
	})
}
