package api

import (
	"net/http"

	"voltledger/internal/apperr"
	"voltledger/internal/utils"
)

func (s *Server) getDailyTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.EnsureTasksForToday(r.Context(), claims(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := utils.IDParam(r, "id")
	if err != nil {
		s.writeError(w, r, apperr.Validation("invalid task id"))
		return
	}

	res, err := s.tasks.CompleteTask(r.Context(), claims(r).UserID, taskID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getEarnings(w http.ResponseWriter, r *http.Request) {
	e, err := s.tasks.Earnings(r.Context(), claims(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) resetDailyTasks(w http.ResponseWriter, r *http.Request) {
	n, err := s.tasks.RegenerateAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "daily tasks regenerated",
		"users":   n,
	})
}
