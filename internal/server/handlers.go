package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/BadgerOps/pqrefresh/internal/backup"
	"github.com/BadgerOps/pqrefresh/internal/engine"
	"github.com/BadgerOps/pqrefresh/internal/safety"
	"github.com/BadgerOps/pqrefresh/internal/store"
	"github.com/BadgerOps/pqrefresh/internal/workbook"
)

// FilesRequestBody selects workbooks by 1-based index, path or name.
// No files selects every configured workbook.
type FilesRequestBody struct {
	Files []string `json:"files"`
}

// CleanupRequestBody is the request body for POST /api/backups/cleanup.
type CleanupRequestBody struct {
	Days *int `json:"days"`
}

// CleanupResponseBody is the response from POST /api/backups/cleanup.
type CleanupResponseBody struct {
	Days    int `json:"days"`
	Deleted int `json:"deleted"`
}

// BackupsResponseBody is the response from GET /api/backups.
type BackupsResponseBody struct {
	Backups []backup.Record `json:"backups"`
	Groups  []backup.Group  `json:"groups,omitempty"`
}

// RunDetailResponseBody is the response from GET /api/runs/{id}.
type RunDetailResponseBody struct {
	Run   *store.Run         `json:"run"`
	Files []store.FileResult `json:"files"`
}

// handleAPIFiles verifies the configured workbooks.
func (s *Server) handleAPIFiles(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Verify())
}

// handleAPIBackups lists backups, with per-group totals when ?tree=1.
func (s *Server) handleAPIBackups(w http.ResponseWriter, r *http.Request) {
	records, err := s.engine.ListBackups()
	if err != nil {
		s.logger.Error("failed to list backups", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list backups")
		return
	}

	resp := BackupsResponseBody{Backups: records}
	if tree, _ := strconv.ParseBool(r.URL.Query().Get("tree")); tree {
		groups, err := s.engine.BackupGroups()
		if err != nil {
			s.logger.Error("failed to group backups", "error", err)
			jsonError(w, http.StatusInternalServerError, "failed to list backups")
			return
		}
		resp.Groups = groups
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAPICreateBackups(w http.ResponseWriter, r *http.Request) {
	files, ok := s.selectFiles(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.CreateBackups(files))
}

// handleAPICleanupBackups purges backups older than the requested number
// of days, or the configured retention window when days is omitted.
func (s *Server) handleAPICleanupBackups(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequestBody
	if err := safety.DecodeJSON(r.Body, maxBodyBytes, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	days := s.engine.RetentionDays()
	if req.Days != nil {
		if *req.Days < 0 {
			jsonError(w, http.StatusBadRequest, "days must not be negative")
			return
		}
		days = *req.Days
	}

	deleted := s.engine.CleanupBackups(days)
	s.writeJSON(w, http.StatusOK, CleanupResponseBody{Days: days, Deleted: deleted})
}

func (s *Server) handleAPIBackupHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	events, err := s.engine.BackupHistory(limit)
	if err != nil {
		s.logger.Error("failed to list backup history", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list backup history")
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

// handleAPIRefresh refreshes the selected workbooks and returns the batch
// result. Closing the connection stops the batch between workbooks.
func (s *Server) handleAPIRefresh(w http.ResponseWriter, r *http.Request) {
	files, ok := s.selectFiles(w, r)
	if !ok {
		return
	}

	res, err := s.engine.RefreshBatch(r.Context(), files)
	if errors.Is(err, engine.ErrBusy) {
		jsonError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAPIRun(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.RunAuto(r.Context())
	if errors.Is(err, engine.ErrBusy) {
		jsonError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, summary)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	runs, err := s.engine.History(limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleAPIRunDetail(w http.ResponseWriter, r *http.Request) {
	run, files, err := s.engine.RunDetail(r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load run", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	s.writeJSON(w, http.StatusOK, RunDetailResponseBody{Run: run, Files: files})
}

func (s *Server) handleAPIProgress(w http.ResponseWriter, r *http.Request) {
	tracker := s.engine.ActiveProgress()
	if tracker == nil {
		jsonError(w, http.StatusNotFound, "no run has started")
		return
	}
	s.writeJSON(w, http.StatusOK, tracker.Snapshot())
}

// handleAPIProgressStream streams progress snapshots as server-sent events
// until the run ends or the client goes away.
func (s *Server) handleAPIProgressStream(w http.ResponseWriter, r *http.Request) {
	tracker := s.engine.ActiveProgress()
	if tracker == nil {
		jsonError(w, http.StatusNotFound, "no run has started")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sendEvent := func(event string, data any) {
		jsonData, _ := json.Marshal(data)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
		flusher.Flush()
	}

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		wait := tracker.Wait()
		snap := tracker.Snapshot()
		if terminal(snap.Phase) {
			sendEvent("done", snap)
			return
		}
		sendEvent("progress", snap)

		select {
		case <-r.Context().Done():
			return
		case <-wait:
		case <-heartbeat.C:
		}
	}
}

func terminal(p engine.Phase) bool {
	return p == engine.PhaseComplete || p == engine.PhaseFailed || p == engine.PhaseCancelled
}

// selectFiles decodes a FilesRequestBody and resolves it, writing the
// error response itself when that fails.
func (s *Server) selectFiles(w http.ResponseWriter, r *http.Request) ([]workbook.File, bool) {
	var req FilesRequestBody
	if err := safety.DecodeJSON(r.Body, maxBodyBytes, &req); err != nil {
		if errors.Is(err, safety.ErrBodyTooLarge) {
			jsonError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}

	files, err := s.engine.SelectFiles(req.Files)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return files, true
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		jsonError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
