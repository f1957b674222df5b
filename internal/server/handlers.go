package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mleone/deckwarden/internal/domain"
	"github.com/mleone/deckwarden/internal/jobs"
	"github.com/mleone/deckwarden/internal/results"
	"github.com/mleone/deckwarden/internal/tasks"
	"github.com/mleone/deckwarden/internal/triggers"
)

// Results older than this are recomputed on read instead of served as-is.
const (
	suggestionStaleAfter = 2 * time.Hour
	portfolioStaleAfter  = 2 * time.Hour
)

const defaultTaskMaxRetries = 3

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// handleSubmitEvent handles POST /api/events: the change-event intake.
// Malformed events are rejected with 400; policy-suppressed events return
// 202 without a trigger.
func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var event domain.ChangeEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if event.ObservedAt.IsZero() {
		event.ObservedAt = time.Now().UTC()
	}

	trigger, err := s.deps.Triggers.SubmitChangeEvent(r.Context(), event)
	if err != nil {
		if errors.Is(err, triggers.ErrInvalidEvent) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error().Err(err).Msg("Failed to submit change event")
		s.writeError(w, http.StatusInternalServerError, "failed to process event")
		return
	}

	if trigger == nil {
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "suppressed"})
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"status":  "scheduled",
		"trigger": trigger,
	})
}

// createTaskRequest is the body for POST /api/tasks.
type createTaskRequest struct {
	UserID        string          `json:"user_id"`
	Kind          tasks.Kind      `json:"kind"`
	DeckID        string          `json:"deck_id,omitempty"`
	Frequency     tasks.Frequency `json:"frequency"`
	MaxRetries    int             `json:"max_retries,omitempty"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// handleCreateTask handles POST /api/tasks. Kind and frequency are validated
// synchronously so a bad task never reaches the scheduler.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if !req.Kind.Valid() {
		s.writeError(w, http.StatusBadRequest, "unknown task kind: "+string(req.Kind))
		return
	}
	if !req.Frequency.Valid() {
		s.writeError(w, http.StatusBadRequest, "unknown frequency: "+string(req.Frequency))
		return
	}

	nextRun, err := tasks.NextRun(req.Frequency, time.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to compute next run")
		s.writeError(w, http.StatusInternalServerError, "failed to schedule task")
		return
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultTaskMaxRetries
	}

	task := &tasks.ScheduledTask{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		Kind:          req.Kind,
		DeckID:        req.DeckID,
		Frequency:     req.Frequency,
		NextRun:       nextRun,
		IsActive:      true,
		MaxRetries:    maxRetries,
		Configuration: req.Configuration,
	}
	if err := s.deps.Tasks.CreateTask(task); err != nil {
		s.log.Error().Err(err).Msg("Failed to create task")
		s.writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	s.writeJSON(w, http.StatusCreated, task)
}

// updateTaskRequest is the body for PUT /api/tasks/{id}. Absent fields keep
// their current value.
type updateTaskRequest struct {
	Kind          *tasks.Kind      `json:"kind,omitempty"`
	DeckID        *string          `json:"deck_id,omitempty"`
	Frequency     *tasks.Frequency `json:"frequency,omitempty"`
	MaxRetries    *int             `json:"max_retries,omitempty"`
	Configuration json.RawMessage  `json:"configuration,omitempty"`
}

// handleUpdateTask handles PUT /api/tasks/{id}. A frequency change recomputes
// the next run; retry state and activation are untouched.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	task, err := s.deps.Tasks.GetTask(id)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load task")
		s.writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	if task == nil {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}

	if req.Kind != nil {
		if !req.Kind.Valid() {
			s.writeError(w, http.StatusBadRequest, "unknown task kind: "+string(*req.Kind))
			return
		}
		task.Kind = *req.Kind
	}
	if req.Frequency != nil && *req.Frequency != task.Frequency {
		if !req.Frequency.Valid() {
			s.writeError(w, http.StatusBadRequest, "unknown frequency: "+string(*req.Frequency))
			return
		}
		task.Frequency = *req.Frequency
		nextRun, nerr := tasks.NextRun(task.Frequency, time.Now())
		if nerr != nil {
			s.log.Error().Err(nerr).Msg("Failed to compute next run")
			s.writeError(w, http.StatusInternalServerError, "failed to reschedule task")
			return
		}
		task.NextRun = nextRun
	}
	if req.DeckID != nil {
		task.DeckID = *req.DeckID
	}
	if req.MaxRetries != nil {
		if *req.MaxRetries <= 0 {
			s.writeError(w, http.StatusBadRequest, "max_retries must be positive")
			return
		}
		task.MaxRetries = *req.MaxRetries
	}
	if len(req.Configuration) > 0 {
		task.Configuration = req.Configuration
	}

	ok, err := s.deps.Tasks.UpdateTask(task, task.RetryCount)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to update task")
		s.writeError(w, http.StatusInternalServerError, "failed to update task")
		return
	}
	if !ok {
		s.writeError(w, http.StatusConflict, "task changed concurrently, retry the update")
		return
	}

	updated, err := s.deps.Tasks.GetTask(id)
	if err != nil || updated == nil {
		s.log.Error().Err(err).Msg("Failed to reload task after update")
		s.writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

// handleListTasks handles GET /api/tasks?user_id=...
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	list, err := s.deps.Tasks.ListTasksForUser(userID)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list tasks")
		s.writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if list == nil {
		list = []*tasks.ScheduledTask{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": list})
}

// handleGetTask handles GET /api/tasks/{id}.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Tasks.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load task")
		s.writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	if task == nil {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

// handleSetTaskActive handles PUT /api/tasks/{id}/active to pause or resume
// a task.
func (s *Server) handleSetTaskActive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	task, err := s.deps.Tasks.GetTask(id)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load task")
		s.writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	if task == nil {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}

	if err := s.deps.Tasks.SetTaskActive(id, req.Active); err != nil {
		s.log.Error().Err(err).Msg("Failed to update task")
		s.writeError(w, http.StatusInternalServerError, "failed to update task")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "is_active": req.Active})
}

// handleDeleteTask handles DELETE /api/tasks/{id}.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	task, err := s.deps.Tasks.GetTask(id)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load task")
		s.writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	if task == nil {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}

	if err := s.deps.Tasks.DeleteTask(id); err != nil {
		s.log.Error().Err(err).Msg("Failed to delete task")
		s.writeError(w, http.StatusInternalServerError, "failed to delete task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeckSuggestions handles GET /api/decks/{id}/suggestions. Stale
// results are recomputed on read; if recomputation fails the stored results
// are served anyway.
func (s *Server) handleDeckSuggestions(w http.ResponseWriter, r *http.Request) {
	deckID := chi.URLParam(r, "id")

	deck, err := s.deps.Decks.Get(deckID)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load deck")
		s.writeError(w, http.StatusInternalServerError, "failed to load deck")
		return
	}
	if deck == nil {
		s.writeError(w, http.StatusNotFound, "deck not found")
		return
	}

	computedAt, err := s.deps.Results.LatestSuggestionTime(deckID)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to check suggestion freshness")
		s.writeError(w, http.StatusInternalServerError, "failed to load suggestions")
		return
	}

	if time.Since(computedAt) > suggestionStaleAfter {
		if _, err := s.deps.Suggestions.Analyze(r.Context(), deck.UserID, deckID); err != nil {
			s.log.Warn().Err(err).Str("deck_id", deckID).Msg("On-read suggestion refresh failed, serving stored results")
		} else {
			computedAt = time.Now().UTC()
		}
	}

	list, err := s.deps.Results.SuggestionsForDeck(deckID, time.Now(), 50)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load suggestions")
		s.writeError(w, http.StatusInternalServerError, "failed to load suggestions")
		return
	}
	if list == nil {
		list = []results.Suggestion{}
	}

	response := map[string]interface{}{
		"deck_id":     deckID,
		"suggestions": list,
	}
	if !computedAt.IsZero() {
		response["computed_at"] = computedAt
	}
	s.writeJSON(w, http.StatusOK, response)
}

// feedbackRequest is the body for POST /api/suggestions/{id}/feedback.
type feedbackRequest struct {
	UserID string                 `json:"user_id"`
	Action results.FeedbackAction `json:"action"`
	Note   string                 `json:"note,omitempty"`
}

// handleSuggestionFeedback handles POST /api/suggestions/{id}/feedback.
func (s *Server) handleSuggestionFeedback(w http.ResponseWriter, r *http.Request) {
	suggestionID := chi.URLParam(r, "id")

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	switch req.Action {
	case results.FeedbackAccepted, results.FeedbackDismissed, results.FeedbackSnoozed:
	default:
		s.writeError(w, http.StatusBadRequest, "unknown feedback action: "+string(req.Action))
		return
	}

	feedback := &results.Feedback{
		SuggestionID: suggestionID,
		UserID:       req.UserID,
		Action:       req.Action,
		Note:         req.Note,
	}
	if err := s.deps.Results.SaveFeedback(feedback); err != nil {
		s.log.Error().Err(err).Msg("Failed to save feedback")
		s.writeError(w, http.StatusInternalServerError, "failed to save feedback")
		return
	}
	s.writeJSON(w, http.StatusCreated, feedback)
}

// handleUserPortfolio handles GET /api/users/{id}/portfolio. Stale or missing
// results are recomputed on read; if recomputation fails the stored result is
// served anyway.
func (s *Server) handleUserPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	stored, err := s.deps.Results.GetPortfolio(userID)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load portfolio")
		s.writeError(w, http.StatusInternalServerError, "failed to load portfolio")
		return
	}

	if stored == nil || time.Since(stored.ComputedAt) > portfolioStaleAfter {
		fresh, err := s.deps.Portfolio.Optimize(r.Context(), userID)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("On-read portfolio refresh failed, serving stored result")
		} else {
			stored = fresh
		}
	}

	if stored == nil {
		s.writeError(w, http.StatusNotFound, "no portfolio computed yet")
		return
	}
	s.writeJSON(w, http.StatusOK, stored)
}

// handleMaintenanceReport handles GET /api/maintenance/report. The period
// query parameter selects the window: daily (default) or weekly.
func (s *Server) handleMaintenanceReport(w http.ResponseWriter, r *http.Request) {
	var (
		report *jobs.Report
		err    error
	)
	switch period := r.URL.Query().Get("period"); period {
	case "", "daily":
		report, err = s.deps.Reporter.BuildDaily(time.Now())
	case "weekly":
		report, err = s.deps.Reporter.BuildWeekly(time.Now())
	default:
		s.writeError(w, http.StatusBadRequest, "unknown report period: "+period)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to build maintenance report")
		s.writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// handleTriggerBackup handles POST /api/system/backup to run the daily
// maintenance pass immediately.
func (s *Server) handleTriggerBackup(w http.ResponseWriter, r *http.Request) {
	if s.deps.Maintenance == nil {
		s.writeError(w, http.StatusServiceUnavailable, "maintenance is not configured")
		return
	}

	s.log.Info().Msg("Manual maintenance pass triggered")
	if err := s.deps.Maintenance.RunDailyBackup(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("Manual maintenance pass failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}
