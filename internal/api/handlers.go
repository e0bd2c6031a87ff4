package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goodtune/intentgate/internal/event"
	"github.com/goodtune/intentgate/internal/scheduler"
	"github.com/goodtune/intentgate/internal/session"
	"github.com/goodtune/intentgate/internal/storage"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid event payload: "+err.Error())
		return
	}
	if err := ev.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	decision, err := s.service.HandleEvent(r.Context(), ev)
	if err != nil {
		s.logger.Error().Err(err).Str("event_id", ev.ID).Msg("Event pipeline failed")
		writeError(w, http.StatusInternalServerError, "Failed to process event")
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleChoice(w http.ResponseWriter, r *http.Request) {
	var choice scheduler.Choice
	if err := json.NewDecoder(r.Body).Decode(&choice); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid choice payload: "+err.Error())
		return
	}
	if choice.Timestamp.IsZero() {
		choice.Timestamp = time.Now().UTC()
	}

	if err := s.service.HandleChoice(r.Context(), choice); err != nil {
		if errors.Is(err, scheduler.ErrInvalidChoice) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Str("app", choice.App).Msg("Choice pipeline failed")
		writeError(w, http.StatusInternalServerError, "Failed to process choice")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	err := s.service.EndSession(r.Context())
	if err != nil {
		var violation *session.InvariantViolationError
		if errors.As(err, &violation) {
			writeError(w, http.StatusConflict, violation.Error())
			return
		}
		s.logger.Error().Err(err).Msg("Session end failed")
		writeError(w, http.StatusInternalServerError, "Failed to end session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.CurrentState(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("State read failed")
		writeError(w, http.StatusInternalServerError, "Failed to read state")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := storage.DecisionFilter{
		App:    query.Get("app"),
		Reason: query.Get("reason"),
		Limit:  100, // Default limit
		Offset: 0,
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit <= 1000 {
			filter.Limit = limit
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}
	if startStr := query.Get("start_time"); startStr != "" {
		if startTime, err := time.Parse(time.RFC3339, startStr); err == nil {
			filter.StartTime = &startTime
		}
	}
	if endStr := query.Get("end_time"); endStr != "" {
		if endTime, err := time.Parse(time.RFC3339, endStr); err == nil {
			filter.EndTime = &endTime
		}
	}

	records, err := s.store.Decisions().Query(r.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to query decision records")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve decisions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"decisions": records,
		"count":     len(records),
	})
}
