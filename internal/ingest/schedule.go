package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"sentinel/internal/domain"
	"sentinel/internal/faults"
)

// ScheduleSink drives deployment schedules from the control surface.
// Params: none.
// Returns: scheduler operations surface satisfied by sched.Scheduler.
type ScheduleSink interface {
	Create(name string) (domain.Schedule, error)
	Cancel(id string) (domain.Schedule, error)
	Run(ctx context.Context, id string) (domain.Schedule, error)
	List() []domain.Schedule
}

// ScheduleHandler exposes schedule create/cancel/run/list over HTTP.
// Params: schedule sink and max request body size.
// Returns: HTTP handler for the schedule control endpoint.
type ScheduleHandler struct {
	sink        ScheduleSink
	maxBodySize int64
}

// NewScheduleHandler creates the schedule control handler.
// Params: schedule sink and max request body size in bytes.
// Returns: configured handler.
func NewScheduleHandler(sink ScheduleSink, maxBodySize int64) *ScheduleHandler {
	return &ScheduleHandler{sink: sink, maxBodySize: maxBodySize}
}

// ServeHTTP handles one schedule control request.
// Params: HTTP request/response writer pair.
// Returns: schedule list on GET; create/cancel/run results on POST.
func (h *ScheduleHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	switch request.Method {
	case http.MethodGet:
		writeJSON(writer, http.StatusOK, h.sink.List())
	case http.MethodPost:
		h.handleAction(writer, request)
	default:
		writer.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleAction decodes and dispatches one schedule action request.
// Params: HTTP request/response writer pair.
// Returns: schedule snapshot, 404 for unknown ids, 409 for state conflicts.
func (h *ScheduleHandler) handleAction(writer http.ResponseWriter, request *http.Request) {
	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	var payload struct {
		Action string `json:"action"`
		Name   string `json:"name"`
		ID     string `json:"id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(writer, http.StatusBadRequest, errors.New("malformed schedule request"))
		return
	}

	var (
		schedule domain.Schedule
		opErr    error
		status   = http.StatusOK
	)
	switch payload.Action {
	case "create":
		schedule, opErr = h.sink.Create(payload.Name)
		status = http.StatusCreated
	case "cancel":
		schedule, opErr = h.sink.Cancel(payload.ID)
	case "run":
		schedule, opErr = h.sink.Run(request.Context(), payload.ID)
	default:
		writeError(writer, http.StatusBadRequest, errors.New("action must be create, cancel, or run"))
		return
	}

	if errors.Is(opErr, faults.ErrNotFound) {
		writeError(writer, http.StatusNotFound, opErr)
		return
	}
	if opErr != nil {
		writeError(writer, http.StatusConflict, opErr)
		return
	}
	writeJSON(writer, status, schedule)
}
