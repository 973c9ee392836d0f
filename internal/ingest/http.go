package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"sentinel/internal/domain"
	"sentinel/internal/faults"
)

// ActivitySink receives decoded activity events from ingest interfaces.
// Params: decoded activity event.
// Returns: false when the contract is not registered.
type ActivitySink interface {
	Record(event domain.ActivityEvent) bool
}

// IncidentSink receives externally reported incidents and resolutions.
// Params: none.
// Returns: incident operations surface satisfied by incident.Manager.
type IncidentSink interface {
	Detect(ctx context.Context, report domain.IncidentReport, method domain.DetectionMethod) (domain.Incident, error)
	Resolve(id, note string) (domain.Incident, error)
	List() []domain.Incident
}

// ActivityHandler decodes activity events and feeds the monitor counters.
// Params: sink and max request body size.
// Returns: HTTP handler accepting single events and batches.
type ActivityHandler struct {
	sink        ActivitySink
	maxBodySize int64
}

// NewActivityHandler creates the activity ingest handler.
// Params: sink and max request body size in bytes.
// Returns: configured handler.
func NewActivityHandler(sink ActivitySink, maxBodySize int64) *ActivityHandler {
	return &ActivityHandler{sink: sink, maxBodySize: maxBodySize}
}

// ServeHTTP handles one activity ingest request.
// Params: HTTP request/response writer pair.
// Returns: 202 on accept, 400 on malformed payloads.
func (h *ActivityHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	events, err := decodeActivityPayload(body)
	if err != nil {
		writeError(writer, http.StatusBadRequest, err)
		return
	}
	accepted := 0
	for _, event := range events {
		if h.sink.Record(event) {
			accepted++
		}
	}
	writeJSON(writer, http.StatusAccepted, map[string]int{"accepted": accepted, "received": len(events)})
}

// decodeActivityPayload decodes a single event or an event batch.
// Params: raw JSON body.
// Returns: validated events; arrays and objects are auto-detected.
func decodeActivityPayload(body []byte) ([]domain.ActivityEvent, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty request body")
	}
	if trimmed[0] == '[' {
		return domain.DecodeActivityEvents(trimmed)
	}
	event, err := domain.DecodeActivityEvent(trimmed)
	if err != nil {
		return nil, err
	}
	return []domain.ActivityEvent{event}, nil
}

// IncidentHandler accepts externally reported incidents.
// Params: incident sink and max request body size.
// Returns: HTTP handler creating incidents from validated reports.
type IncidentHandler struct {
	sink        IncidentSink
	maxBodySize int64
}

// NewIncidentHandler creates the incident report handler.
// Params: incident sink and max request body size in bytes.
// Returns: configured handler.
func NewIncidentHandler(sink IncidentSink, maxBodySize int64) *IncidentHandler {
	return &IncidentHandler{sink: sink, maxBodySize: maxBodySize}
}

// ServeHTTP handles one incident report or listing request.
// Params: HTTP request/response writer pair.
// Returns: created incident on POST, incident list on GET.
func (h *IncidentHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	switch request.Method {
	case http.MethodGet:
		writeJSON(writer, http.StatusOK, h.sink.List())
	case http.MethodPost:
		request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
		defer request.Body.Close()
		body, err := io.ReadAll(request.Body)
		if err != nil {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}
		incidentReport, err := domain.DecodeIncidentReport(body)
		if err != nil {
			writeError(writer, http.StatusBadRequest, err)
			return
		}
		incident, err := h.sink.Detect(request.Context(), incidentReport, domain.DetectExternal)
		if err != nil {
			writeError(writer, http.StatusInternalServerError, err)
			return
		}
		writeJSON(writer, http.StatusCreated, incident)
	default:
		writer.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// ResolveHandler closes incidents by id.
// Params: incident sink and max request body size.
// Returns: HTTP handler for operator-confirmed resolution.
type ResolveHandler struct {
	sink        IncidentSink
	maxBodySize int64
}

// NewResolveHandler creates the incident resolution handler.
// Params: incident sink and max request body size in bytes.
// Returns: configured handler.
func NewResolveHandler(sink IncidentSink, maxBodySize int64) *ResolveHandler {
	return &ResolveHandler{sink: sink, maxBodySize: maxBodySize}
}

// ServeHTTP handles one incident resolution request.
// Params: HTTP request/response writer pair.
// Returns: resolved incident, 404 for unknown ids, 409 once terminal.
func (h *ResolveHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	var payload struct {
		ID   string `json:"id"`
		Note string `json:"note"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.ID == "" {
		writeError(writer, http.StatusBadRequest, errors.New("id is required"))
		return
	}

	incident, err := h.sink.Resolve(payload.ID, payload.Note)
	if errors.Is(err, faults.ErrNotFound) {
		writeError(writer, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(writer, http.StatusConflict, err)
		return
	}
	writeJSON(writer, http.StatusOK, incident)
}

// writeJSON writes one JSON response with status code.
// Params: writer, status, and encodable value.
// Returns: response written; encode failures are silently dropped.
func writeJSON(writer http.ResponseWriter, status int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(value)
}

// writeError writes one JSON error envelope.
// Params: writer, status, and error.
// Returns: response written.
func writeError(writer http.ResponseWriter, status int, err error) {
	writeJSON(writer, status, map[string]string{"error": err.Error()})
}
