package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	apihttp "groundcontrol/internal/api/http"
	telemetryapp "groundcontrol/internal/telemetry/application"
	telemetry "groundcontrol/internal/telemetry/domain"
)

const (
	defaultListLimit = 5000
	maxListLimit     = 50000
)

// Handler provides flight log endpoints.
type Handler struct {
	service *telemetryapp.IngestService
	logger  *log.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *telemetryapp.IngestService, logger *log.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("telemetry handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{service: service, logger: logger}, nil
}

// Register mounts the log routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/flights/{flightId}/logs", h.Ingest)
	mux.HandleFunc("GET /api/flights/{flightId}/logs", h.List)
	mux.HandleFunc("GET /api/flights/{flightId}/logs/export.csv", h.exportHandler(formatCSV))
	mux.HandleFunc("GET /api/flights/{flightId}/logs/export.xlsx", h.exportHandler(formatXLSX))
	mux.HandleFunc("GET /api/flights/{flightId}/logs/export.pdf", h.exportHandler(formatPDF))
}

type ingestResponse struct {
	OK       bool `json:"ok"`
	Inserted int  `json:"inserted"`
}

// Ingest handles POST /api/flights/{flightId}/logs. The body is one record or
// an array of records, JSON or CBOR.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	flightID, ok := flightIDFromPath(w, r)
	if !ok {
		return
	}
	body, err := apihttp.ReadBody(r)
	if err != nil {
		apihttp.DecodeError(w, err)
		return
	}
	records, err := parseRecords(body)
	if err != nil {
		apihttp.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	batch, err := h.service.Ingest(r.Context(), flightID, records)
	switch {
	case err == nil:
		apihttp.WriteJSON(w, http.StatusOK, ingestResponse{OK: true, Inserted: len(batch)})
	case errors.Is(err, telemetry.ErrEmptyBatch), errors.Is(err, telemetry.ErrInvalidData), errors.Is(err, telemetry.ErrEmptyFlightID):
		apihttp.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Printf("telemetry ingest: flight=%s records=%d: %v", flightID, len(records), err)
		apihttp.InternalError(w)
	}
}

// List handles GET /api/flights/{flightId}/logs.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	flightID, ok := flightIDFromPath(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		apihttp.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := h.service.List(r.Context(), flightID, limit)
	if err != nil {
		h.logger.Printf("telemetry list: flight=%s: %v", flightID, err)
		apihttp.InternalError(w)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, records)
}

func (h *Handler) exportHandler(format exportFormat) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flightID, ok := flightIDFromPath(w, r)
		if !ok {
			return
		}
		limit, err := parseLimit(r)
		if err != nil {
			apihttp.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		records, err := h.service.List(r.Context(), flightID, limit)
		if err != nil {
			h.logger.Printf("telemetry export: flight=%s: %v", flightID, err)
			apihttp.InternalError(w)
			return
		}
		payload, err := format.build(flightID, records)
		if err != nil {
			h.logger.Printf("telemetry export: flight=%s format=%s: %v", flightID, format.ext, err)
			apihttp.InternalError(w)
			return
		}
		w.Header().Set("Content-Type", format.contentType)
		w.Header().Set("Content-Disposition", "attachment; filename=\"flight-"+flightID+"-logs."+format.ext+"\"")
		_, _ = w.Write(payload)
	}
}

// parseRecords accepts {"sent": n, ...fields} where every field other than
// sent is record data, or {"sent": n, "data": {...}}.
func parseRecords(body []byte) ([]telemetry.Record, error) {
	trimmed := bytes.TrimSpace(body)
	var items []map[string]json.RawMessage
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, errors.New("invalid records")
		}
	} else {
		var item map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &item); err != nil {
			return nil, errors.New("invalid record")
		}
		items = []map[string]json.RawMessage{item}
	}
	if len(items) == 0 {
		return nil, errors.New("no records")
	}

	records := make([]telemetry.Record, 0, len(items))
	for i, item := range items {
		record, err := toRecord(item)
		if err != nil {
			return nil, errors.New("record " + strconv.Itoa(i) + ": " + err.Error())
		}
		records = append(records, record)
	}
	return records, nil
}

func toRecord(item map[string]json.RawMessage) (telemetry.Record, error) {
	rawSent, ok := item["sent"]
	if !ok {
		return telemetry.Record{}, errors.New("sent is required")
	}
	var sent float64
	if err := json.Unmarshal(rawSent, &sent); err != nil || sent < 0 {
		return telemetry.Record{}, errors.New("sent must be a non-negative epoch millisecond number")
	}
	delete(item, "sent")
	// flightId and received are server-assigned.
	delete(item, "flightId")
	delete(item, "received")

	if nested, ok := item["data"]; ok && len(item) == 1 {
		trimmed := bytes.TrimSpace(nested)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			return telemetry.Record{Sent: int64(sent), Data: json.RawMessage(trimmed)}, nil
		}
	}
	data, err := json.Marshal(item)
	if err != nil {
		return telemetry.Record{}, err
	}
	return telemetry.Record{Sent: int64(sent), Data: data}, nil
}

func parseLimit(r *http.Request) (int, error) {
	value := r.URL.Query().Get("limit")
	if value == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit <= 0 || limit > maxListLimit {
		return 0, errors.New("limit must be between 1 and " + strconv.Itoa(maxListLimit))
	}
	return limit, nil
}

func flightIDFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	flightID := r.PathValue("flightId")
	if err := apihttp.ValidateVar(flightID, "required,max=128"); err != nil {
		apihttp.WriteError(w, http.StatusBadRequest, "invalid flight id")
		return "", false
	}
	return flightID, true
}
