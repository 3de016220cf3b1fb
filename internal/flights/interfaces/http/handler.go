package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	apihttp "groundcontrol/internal/api/http"
	"groundcontrol/internal/audit"
	"groundcontrol/internal/auth"
	flightsapp "groundcontrol/internal/flights/application"
	flights "groundcontrol/internal/flights/domain"
)

// Handler provides flight endpoints.
type Handler struct {
	service     *flightsapp.Service
	auditLogger audit.Logger
	logger      *log.Logger
}

// NewHandler constructs a handler. auditLogger may be nil.
func NewHandler(service *flightsapp.Service, auditLogger audit.Logger, logger *log.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("flights handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{service: service, auditLogger: auditLogger, logger: logger}, nil
}

// Register mounts the flight routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/flights", h.Create)
	mux.HandleFunc("GET /api/flights", h.List)
	mux.HandleFunc("GET /api/flights/{flightId}", h.Get)
}

type createRequest struct {
	Name string `json:"name" validate:"max=128"`
}

// Create handles POST /api/flights. The body is optional.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if r.ContentLength != 0 {
		if err := apihttp.DecodeBody(r, &req); err != nil && !errors.Is(err, apihttp.ErrEmptyBody) {
			apihttp.DecodeError(w, err)
			return
		}
	}
	if err := apihttp.Validate(req); err != nil {
		apihttp.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := auth.SubjectFromContext(r.Context())
	created, err := h.service.Create(r.Context(), req.Name, actor)
	if err != nil {
		h.logger.Printf("flights: create: %v", err)
		apihttp.InternalError(w)
		return
	}
	h.logAudit(r, created.Flight)
	apihttp.WriteJSON(w, http.StatusCreated, created)
}

// List handles GET /api/flights.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 || parsed > 1000 {
			apihttp.WriteError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}
	list, err := h.service.List(r.Context(), limit)
	if err != nil {
		h.logger.Printf("flights: list: %v", err)
		apihttp.InternalError(w)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

// Get handles GET /api/flights/{flightId}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	flight, err := h.service.Get(r.Context(), r.PathValue("flightId"))
	switch {
	case err == nil:
		apihttp.WriteJSON(w, http.StatusOK, flight)
	case errors.Is(err, flights.ErrNotFound):
		apihttp.WriteError(w, http.StatusNotFound, "flight not found")
	case errors.Is(err, flights.ErrEmptyID):
		apihttp.WriteError(w, http.StatusBadRequest, "invalid flight id")
	default:
		h.logger.Printf("flights: get: %v", err)
		apihttp.InternalError(w)
	}
}

func (h *Handler) logAudit(r *http.Request, flight flights.Flight) {
	if h.auditLogger == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{"name": flight.Name})
	if err := h.auditLogger.Log(r.Context(), audit.Entry{
		FlightID:     flight.ID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       audit.ActionFlightCreate,
		ResourceType: "flight",
		ResourceID:   flight.ID,
		Outcome:      "created",
		Metadata:     meta,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	}); err != nil {
		h.logger.Printf("flights: audit: flight=%s: %v", flight.ID, err)
	}
}
