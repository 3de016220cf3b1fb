package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	apihttp "groundcontrol/internal/api/http"
	"groundcontrol/internal/audit"
	"groundcontrol/internal/auth"
	commandsapp "groundcontrol/internal/commands/application"
	commands "groundcontrol/internal/commands/domain"
)

const flightIDTag = "required,max=128"

// Handler provides command HTTP endpoints.
type Handler struct {
	service     *commandsapp.Service
	auditLogger audit.Logger
	logger      *log.Logger
}

// NewHandler constructs a handler. auditLogger may be nil.
func NewHandler(service *commandsapp.Service, auditLogger audit.Logger, logger *log.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("commands handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{service: service, auditLogger: auditLogger, logger: logger}, nil
}

// Register mounts the command routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/flights/{flightId}/commands", h.Issue)
	mux.HandleFunc("GET /api/flights/{flightId}/commands", h.List)
	mux.HandleFunc("DELETE /api/flights/{flightId}/commands/{name}", h.Retract)
	mux.HandleFunc("GET /api/flights/{flightId}/commands/next", h.Poll)
	mux.HandleFunc("POST /api/flights/{flightId}/commands/ack", h.Ack)
}

type issueRequest struct {
	Name string          `json:"name" validate:"required,max=64"`
	Args json.RawMessage `json:"args"`
}

type issueResponse struct {
	OK      bool             `json:"ok"`
	Command commands.Command `json:"command"`
}

type ackRequest struct {
	ID   string `json:"id" validate:"omitempty,max=64"`
	Name string `json:"name" validate:"required_without=ID,max=64"`
}

type ackResponse struct {
	OK           bool     `json:"ok"`
	Acknowledged []string `json:"acknowledged"`
}

// Issue handles POST /api/flights/{flightId}/commands. It blocks until the
// device acknowledges or the ack window expires.
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	flightID, ok := flightIDFromPath(w, r)
	if !ok {
		return
	}
	var req issueRequest
	if err := apihttp.DecodeBody(r, &req); err != nil {
		apihttp.DecodeError(w, err)
		return
	}
	if err := apihttp.Validate(req); err != nil {
		apihttp.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	cmd, err := h.service.Issue(r.Context(), flightID, req.Name, req.Args)
	switch {
	case err == nil:
		h.logAudit(r, flightID, audit.ActionCommandIssue, cmd, "acknowledged")
		apihttp.WriteJSON(w, http.StatusOK, issueResponse{OK: true, Command: cmd})
	case errors.Is(err, commandsapp.ErrNotReceived):
		h.logAudit(r, flightID, audit.ActionCommandIssue, cmd, "timeout")
		apihttp.WriteError(w, http.StatusGatewayTimeout, "command not received by device")
	case errors.Is(err, commands.ErrEmptyName), errors.Is(err, commands.ErrInvalidArgs), errors.Is(err, commands.ErrEmptyFlightID):
		apihttp.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The operator went away; the command stays queued for the device.
		h.logAudit(r, flightID, audit.ActionCommandIssue, cmd, "abandoned")
	default:
		h.logger.Printf("commands: issue: flight=%s name=%s: %v", flightID, req.Name, err)
		apihttp.InternalError(w)
	}
}

// List handles GET /api/flights/{flightId}/commands.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	flightID, ok := flightIDFromPath(w, r)
	if !ok {
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, h.service.Pending(flightID))
}

// Retract handles DELETE /api/flights/{flightId}/commands/{name}.
func (h *Handler) Retract(w http.ResponseWriter, r *http.Request) {
	flightID, ok := flightIDFromPath(w, r)
	if !ok {
		return
	}
	name := r.PathValue("name")
	if err := apihttp.ValidateVar(name, "required,max=64"); err != nil {
		apihttp.WriteError(w, http.StatusBadRequest, "invalid command name")
		return
	}
	cmd, removed := h.service.Retract(flightID, name)
	if !removed {
		apihttp.WriteError(w, http.StatusNotFound, "command not found")
		return
	}
	h.logAudit(r, flightID, audit.ActionCommandRetract, cmd, "retracted")
	apihttp.WriteJSON(w, http.StatusOK, issueResponse{OK: true, Command: cmd})
}

// Poll handles GET /api/flights/{flightId}/commands/next for devices.
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	flightID, ok := flightIDFromPath(w, r)
	if !ok {
		return
	}
	cmds, err := h.service.Poll(r.Context(), flightID)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		h.logger.Printf("commands: poll: flight=%s: %v", flightID, err)
		apihttp.InternalError(w)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, commands.Deliveries(cmds))
}

// Ack handles POST /api/flights/{flightId}/commands/ack. The body is a
// single {id?, name} object or an array of them.
func (h *Handler) Ack(w http.ResponseWriter, r *http.Request) {
	flightID, ok := flightIDFromPath(w, r)
	if !ok {
		return
	}
	body, err := apihttp.ReadBody(r)
	if err != nil {
		apihttp.DecodeError(w, err)
		return
	}
	reqs, err := decodeAcks(body)
	if err != nil {
		apihttp.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	refs := make([]commands.Ref, 0, len(reqs))
	for _, req := range reqs {
		if err := apihttp.Validate(req); err != nil {
			apihttp.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		refs = append(refs, commands.Ref{ID: req.ID, Name: req.Name})
	}

	acked, err := h.service.Acknowledge(r.Context(), flightID, refs)
	if err != nil {
		h.logger.Printf("commands: ack: flight=%s: %v", flightID, err)
	}
	ids := make([]string, 0, len(acked))
	for _, cmd := range acked {
		ids = append(ids, cmd.ID)
	}
	apihttp.WriteJSON(w, http.StatusOK, ackResponse{OK: true, Acknowledged: ids})
}

func decodeAcks(body []byte) ([]ackRequest, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var reqs []ackRequest
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			return nil, err
		}
		return reqs, nil
	}
	var req ackRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, err
	}
	return []ackRequest{req}, nil
}

func flightIDFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	flightID := r.PathValue("flightId")
	if err := apihttp.ValidateVar(flightID, flightIDTag); err != nil {
		apihttp.WriteError(w, http.StatusBadRequest, "invalid flight id")
		return "", false
	}
	return flightID, true
}

func (h *Handler) logAudit(r *http.Request, flightID, action string, cmd commands.Command, outcome string) {
	if h.auditLogger == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"name": cmd.Name,
		"args": cmd.Args,
	})
	// The request context may already be cancelled for abandoned issues.
	ctx := context.WithoutCancel(r.Context())
	if err := h.auditLogger.Log(ctx, audit.Entry{
		FlightID:     flightID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "command",
		ResourceID:   cmd.ID,
		Outcome:      outcome,
		Metadata:     meta,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	}); err != nil {
		h.logger.Printf("commands: audit: flight=%s action=%s: %v", flightID, action, err)
	}
}
