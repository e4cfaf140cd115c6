package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/invopop/jsonschema"

	"github.com/scenebridge/scenebridge/internal/action"
	"github.com/scenebridge/scenebridge/internal/conn"
	"github.com/scenebridge/scenebridge/internal/state"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler routes REST and websocket requests to the sync engine and the
// connection manager.
type Handler struct {
	engine   *state.Engine
	registry *action.Registry
	manager  *conn.Manager
	logger   *slog.Logger
}

func NewHandler(engine *state.Engine, registry *action.Registry, manager *conn.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:   engine,
		registry: registry,
		manager:  manager,
		logger:   logger,
	}
}

// Mount registers all routes on the provided router.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/ws", h.attachWebSocket)
	r.Get("/api/status", h.getStatus)
	r.Get("/api/actions", h.listActions)
	r.Get("/api/instances", h.listInstances)
	r.Get("/api/instances/{id}", h.getInstance)
	r.Delete("/api/instances/{id}", h.deleteInstance)
	r.Get("/api/environment", h.getEnvironment)
}

// attachWebSocket upgrades the request and hands the connection to the
// manager, which owns it from then on.
func (h *Handler) attachWebSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	id := h.manager.Attach(conn.NewWebsocketTransport(wsConn))
	h.logger.Info("websocket attached", "session", id, "remote", r.RemoteAddr)
}

type statusResponse struct {
	PeerState  string `json:"peer_state"`
	Sessions   int    `json:"sessions"`
	QueueDepth int    `json:"queue_depth"`
	Instances  int    `json:"instances"`
}

func (h *Handler) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		PeerState:  h.manager.PeerState().String(),
		Sessions:   h.manager.SessionCount(),
		QueueDepth: h.manager.QueueDepth(),
		Instances:  len(h.engine.Instances()),
	})
}

type actionDescription struct {
	ActionID            string             `json:"action_id"`
	RequiredPermissions []string           `json:"required_permissions"`
	ParamsSchema        *jsonschema.Schema `json:"params_schema,omitempty"`
}

func (h *Handler) listActions(w http.ResponseWriter, _ *http.Request) {
	descriptors := h.registry.Descriptors()
	out := make([]actionDescription, 0, len(descriptors))
	for _, d := range descriptors {
		desc := actionDescription{
			ActionID:            d.ActionID,
			RequiredPermissions: d.RequiredPermissions,
		}
		if desc.RequiredPermissions == nil {
			desc.RequiredPermissions = []string{}
		}
		if d.Params != nil {
			desc.ParamsSchema = jsonschema.Reflect(d.Params)
		}
		out = append(out, desc)
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": out})
}

func (h *Handler) listInstances(w http.ResponseWriter, _ *http.Request) {
	instances := h.engine.Instances()
	out := make([]map[string]any, 0, len(instances))
	for _, st := range instances {
		out = append(out, map[string]any{
			"instance_id": st.InstanceID,
			"state":       st.Wire(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": out})
}

func (h *Handler) getInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := h.engine.Instance(id)
	if !ok {
		writeError(w, http.StatusNotFound, "instance not found", id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instance_id": id,
		"state":       st.Wire(),
	})
}

func (h *Handler) deleteInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.RemoveInstance(id); err != nil {
		if errors.Is(err, state.ErrInstanceNotFound) {
			writeError(w, http.StatusNotFound, "instance not found", id)
			return
		}
		writeError(w, http.StatusInternalServerError, "remove failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getEnvironment(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"environment": h.engine.Environment()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, code int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	resp := errorResponse{Error: message}
	if details != "" {
		resp.Details = details
	}
	_ = json.NewEncoder(w).Encode(resp)
}
