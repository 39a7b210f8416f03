package rooms

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hilthontt/roomrelay/internal/infrastructure/json"
	"github.com/hilthontt/roomrelay/internal/infrastructure/logging"
	"github.com/hilthontt/roomrelay/internal/infrastructure/ws"
)

type Handler struct {
	core     *ws.Core
	upgrader websocket.Upgrader
	logger   logging.Logger
}

func NewHandler(core *ws.Core, allowedOrigins []string, logger logging.Logger) *Handler {
	policy, invalid := newOriginPolicy(allowedOrigins)
	for _, origin := range invalid {
		logger.Warn(logging.General, logging.Startup, "ignoring invalid allowed origin", map[logging.ExtraKey]any{
			"Origin": origin,
		})
	}

	h := &Handler{
		core:   core,
		logger: logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if policy.check(r) {
				return true
			}
			logger.Warn(logging.RequestResponse, logging.Connect, "blocked websocket origin", map[logging.ExtraKey]any{
				"Origin":         r.Header.Get("Origin"),
				logging.ClientIp: r.RemoteAddr,
			})
			return false
		},
	}
	return h
}

// ConnectHandler upgrades the request and hands the socket to the relay.
func (h *Handler) ConnectHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug(logging.RequestResponse, logging.Connect, "websocket upgrade failed", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
			logging.ClientIp:     r.RemoteAddr,
		})
		return
	}

	client := ws.NewClient(conn, ws.ConnID(uuid.NewString()), h.core, h.logger)
	if !client.Start() {
		h.logger.Warn(logging.Relay, logging.Connect, "relay stopped, refusing connection", map[logging.ExtraKey]any{
			logging.ClientIp: r.RemoteAddr,
		})
	}
}

func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := h.core.Stats()
	if err := json.Write(w, http.StatusOK, statsResponse{Rooms: stats.Rooms, Connections: stats.Connections}); err != nil {
		h.logger.Error(logging.RequestResponse, logging.ExternalService, "failed to write stats", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
}
