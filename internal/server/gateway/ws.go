package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dsmirnov/homesec/internal/common"
	"github.com/dsmirnov/homesec/internal/logging"
	"github.com/dsmirnov/homesec/internal/server/accounts"
	"github.com/dsmirnov/homesec/internal/server/command"
	"github.com/dsmirnov/homesec/internal/server/models"
	"github.com/dsmirnov/homesec/internal/server/pairing"
	"github.com/dsmirnov/homesec/internal/server/registry"
	"github.com/dsmirnov/homesec/internal/server/session"
	"github.com/dsmirnov/homesec/internal/server/storage"
)

// dashboard protocol actions, client to server
const (
	actionAddDevice    = "add-device"
	actionCancelAdd    = "cancel-add-device"
	actionRemoveDevice = "remove-device"
	actionSetArmed     = "set-armed"
	actionGetInfo      = "get-info"
	actionGetClip      = "get-clip"
	actionListClips    = "list-clips"
	actionError        = "error"
)

// ClipStore is the read side of the clip object store used by the dashboard.
type ClipStore interface {
	List(ctx context.Context, username, deviceID string) ([]string, error)
	PresignGet(ctx context.Context, username, key string) (string, error)
}

// Handler serves the websocket endpoint and dispatches dashboard actions.
type Handler struct {
	hub      *Hub
	sessions *session.Service
	accounts *accounts.Service
	registry *registry.Service
	pairing  *pairing.Service
	commands *command.Service
	store    storage.Store
	clips    ClipStore
	log      logging.Logger

	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, sessions *session.Service, accs *accounts.Service,
	reg *registry.Service, pair *pairing.Service, cmds *command.Service,
	store storage.Store, clips ClipStore, log logging.Logger) *Handler {
	return &Handler{
		hub:      hub,
		sessions: sessions,
		accounts: accs,
		registry: reg,
		pairing:  pair,
		commands: cmds,
		store:    store,
		clips:    clips,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeWS authenticates the token from the query string, binds a fresh
// connection id and starts the client pumps.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	connID := uuid.NewString()
	username, err := h.registry.Connect(ctx, r.URL.Query().Get("token"), connID)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response; roll back the binding.
		_ = h.registry.Disconnect(ctx, connID)
		return
	}

	c := newClient(connID, username, conn)
	h.hub.bind(c)
	h.log.Info(ctx, "client connected", "username", username, "connection_id", connID)

	go c.writePump()
	// detach from the request context; the connection outlives the handshake
	go c.readPump(context.Background(), h)
}

func (h *Handler) disconnect(ctx context.Context, c *client) {
	h.hub.unbind(c)
	c.close()
	if err := h.registry.Disconnect(ctx, c.id); err != nil {
		h.log.Warn(ctx, "disconnect cleanup failed",
			"connection_id", c.id, "error", err)
	}
	h.log.Info(ctx, "client disconnected", "username", c.username, "connection_id", c.id)
}

func (h *Handler) handleMessage(ctx context.Context, c *client, raw []byte) {
	var env struct {
		Action string          `json:"action"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || env.Action == "" {
		h.reply(c, actionError, "malformed message")
		return
	}

	if err := h.dispatch(ctx, c, env.Action, env.Data); err != nil {
		h.log.Warn(ctx, "action failed",
			"username", c.username, "action", env.Action, "error", err)
		h.reply(c, actionError, publicError(err))
	}
}

func (h *Handler) dispatch(ctx context.Context, c *client, action string, data json.RawMessage) error {
	switch action {
	case actionAddDevice:
		var req struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return common.ErrValidation
		}
		deviceID, err := h.pairing.BeginAdd(ctx, c.username, req.Name)
		if err != nil {
			return err
		}
		h.reply(c, actionAddDevice, map[string]string{"deviceId": deviceID, "name": req.Name})
		return nil

	case actionCancelAdd:
		var req struct {
			DeviceID string `json:"deviceId"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return common.ErrValidation
		}
		return h.pairing.CancelAdd(ctx, c.username, req.DeviceID)

	case actionRemoveDevice:
		var req struct {
			DeviceID string `json:"deviceId"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return common.ErrValidation
		}
		if err := h.commands.RemoveDevice(ctx, c.username, req.DeviceID); err != nil {
			return err
		}
		h.reply(c, actionRemoveDevice, map[string]string{"deviceId": req.DeviceID})
		return nil

	case actionSetArmed:
		var armed bool
		if err := json.Unmarshal(data, &armed); err != nil {
			return common.ErrValidation
		}
		if err := h.store.Accounts().SetArmed(ctx, c.username, armed); err != nil {
			return err
		}
		h.reply(c, actionSetArmed, armed)
		return nil

	case actionGetInfo:
		account, err := h.store.Accounts().Get(ctx, c.username)
		if err != nil {
			return err
		}
		devs, err := h.store.Devices().List(ctx, c.username)
		if err != nil {
			return err
		}
		h.reply(c, actionGetInfo, models.UserInfo{
			Username: account.Username,
			IsArmed:  account.IsArmed,
			Devices:  devs,
		})
		// ask every device for a fresh report; stale cache is not an error
		if err := h.commands.RequestRefresh(ctx, c.username); err != nil {
			h.log.Warn(ctx, "refresh broadcast failed",
				"username", c.username, "error", err)
		}
		return nil

	case actionGetClip:
		var key string
		if err := json.Unmarshal(data, &key); err != nil || key == "" {
			return common.ErrValidation
		}
		url, err := h.clips.PresignGet(ctx, c.username, key)
		if err != nil {
			return err
		}
		h.reply(c, actionGetClip, url)
		return nil

	case actionListClips:
		var req struct {
			DeviceID string `json:"deviceId"`
		}
		if err := json.Unmarshal(data, &req); err != nil || req.DeviceID == "" {
			return common.ErrValidation
		}
		clips, err := h.clips.List(ctx, c.username, req.DeviceID)
		if err != nil {
			return err
		}
		h.reply(c, actionListClips, map[string]any{
			"deviceId": req.DeviceID,
			"clips":    clips,
		})
		return nil

	default:
		h.reply(c, actionError, "unknown action: "+action)
		return nil
	}
}

func (h *Handler) reply(c *client, action string, data any) {
	payload, err := json.Marshal(models.Envelope{Action: action, Data: data})
	if err != nil {
		return
	}
	c.trySend(payload)
}

// publicError maps an error to a message safe to show the client.
func publicError(err error) string {
	switch {
	case errors.Is(err, common.ErrValidation):
		return err.Error()
	case errors.Is(err, common.ErrConflict):
		return "conflict"
	case errors.Is(err, common.ErrNotFound):
		return "not found"
	case errors.Is(err, common.ErrSessionStale),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrUnauthorized):
		return "unauthorized"
	default:
		return "internal error"
	}
}
