package hub

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/automap/internal/frontend/scene"
)

const writeWait = 10 * time.Second

// Controller applies viewer gestures to the story's map.
type Controller interface {
	Drag(id string, dx, dy float64) error
	Center(width, height float64) scene.Viewport
	Zoom(scale float64) scene.Viewport
}

// Command is one gesture sent by a viewer.
type Command struct {
	Op     string  `json:"op"`
	ID     string  `json:"id,omitempty"`
	DX     float64 `json:"dx,omitempty"`
	DY     float64 `json:"dy,omitempty"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
	Scale  float64 `json:"scale,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades the request and streams the hub's scene until the viewer
// disconnects. Gestures read from the viewer are applied through ctrl.
//
// Precondition: ctrl must be non-nil.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, ctrl Controller) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	c := h.Join(id)
	logger := h.logger.With(zap.String("client", id), zap.String("remote", r.RemoteAddr))
	logger.Info("viewer connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		// A closed queue ends the connection and with it the read loop.
		defer conn.Close()
		for data := range c.Events() {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("write failed", zap.Error(err))
				h.Leave(id)
				return
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "viewer dropped"),
			time.Now().Add(writeWait))
	}()

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("read failed", zap.Error(err))
			}
			break
		}
		h.apply(ctrl, cmd, logger)
	}

	h.Leave(id)
	<-done
	_ = conn.Close()
	logger.Info("viewer disconnected")
}

func (h *Hub) apply(ctrl Controller, cmd Command, logger *zap.Logger) {
	switch cmd.Op {
	case "drag":
		if err := ctrl.Drag(cmd.ID, cmd.DX, cmd.DY); err != nil {
			logger.Debug("drag rejected", zap.String("room", cmd.ID), zap.Error(err))
		}
	case "center":
		ctrl.Center(cmd.Width, cmd.Height)
	case "zoom":
		ctrl.Zoom(cmd.Scale)
	default:
		logger.Debug("unknown command", zap.String("op", cmd.Op))
	}
}
