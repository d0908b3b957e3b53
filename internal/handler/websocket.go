package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/vikthevar/Heimdall/internal/worker"
	"github.com/vikthevar/Heimdall/pkg/types"
	"go.uber.org/zap"
)

// Frame types exchanged over /api/ws
const (
	FrameText   = "text"
	FrameCancel = "cancel"
	FrameStatus = "status"
	FrameResult = "result"
	FrameError  = "error"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsReadLimit  = 64 * 1024
)

// wsRequest is a client frame
type wsRequest struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Simulate *bool  `json:"simulate,omitempty"`
	TaskID   string `json:"task_id,omitempty"`
}

// wsFrame is a server frame
type wsFrame struct {
	Type      string               `json:"type"`
	TaskID    string               `json:"task_id,omitempty"`
	Status    worker.Status        `json:"status,omitempty"`
	Result    *types.ProcessResult `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// wsConn serialises writes; gorilla connections allow one concurrent writer
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) send(f wsFrame) error {
	f.Timestamp = time.Now()
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// non-browser clients send no Origin
			if origin == "" || allowAll(h.origins) {
				return true
			}
			for _, allowed := range h.origins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}
}

// ServeWS upgrades to a websocket. Each text frame becomes a task; the
// client gets a queued status frame with the task ID and later a result or
// error frame. A cancel frame cancels a task by ID.
func (h *Handler) ServeWS(c *gin.Context) {
	up := h.upgrader()
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	ws := &wsConn{conn: conn}
	ctx, cancel := context.WithCancel(context.Background())
	var pending sync.WaitGroup
	defer func() {
		cancel()
		pending.Wait()
		conn.Close()
	}()

	h.logger.Info("Websocket client connected", zap.String("remote", c.ClientIP()))
	go h.keepAlive(ctx, ws)

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Websocket read failed", zap.Error(err))
			}
			h.logger.Info("Websocket client disconnected")
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))

		switch req.Type {
		case FrameText, "":
			h.wsSubmit(ctx, ws, &pending, req)
		case FrameCancel:
			h.wsCancel(ws, req.TaskID)
		default:
			ws.send(wsFrame{Type: FrameError, Error: "unknown frame type " + req.Type})
		}
	}
}

func (h *Handler) wsSubmit(ctx context.Context, ws *wsConn, pending *sync.WaitGroup, req wsRequest) {
	if strings.TrimSpace(req.Text) == "" {
		ws.send(wsFrame{Type: FrameError, Error: "text is required"})
		return
	}
	t, err := h.runner.Submit("ws_text", h.turnJob(req.Text, h.resolveSimulate(ctx, req.Simulate)))
	if err != nil {
		ws.send(wsFrame{Type: FrameError, Error: err.Error()})
		return
	}
	ws.send(wsFrame{Type: FrameStatus, TaskID: t.ID(), Status: t.Status()})

	pending.Add(1)
	go func() {
		defer pending.Done()
		out, err := t.Wait(ctx)
		if ctx.Err() != nil {
			// client went away
			t.Cancel()
			return
		}
		if err != nil {
			ws.send(wsFrame{Type: FrameError, TaskID: t.ID(), Status: t.Status(), Error: err.Error()})
			return
		}
		res := out.(types.ProcessResult)
		ws.send(wsFrame{Type: FrameResult, TaskID: t.ID(), Status: t.Status(), Result: &res})
	}()
}

func (h *Handler) wsCancel(ws *wsConn, id string) {
	t, ok := h.runner.Get(id)
	if !ok {
		ws.send(wsFrame{Type: FrameError, TaskID: id, Error: "task not found"})
		return
	}
	if t.Cancel() {
		h.assistant.Metrics().TaskCancelled()
	}
	ws.send(wsFrame{Type: FrameStatus, TaskID: id, Status: t.Status()})
}

func (h *Handler) keepAlive(ctx context.Context, ws *wsConn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.ping(); err != nil {
				return
			}
		}
	}
}
