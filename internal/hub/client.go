package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/lead-fleet/internal/model"
	"github.com/capitalize-ai/lead-fleet/internal/service"
	"github.com/capitalize-ai/lead-fleet/internal/supervisor"
	"github.com/capitalize-ai/lead-fleet/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
	commandTimeout = 15 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Viewers are authenticated before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one connected viewer.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	email string
}

// ServeWS upgrades the request and attaches the viewer identified by email.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, email string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &Client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		email: email,
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// queue sends a private envelope to this viewer only. It is called from the
// run loop before registration and from readPump, which unregisters (and so
// closes send) only after its last call.
func (c *Client) queue(env model.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.hub.logger.Error("failed to marshal envelope", zap.String("type", string(env.Type)), zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.logger.Warn("viewer buffer full, dropping reply", zap.String("viewer", c.email))
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("viewer read error", zap.String("viewer", c.email), zap.Error(err))
			}
			return
		}

		var cmd model.Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.queue(model.NewEnvelope(model.EventError, "", model.ErrorEvent{
				Code: "invalid_command", Message: "malformed command",
			}))
			continue
		}
		c.handle(&cmd)
	}
}

// handle runs one command. State-changing commands are broadcast by the
// services; only history and errors are answered privately.
func (c *Client) handle(cmd *model.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch cmd.Type {
	case model.CommandAssignLead:
		assignee := strings.TrimSpace(cmd.Assignee)
		if assignee == "" {
			assignee = c.email
		}
		_, err = c.hub.leads.Assign(ctx, cmd.LeadID, assignee)

	case model.CommandSendMessage:
		_, err = c.hub.leads.SendOperatorMessage(ctx, cmd.LeadID, c.email, cmd.Text)

	case model.CommandFetchHistory:
		var hist *model.LeadHistory
		if hist, err = c.hub.leads.History(ctx, cmd.LeadID); err == nil {
			c.queue(model.NewEnvelope(model.EventLeadHistory, hist.Lead.BotID, hist))
		}

	default:
		metrics.ViewerCommandsTotal.WithLabelValues("unknown", "error").Inc()
		c.queue(model.NewEnvelope(model.EventError, "", model.ErrorEvent{
			Code: "unknown_command", Message: "unknown command " + string(cmd.Type),
		}))
		return
	}

	if err != nil {
		metrics.ViewerCommandsTotal.WithLabelValues(string(cmd.Type), "error").Inc()
		c.hub.logger.Info("viewer command failed",
			zap.String("viewer", c.email),
			zap.String("command", string(cmd.Type)),
			zap.String("lead_id", cmd.LeadID),
			zap.Error(err),
		)
		c.queue(errorEnvelope(err))
		return
	}
	metrics.ViewerCommandsTotal.WithLabelValues(string(cmd.Type), "ok").Inc()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.hub.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func errorEnvelope(err error) model.Envelope {
	code, msg := errorCode(err), err.Error()
	if code == "internal" {
		msg = "internal error"
	}
	return model.NewEnvelope(model.EventError, "", model.ErrorEvent{Code: code, Message: msg})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return "not_found"
	case errors.Is(err, service.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, supervisor.ErrWorkerNotRunning):
		return "worker_not_running"
	case errors.Is(err, service.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, service.ErrForbidden):
		return "forbidden"
	}
	return "internal"
}
