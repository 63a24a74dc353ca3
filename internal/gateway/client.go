package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/terminusdev/terminus/internal/bus"
	"github.com/terminusdev/terminus/internal/sessions"
	"github.com/terminusdev/terminus/internal/workflow"
	"github.com/terminusdev/terminus/pkg/protocol"
)

// client binds one WebSocket connection to its Session, forwarding bus
// events out and dispatching inbound execute_goal requests in.
type client struct {
	conn     *websocket.Conn
	session  *sessions.Session
	bus      *bus.Bus
	engine   *workflow.Engine
	validate *validator.Validate
}

func newClient(conn *websocket.Conn, sess *sessions.Session, b *bus.Bus, engine *workflow.Engine, v *validator.Validate) *client {
	return &client{conn: conn, session: sess, bus: b, engine: engine, validate: v}
}

// run subscribes to the bus, starts the send loop, emits the connected
// status event, then reads inbound events until the connection closes.
func (c *client) run(ctx context.Context) {
	ch := c.bus.Subscribe(c.session.ClientID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.sendLoop(ctx, ch)

	c.bus.Emit(ctx, c.session.ClientID, protocol.EventStatus, protocol.StatusPayload{Message: "connected"})

	c.readLoop(ctx)
}

func (c *client) sendLoop(ctx context.Context, ch <-chan protocol.Envelope) {
	for {
		select {
		case env, ok := <-ch:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *client) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.dispatch(ctx, data)
	}
}

// inbound is the wire shape of an inbound client message.
type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (c *client) dispatch(ctx context.Context, data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("gateway: malformed inbound message", "error", err)
		return
	}

	switch msg.Type {
	case protocol.EventExecuteGoal:
		c.handleExecuteGoal(ctx, msg.Payload)
	default:
		slog.Warn("gateway: unknown inbound event type", "type", msg.Type)
	}
}

func (c *client) handleExecuteGoal(ctx context.Context, raw json.RawMessage) {
	var payload protocol.ExecuteGoalPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.bus.Emit(ctx, c.session.ClientID, protocol.EventErrorDetected, protocol.ErrorDetectedPayload{
			Error:      "[validation] invalid execute_goal payload: " + err.Error(),
			FailedStep: "validate",
		})
		return
	}
	if err := c.validate.Struct(payload); err != nil {
		c.bus.Emit(ctx, c.session.ClientID, protocol.EventErrorDetected, protocol.ErrorDetectedPayload{
			Error:      "[validation] invalid execute_goal payload: " + err.Error(),
			FailedStep: "validate",
		})
		return
	}

	if !c.session.Admit() {
		c.bus.Emit(ctx, c.session.ClientID, protocol.EventErrorDetected, protocol.ErrorDetectedPayload{
			Error:      "[rate_limit] execute_goal requests are too frequent",
			FailedStep: "rate_limit",
		})
		return
	}

	workflowCtx, finish := c.session.TakeOver(ctx)
	go func() {
		defer finish()
		c.engine.Run(workflowCtx, c.session.ClientID, payload.Goal)
	}()
}
