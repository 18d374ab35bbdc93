/*
Package chat contains the real-time core of the relay.

This file defines the Client struct, representing an active WebSocket connection. It is the room's
Observer for that connection: ReadPump turns inbound frames into room operations and WritePump
drains the outbound queue, pings, and writes the close frame.
*/
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"relay/internal/app/user"
	"relay/internal/pkg/errs"
	"relay/internal/pkg/logx"
	"relay/internal/pkg/req"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed between two inbound frames (pongs included).
	pongWait = 60 * time.Second

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxMessageSize = 8192

	// outbound queue length per connection.
	sendBuffer = 256

	// bound on room calls made while the connection is going away.
	leaveTimeout = 5 * time.Second
)

// FrameType identifies a client-to-server frame.
type FrameType string

const (
	FrameJoin      FrameType = "join"
	FrameHeartbeat FrameType = "heartbeat"
	FrameText      FrameType = "text"
	FrameRename    FrameType = "rename"
	FrameProfile   FrameType = "profile"
	FrameModerate  FrameType = "moderate"
	FrameLogout    FrameType = "logout"
)

// JoinFrame carries credentials for a join.
type JoinFrame struct {
	Identifier string `json:"identifier" validate:"required"`
	Secret     string `json:"secret" validate:"required"`
}

// RenameFrame asks for a new identifier.
type RenameFrame struct {
	NewID string `json:"newId" validate:"required"`
}

var errQueueFull = errors.New("client send queue full")

// Client struct represents an active WebSocket connection.
type Client struct {
	room   *Room
	conn   *websocket.Conn
	handle string

	// pingPeriod is kept below the liveness timeout so an idle but healthy connection stays online.
	pingPeriod time.Duration

	// a buffered channel used to queue frames waiting to be written.
	send chan []byte

	// closed by Close; WritePump then writes closeFrame and tears the connection down.
	done       chan struct{}
	closeOnce  sync.Once
	closeFrame []byte

	joined atomic.Bool

	// structured logger with client context.
	logger zerolog.Logger
}

// NewClient constructs a Client for conn identified by handle.
func NewClient(room *Room, conn *websocket.Conn, handle string) *Client {
	return &Client{
		room:       room,
		conn:       conn,
		handle:     handle,
		pingPeriod: room.tracker.Timeout() / 3,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		logger:     logx.Component("client").With().Str("handle", handle).Logger(),
	}
}

// Handle returns the connection handle.
func (c *Client) Handle() string { return c.handle }

// Done is closed once the client is closing.
func (c *Client) Done() <-chan struct{} { return c.done }

// Deliver queues ev for writing without blocking.
func (c *Client) Deliver(ev Event) error {
	select {
	case <-c.done:
		return ErrConnectionGone
	default:
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	select {
	case c.send <- b:
		return nil
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send channel full, dropping message")
		return errQueueFull
	}
}

// Close makes WritePump send a close frame with code and reason, then close the connection.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeFrame = websocket.FormatCloseMessage(code, reason)
		if code >= 4000 {
			c.logger.Warn().Int("close_code", code).Str("reason", reason).Msg("Closing connection.")
		}
		close(c.done)
	})
}

// JoinIdentity admits the connection for an identity authenticated by token.
func (c *Client) JoinIdentity(ctx context.Context, id string) error {
	if _, err := c.room.JoinIdentity(ctx, c, id); err != nil {
		return err
	}
	c.joined.Store(true)
	return nil
}

// ReadPump reads frames until the connection fails, then leaves the room.
func (c *Client) ReadPump(ctx context.Context) {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		c.touch(ctx)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			return
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return
		}

		c.touch(ctx)
		if !c.processInboundFrame(ctx, frame) {
			return
		}
	}
}

// touch counts any inbound traffic as liveness.
func (c *Client) touch(ctx context.Context) {
	if c.joined.Load() {
		if err := c.room.Heartbeat(ctx, c.handle); err != nil {
			c.logger.Debug().Err(err).Msg("Heartbeat not recorded")
		}
	}
}

// cleanupOnDisconnect leaves the room and stops WritePump.
func (c *Client) cleanupOnDisconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()

	if err := c.room.Leave(ctx, c.handle); err != nil && !errors.Is(err, ErrRoomClosed) {
		c.logger.Warn().Err(err).Msg("Leave failed during cleanup.")
	}
	c.Close(websocket.CloseNormalClosure, "")
}

// processInboundFrame dispatches one frame. It returns false when the connection should end.
func (c *Client) processInboundFrame(ctx context.Context, frame []byte) bool {
	var in struct {
		Type    FrameType       `json:"type"`
		Payload json.RawMessage `json:"payload,omitempty"`
		TempID  string          `json:"tempId,omitempty"`
	}

	if err := json.Unmarshal(frame, &in); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid JSON")
		c.SendError(ErrInvalidRequest)
		return true
	}

	if in.Type == FrameJoin {
		c.handleJoin(ctx, in.Payload)
		return true
	}
	if !c.joined.Load() {
		c.SendError(ErrSessionNotFound)
		return true
	}

	switch in.Type {
	case FrameHeartbeat:
		// touch already recorded it

	case FrameText:
		var p SendInput
		if !c.decode(in.Payload, &p) {
			return true
		}
		if p.TempID == "" {
			p.TempID = in.TempID
		}
		if _, err := c.room.Send(ctx, ByHandle(c.handle), p); err != nil {
			c.SendError(err)
		}

	case FrameRename:
		var p RenameFrame
		if !c.decode(in.Payload, &p) {
			return true
		}
		if _, err := c.room.Rename(ctx, ByHandle(c.handle), p.NewID); err != nil {
			c.SendError(err)
		}

	case FrameProfile:
		var p user.Profile
		if !c.decode(in.Payload, &p) {
			return true
		}
		if _, err := c.room.UpdateProfile(ctx, ByHandle(c.handle), p); err != nil {
			c.SendError(err)
		}

	case FrameModerate:
		var p ModerationRequest
		if !c.decode(in.Payload, &p) {
			return true
		}
		if _, err := c.room.Moderate(ctx, ByHandle(c.handle), p); err != nil {
			c.SendError(err)
		}

	case FrameLogout:
		if err := c.room.Logout(ctx, c.handle); err != nil {
			c.logger.Warn().Err(err).Msg("Logout failed.")
		}
		return false

	default:
		c.logger.Warn().Str("msg_type", string(in.Type)).Msg("Client sent unsupported message type")
		c.SendError(ErrInvalidRequest)
	}
	return true
}

func (c *Client) handleJoin(ctx context.Context, payload json.RawMessage) {
	if c.joined.Load() {
		c.SendError(ErrDuplicateConnection)
		return
	}
	var p JoinFrame
	if !c.decode(payload, &p) {
		return
	}

	joined, err := c.room.Join(ctx, c, p.Identifier, p.Secret)
	if err != nil {
		c.logger.Info().Err(err).Str("identifier", p.Identifier).Msg("Join rejected.")
		c.SendError(err)
		return
	}
	c.joined.Store(true)
	c.logger.Info().Str("identity_id", joined.Self.IdentityID).Msg("Client joined.")
}

// decode unmarshals and validates a frame payload, reporting failures to the client.
func (c *Client) decode(payload json.RawMessage, dst any) bool {
	if err := json.Unmarshal(payload, dst); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid payload")
		c.SendError(ErrInvalidRequest)
		return false
	}
	if err := req.Validate(dst); err != nil {
		c.logger.Debug().Err(err).Msg("Client payload failed validation")
		c.SendError(ErrInvalidRequest)
		return false
	}
	return true
}

// SendError queues an error frame carrying err's business code.
func (c *Client) SendError(err error) {
	ce := errs.FromDomain(err)
	ev := NewEvent(TypeError, time.Now(), ErrorPayload{Code: ce.Code, Message: ce.Message})
	if derr := c.Deliver(ev); derr != nil {
		c.logger.Error().Err(derr).Msg("Failed to queue error message")
	}
}

// WritePump writes queued frames and pings until the client is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingPeriod)

	defer func() {
		ticker.Stop()

		// ensure the connection is closed on exit
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case message := <-c.send:
			if !c.writeQueuedMessage(message) {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-c.done:
			c.flush()
			if err := c.conn.WriteControl(websocket.CloseMessage, c.closeFrame, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug().Err(err).Msg("Error writing close message")
			}
			return
		}
	}
}

// flush writes whatever is still queued, so events published just before a close still arrive.
func (c *Client) flush() {
	for {
		select {
		case message := <-c.send:
			if !c.writeQueuedMessage(message) {
				return
			}
		default:
			return
		}
	}
}

// writeQueuedMessage writes one frame. Returns false if the WritePump loop should terminate.
func (c *Client) writeQueuedMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Debug().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

// writePingMessage sends a periodic WebSocket Ping message to maintain the connection heartbeat.
// Returns false if the WritePump loop should terminate due to write failure.
func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}
