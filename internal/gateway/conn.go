// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/komunikator/internal/delivery"
	"github.com/tomtom215/komunikator/internal/identity"
	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/metrics"
	"github.com/tomtom215/komunikator/internal/models"
	"github.com/tomtom215/komunikator/internal/session"
)

// Conn is one client connection. It implements session.Handle.
type Conn struct {
	id          string
	gw          *Gateway
	ws          *websocket.Conn
	send        chan []byte
	limiter     *rate.Limiter
	connectedAt time.Time

	// ctx is cancelled once the connection is Closed. opCtx adds the user
	// id and is only touched by the reader.
	ctx    context.Context
	cancel context.CancelFunc
	opCtx  context.Context

	mu     sync.Mutex
	state  State
	userID models.UserID
	reason session.CloseReason

	closing chan struct{}
	done    chan struct{}
}

var _ session.Handle = (*Conn)(nil)

func newConn(gw *Gateway, ws *websocket.Conn) *Conn {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(logging.ContextWithConnID(context.Background(), id))
	return &Conn{
		id:          id,
		gw:          gw,
		ws:          ws,
		send:        make(chan []byte, gw.cfg.SendQueueSize),
		limiter:     rate.NewLimiter(rate.Limit(gw.cfg.InboundRate), gw.cfg.InboundBurst),
		connectedAt: time.Now().UTC(),
		ctx:         ctx,
		cancel:      cancel,
		opCtx:       ctx,
		state:       StateConnecting,
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) UserID() models.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

func (c *Conn) Done() <-chan struct{} { return c.done }

// State returns the current state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := transition(c.state, to); err != nil {
		return err
	}
	c.state = to
	return nil
}

// Close moves the connection to Closing. The writer flushes what is queued,
// sends a close frame and releases the socket.
func (c *Conn) Close(reason session.CloseReason) {
	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	c.reason = reason
	c.mu.Unlock()
	close(c.closing)
}

func (c *Conn) PushMessage(msg *models.Message) error {
	return c.push(FramePush, PushPayload{ConversationKey: msg.ConversationKey, Message: msg})
}

func (c *Conn) PushReceipt(r models.Receipt) error {
	return c.push(FrameReceipt, r)
}

func (c *Conn) push(frameType string, data interface{}) error {
	if c.State() != StateActive {
		return session.ErrConnectionClosed
	}
	return c.enqueue(frameType, "", data)
}

// enqueue never blocks. A full queue closes the connection.
func (c *Conn) enqueue(frameType, id string, data interface{}) error {
	b, err := encodeFrame(frameType, id, data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state >= StateClosing {
		c.mu.Unlock()
		return session.ErrConnectionClosed
	}
	select {
	case c.send <- b:
		c.mu.Unlock()
		metrics.RecordFrame("out", frameType)
		return nil
	default:
		c.mu.Unlock()
		logging.Ctx(c.ctx).Warn().
			Int("queue", cap(c.send)).
			Msg("Outbound queue full, closing slow consumer")
		c.Close(session.CloseSlowConsumer)
		return session.ErrSlowConsumer
	}
}

func (c *Conn) reply(frameType, id string, data interface{}) {
	if err := c.enqueue(frameType, id, data); err != nil && !errors.Is(err, session.ErrConnectionClosed) {
		logging.Ctx(c.ctx).Debug().Err(err).Str("frame", frameType).Msg("Reply dropped")
	}
}

func (c *Conn) replyError(id, code, message string) {
	c.reply(FrameError, id, ErrorPayload{Code: code, Message: message})
}

func (c *Conn) replyErr(id string, err error) {
	c.replyError(id, errorCode(err), errorMessage(err))
}

// run drives the reader side until the connection closes. It returns once
// the connection reached Closed.
func (c *Conn) run(token string) {
	defer func() { <-c.done }()

	if err := c.setState(StateAuthenticating); err != nil {
		return
	}
	c.ws.SetReadLimit(c.gw.cfg.MaxFrameBytes)

	if !c.authenticate(token) {
		return
	}
	c.readLoop()
}

func (c *Conn) authenticate(token string) bool {
	if token == "" {
		var err error
		token, err = c.readAuthFrame()
		if err != nil {
			c.rejectAuth(err)
			return false
		}
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.gw.cfg.AuthTimeout)
	defer cancel()
	userID, err := c.gw.auth.Authenticate(ctx, identity.Credentials{Token: token})
	if err != nil {
		c.rejectAuth(err)
		return false
	}

	c.mu.Lock()
	if err := transition(c.state, StateActive); err != nil {
		c.mu.Unlock()
		return false
	}
	c.state = StateActive
	c.userID = userID
	c.mu.Unlock()
	c.opCtx = logging.ContextWithUserID(c.ctx, string(userID))

	if prev := c.gw.registry.Register(userID, c); prev != nil {
		prev.Close(session.CloseEvicted)
	}
	// Closed while registering: undo so the registry never points at a
	// dead handle.
	if c.State() >= StateClosing {
		c.gw.registry.Unregister(userID, c)
		return false
	}

	metrics.GatewayConnections.WithLabelValues("accepted").Inc()
	logging.Ctx(c.opCtx).Info().Msg("Connection authenticated")
	c.reply(FrameAuthOK, "", AuthOKPayload{UserID: userID, ConnectionID: c.id})
	return true
}

func (c *Conn) readAuthFrame() (string, error) {
	if err := c.ws.SetReadDeadline(time.Now().Add(c.gw.cfg.AuthTimeout)); err != nil {
		return "", err
	}
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return "", errors.New("no credentials received")
	}
	metrics.RecordFrame("in", FrameAuth)

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil || f.Type != FrameAuth {
		return "", errors.New("first frame must be auth")
	}
	var p AuthPayload
	if err := decodeData(f, &p); err != nil || p.Token == "" {
		return "", errors.New("auth frame carries no token")
	}
	return p.Token, nil
}

func (c *Conn) rejectAuth(err error) {
	metrics.GatewayConnections.WithLabelValues("auth_failed").Inc()
	logging.Ctx(c.ctx).Info().Err(err).Msg("Connection authentication failed")

	msg := "authentication failed"
	if errors.Is(err, models.ErrStorageUnavailable) {
		msg = "authentication unavailable, retry later"
	}
	c.replyError("", CodeAuthFailed, msg)
	c.Close(session.CloseAuthFailed)
}

func (c *Conn) extendReadDeadline() error {
	return c.ws.SetReadDeadline(time.Now().Add(c.gw.cfg.PongWait))
}

func (c *Conn) readLoop() {
	if err := c.extendReadDeadline(); err != nil {
		c.Close(session.CloseClientGone)
		return
	}
	c.ws.SetPongHandler(func(string) error { return c.extendReadDeadline() })

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			reason := session.CloseClientGone
			if errors.Is(err, websocket.ErrReadLimit) {
				reason = session.CloseProtocolError
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Ctx(c.ctx).Debug().Err(err).Msg("Unexpected websocket close")
			}
			c.Close(reason)
			return
		}
		_ = c.extendReadDeadline()

		if !c.limiter.Allow() {
			metrics.RecordFrame("in", "rate_limited")
			c.replyError("", CodeRateLimited, "too many frames")
			continue
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Type == "" {
			metrics.RecordFrame("in", "malformed")
			c.replyError("", CodeProtocolError, "malformed frame")
			c.Close(session.CloseProtocolError)
			return
		}
		c.dispatch(f)
	}
}

func decodeData(f Frame, v interface{}) error {
	if len(f.Data) == 0 {
		return models.NewValidationError("data", "is required")
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return models.NewValidationError("data", "malformed "+f.Type+" payload")
	}
	return nil
}

func (c *Conn) dispatch(f Frame) {
	switch f.Type {
	case FrameSend:
		metrics.RecordFrame("in", f.Type)
		c.handleSend(f)
	case FrameAck:
		metrics.RecordFrame("in", f.Type)
		c.handleAck(f)
	case FrameRead:
		metrics.RecordFrame("in", f.Type)
		c.handleRead(f)
	case FrameSync:
		metrics.RecordFrame("in", f.Type)
		c.handleSync(f)
	case FramePing:
		metrics.RecordFrame("in", f.Type)
		c.reply(FramePong, f.ID, nil)
	case FrameAuth:
		metrics.RecordFrame("in", f.Type)
		c.replyError(f.ID, CodeProtocolError, "already authenticated")
	default:
		metrics.RecordFrame("in", "unknown")
		c.replyError(f.ID, CodeUnknownFrame, "unknown frame type")
	}
}

func (c *Conn) handleSend(f Frame) {
	var p SendPayload
	if err := decodeData(f, &p); err != nil {
		c.replyErr(f.ID, err)
		return
	}
	msg, duplicate, err := c.gw.msgs.Send(c.opCtx, delivery.SendRequest{
		SenderID:   c.userID,
		ReceiverID: p.ReceiverID,
		MessageID:  p.MessageID,
		Content:    p.Content,
	})
	if err != nil {
		c.replyErr(f.ID, err)
		return
	}
	c.reply(FrameAccepted, f.ID, AcceptedPayload{
		ConversationKey: msg.ConversationKey,
		MessageID:       msg.MessageID,
		SequenceNumber:  msg.SequenceNumber,
		CreatedAt:       msg.CreatedAt,
		DeliveryState:   msg.DeliveryState,
		Duplicate:       duplicate,
	})
}

func (c *Conn) handleAck(f Frame) {
	var p AckPayload
	if err := decodeData(f, &p); err != nil {
		c.replyErr(f.ID, err)
		return
	}
	if _, err := c.gw.msgs.Ack(c.opCtx, c.userID, p.ConversationKey, p.MessageID); err != nil {
		c.replyErr(f.ID, err)
	}
}

func (c *Conn) handleRead(f Frame) {
	var p AckPayload
	if err := decodeData(f, &p); err != nil {
		c.replyErr(f.ID, err)
		return
	}
	if _, err := c.gw.msgs.MarkRead(c.opCtx, c.userID, p.ConversationKey, p.MessageID); err != nil {
		c.replyErr(f.ID, err)
	}
}

func (c *Conn) handleSync(f Frame) {
	var p SyncPayload
	if err := decodeData(f, &p); err != nil {
		c.replyErr(f.ID, err)
		return
	}
	page, err := c.gw.msgs.Sync(c.opCtx, c.userID, p.ConversationKey, p.AfterSequence, p.Limit)
	if err != nil {
		c.replyErr(f.ID, err)
		return
	}
	c.reply(FrameSyncResult, f.ID, SyncResultPayload{
		ConversationKey: p.ConversationKey,
		Messages:        page.Messages,
		Limit:           page.Limit,
		HasMore:         page.HasMore,
		NextAfter:       page.NextAfter,
	})
}

func (c *Conn) write(messageType int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.gw.cfg.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.gw.pingPeriod())
	defer func() {
		ticker.Stop()
		c.finish()
	}()

	for {
		select {
		case b := <-c.send:
			if err := c.write(websocket.TextMessage, b); err != nil {
				logging.Ctx(c.ctx).Debug().Err(err).Msg("Write failed")
				c.Close(session.CloseClientGone)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(session.CloseClientGone)
				return
			}
		case <-c.closing:
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued, stopping at the first error.
func (c *Conn) flush() {
	for {
		select {
		case b := <-c.send:
			if err := c.write(websocket.TextMessage, b); err != nil {
				return
			}
		default:
			return
		}
	}
}

func closeCode(reason session.CloseReason) int {
	switch reason {
	case session.CloseAuthFailed, session.CloseRevoked:
		return websocket.ClosePolicyViolation
	case session.CloseProtocolError:
		return websocket.CloseProtocolError
	case session.CloseSlowConsumer:
		return websocket.CloseTryAgainLater
	case session.CloseShutdown:
		return websocket.CloseGoingAway
	default:
		return websocket.CloseNormalClosure
	}
}

// finish takes the connection from Closing to Closed.
func (c *Conn) finish() {
	c.mu.Lock()
	reason := c.reason
	userID := c.userID
	c.mu.Unlock()

	if reason != session.CloseClientGone {
		msg := websocket.FormatCloseMessage(closeCode(reason), string(reason))
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.gw.cfg.WriteWait))
	}
	_ = c.ws.Close()

	if userID != "" {
		c.gw.registry.Unregister(userID, c)
	}
	if err := c.setState(StateClosed); err != nil {
		logging.Ctx(c.ctx).Error().Err(err).Msg("Connection state")
	}
	c.cancel()
	close(c.done)
	c.gw.untrack(c)

	metrics.GatewayCloses.WithLabelValues(string(reason)).Inc()
	logging.Ctx(c.ctx).Debug().
		Str("reason", string(reason)).
		Dur("connected_for", time.Since(c.connectedAt)).
		Msg("Connection closed")
}
