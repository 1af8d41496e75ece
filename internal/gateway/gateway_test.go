// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/komunikator/internal/delivery"
	"github.com/tomtom215/komunikator/internal/identity"
	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/models"
	"github.com/tomtom215/komunikator/internal/sequence"
	"github.com/tomtom215/komunikator/internal/session"
	"github.com/tomtom215/komunikator/internal/store"
)

func init() {
	logging.SetOutput(io.Discard)
}

// tokens maps bearer tokens to users.
type tokens map[string]models.UserID

func (tk tokens) Authenticate(_ context.Context, creds identity.Credentials) (models.UserID, error) {
	if id, ok := tk[creds.Token]; ok {
		return id, nil
	}
	return "", fmt.Errorf("unknown token: %w", models.ErrAuth)
}

func (tk tokens) UserExists(_ context.Context, id models.UserID) (bool, error) {
	for _, u := range tk {
		if u == id {
			return true, nil
		}
	}
	return false, nil
}

type testEnv struct {
	gw       *Gateway
	pipeline *delivery.Pipeline
	registry *session.Registry
	srv      *httptest.Server
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	users := tokens{"tok-alice": "alice", "tok-bob": "bob"}
	st := store.NewMemoryStore()
	reg := session.NewRegistry()
	coord := sequence.NewCoordinator(st, sequence.Config{CacheSize: 100})
	p := delivery.New(delivery.Config{AckTimeout: 5 * time.Second}, st, coord, reg, users, nil)
	gw := New(cfg, users, p, reg)
	srv := httptest.NewServer(gw)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
		srv.Close()
		_ = p.Close(ctx)
	})
	return &testEnv{gw: gw, pipeline: p, registry: reg, srv: srv}
}

func (e *testEnv) wsURL(query string) string {
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http")
	if query != "" {
		u += "?" + query
	}
	return u
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
}

func (e *testEnv) dial(t *testing.T, header http.Header, query string) *client {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(e.wsURL(query), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return &client{t: t, ws: ws}
}

// connect dials with a bearer header and consumes auth_ok.
func (e *testEnv) connect(t *testing.T, token string) *client {
	t.Helper()
	c := e.dial(t, http.Header{"Authorization": {"Bearer " + token}}, "")
	c.expect(FrameAuthOK)
	return c
}

func (c *client) write(frameType, id string, data interface{}) {
	c.t.Helper()
	b, err := encodeFrame(frameType, id, data)
	if err != nil {
		c.t.Fatal(err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		c.t.Fatalf("write %s: %v", frameType, err)
	}
}

func (c *client) next() (Frame, error) {
	_ = c.ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (c *client) expect(frameType string) Frame {
	c.t.Helper()
	f, err := c.next()
	if err != nil {
		c.t.Fatalf("waiting for %s: %v", frameType, err)
	}
	if f.Type != frameType {
		c.t.Fatalf("got frame %s (%s), want %s", f.Type, f.Data, frameType)
	}
	return f
}

func (c *client) expectError(code string) {
	c.t.Helper()
	f := c.expect(FrameError)
	var p ErrorPayload
	if err := json.Unmarshal(f.Data, &p); err != nil {
		c.t.Fatal(err)
	}
	if p.Code != code {
		c.t.Fatalf("error code = %s (%s), want %s", p.Code, p.Message, code)
	}
}

// expectClose reads until the server closes and returns the close error.
func (c *client) expectClose() *websocket.CloseError {
	c.t.Helper()
	for {
		_, err := c.next()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			c.t.Fatalf("expected close frame, got %v", err)
		}
		return ce
	}
}

// roundTrip sends a ping and waits for the pong, so every earlier frame of
// this client has been handled.
func (c *client) roundTrip() {
	c.t.Helper()
	c.write(FramePing, "rt", nil)
	c.expect(FramePong)
}

func decode[T any](t *testing.T, f Frame) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(f.Data, &v); err != nil {
		t.Fatalf("decode %s: %v", f.Type, err)
	}
	return v
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t, Config{})

	tests := []struct {
		name   string
		header http.Header
		query  string
		frame  bool
	}{
		{name: "authorization header", header: http.Header{"Authorization": {"Bearer tok-alice"}}},
		{name: "query parameter", query: "token=tok-alice"},
		{name: "first frame", frame: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := env.dial(t, tt.header, tt.query)
			if tt.frame {
				c.write(FrameAuth, "", AuthPayload{Token: "tok-alice"})
			}
			ok := decode[AuthOKPayload](t, c.expect(FrameAuthOK))
			if ok.UserID != "alice" || ok.ConnectionID == "" {
				t.Fatalf("auth_ok = %+v", ok)
			}
			h, found := env.registry.Lookup("alice")
			if !found || h.ID() != ok.ConnectionID {
				t.Fatalf("registry does not hold this connection")
			}
			_ = c.ws.Close()
			waitFor(t, "unregister", func() bool { return !env.registry.IsOnline("alice") })
		})
	}
}

func TestAuthentication_Failures(t *testing.T) {
	env := newTestEnv(t, Config{AuthTimeout: 200 * time.Millisecond})

	tests := []struct {
		name   string
		header http.Header
		first  func(c *client)
	}{
		{name: "bad header token", header: http.Header{"Authorization": {"Bearer nope"}}},
		{name: "bad frame token", first: func(c *client) { c.write(FrameAuth, "", AuthPayload{Token: "nope"}) }},
		{name: "first frame not auth", first: func(c *client) { c.write(FramePing, "", nil) }},
		{name: "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := env.dial(t, tt.header, "")
			if tt.first != nil {
				tt.first(c)
			}
			c.expectError(CodeAuthFailed)
			ce := c.expectClose()
			if ce.Code != websocket.ClosePolicyViolation {
				t.Errorf("close code = %d, want %d", ce.Code, websocket.ClosePolicyViolation)
			}
			if env.registry.Count() != 0 {
				t.Errorf("failed auth registered a session")
			}
		})
	}
}

func TestSendPushAck(t *testing.T) {
	env := newTestEnv(t, Config{})
	alice := env.connect(t, "tok-alice")
	bob := env.connect(t, "tok-bob")

	alice.write(FrameSend, "r1", SendPayload{ReceiverID: "bob", MessageID: "m-1", Content: "hi"})
	f := alice.expect(FrameAccepted)
	if f.ID != "r1" {
		t.Errorf("reply id = %q, want r1", f.ID)
	}
	acc := decode[AcceptedPayload](t, f)
	if acc.ConversationKey != "alice:bob" || acc.SequenceNumber != 1 || acc.Duplicate {
		t.Fatalf("accepted = %+v", acc)
	}

	push := decode[PushPayload](t, bob.expect(FramePush))
	if push.Message == nil || push.Message.MessageID != "m-1" || push.Message.Content != "hi" {
		t.Fatalf("push = %+v", push)
	}

	bob.write(FrameAck, "", AckPayload{MessageID: "m-1"})
	bob.roundTrip()

	page, err := env.pipeline.Sync(context.Background(), "bob", "alice:bob", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	msgs := page.Messages
	if len(msgs) != 1 || msgs[0].DeliveryState != models.StateDelivered {
		t.Fatalf("after ack: %+v", msgs)
	}

	// Retrying the send is idempotent and not pushed again.
	alice.write(FrameSend, "r2", SendPayload{ReceiverID: "bob", MessageID: "m-1", Content: "hi"})
	acc = decode[AcceptedPayload](t, alice.expect(FrameAccepted))
	if !acc.Duplicate || acc.SequenceNumber != 1 {
		t.Fatalf("retry accepted = %+v", acc)
	}
	bob.roundTrip()

	bob.write(FrameRead, "", AckPayload{MessageID: "m-1", ConversationKey: "alice:bob"})
	bob.roundTrip()
	page, _ = env.pipeline.Sync(context.Background(), "alice", "alice:bob", 0, 0)
	if msgs = page.Messages; msgs[0].DeliveryState != models.StateRead {
		t.Errorf("state = %s, want Read", msgs[0].DeliveryState)
	}
}

func TestSyncAfterOffline(t *testing.T) {
	env := newTestEnv(t, Config{})
	alice := env.connect(t, "tok-alice")

	for i := 1; i <= 3; i++ {
		alice.write(FrameSend, "", SendPayload{ReceiverID: "bob", MessageID: fmt.Sprintf("m-%d", i), Content: "x"})
		alice.expect(FrameAccepted)
	}

	bob := env.connect(t, "tok-bob")
	bob.write(FrameSync, "s1", SyncPayload{ConversationKey: "alice:bob", AfterSequence: 1})
	res := decode[SyncResultPayload](t, bob.expect(FrameSyncResult))
	if len(res.Messages) != 2 {
		t.Fatalf("sync returned %d messages, want 2", len(res.Messages))
	}
	for i, m := range res.Messages {
		if m.SequenceNumber != uint64(i+2) || m.DeliveryState != models.StatePending {
			t.Errorf("message %d = seq %d state %s", i, m.SequenceNumber, m.DeliveryState)
		}
	}
	if res.HasMore || res.NextAfter != 3 {
		t.Errorf("last page: has_more=%v next_after=%d", res.HasMore, res.NextAfter)
	}

	bob.write(FrameSync, "s-page", SyncPayload{ConversationKey: "alice:bob", Limit: 1})
	res = decode[SyncResultPayload](t, bob.expect(FrameSyncResult))
	if len(res.Messages) != 1 || !res.HasMore || res.NextAfter != 1 || res.Limit != 1 {
		t.Errorf("short page = %+v", res)
	}

	bob.write(FrameSync, "s2", SyncPayload{ConversationKey: "alice:bob", AfterSequence: 3})
	res = decode[SyncResultPayload](t, bob.expect(FrameSyncResult))
	if len(res.Messages) != 0 {
		t.Errorf("sync past the end returned %+v", res.Messages)
	}
}

func TestFrameErrors(t *testing.T) {
	env := newTestEnv(t, Config{})
	alice := env.connect(t, "tok-alice")

	tests := []struct {
		name      string
		frameType string
		data      interface{}
		code      string
	}{
		{"unknown recipient", FrameSend, SendPayload{ReceiverID: "mallory", MessageID: "m", Content: "x"}, CodeNotFound},
		{"self send", FrameSend, SendPayload{ReceiverID: "alice", MessageID: "m", Content: "x"}, CodeValidationFailed},
		{"empty content", FrameSend, SendPayload{ReceiverID: "bob", MessageID: "m"}, CodeValidationFailed},
		{"missing payload", FrameSend, nil, CodeValidationFailed},
		{"ack without pending push", FrameAck, AckPayload{MessageID: "nope"}, CodeValidationFailed},
		{"ack unknown message", FrameAck, AckPayload{MessageID: "nope", ConversationKey: "alice:bob"}, CodeNotFound},
		{"sync foreign conversation", FrameSync, SyncPayload{ConversationKey: "bob:carol"}, CodeForbidden},
		{"sync bad key", FrameSync, SyncPayload{ConversationKey: "garbage"}, CodeValidationFailed},
		{"second auth", FrameAuth, AuthPayload{Token: "tok-alice"}, CodeProtocolError},
		{"unknown type", "dance", nil, CodeUnknownFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alice.write(tt.frameType, "e", tt.data)
			alice.expectError(tt.code)
		})
	}

	// Errors never close the connection.
	alice.roundTrip()
}

func TestMalformedFrameCloses(t *testing.T) {
	env := newTestEnv(t, Config{})
	alice := env.connect(t, "tok-alice")

	if err := alice.ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	alice.expectError(CodeProtocolError)
	if ce := alice.expectClose(); ce.Code != websocket.CloseProtocolError {
		t.Errorf("close code = %d, want %d", ce.Code, websocket.CloseProtocolError)
	}
	waitFor(t, "unregister", func() bool { return !env.registry.IsOnline("alice") })
}

func TestEviction(t *testing.T) {
	env := newTestEnv(t, Config{})
	first := env.connect(t, "tok-bob")
	second := env.dial(t, http.Header{"Authorization": {"Bearer tok-bob"}}, "")
	ok := decode[AuthOKPayload](t, second.expect(FrameAuthOK))

	ce := first.expectClose()
	if ce.Code != websocket.CloseNormalClosure || ce.Text != string(session.CloseEvicted) {
		t.Errorf("close = %d %q, want normal closure %q", ce.Code, ce.Text, session.CloseEvicted)
	}

	h, found := env.registry.Lookup("bob")
	if !found || h.ID() != ok.ConnectionID {
		t.Fatal("registry should hold the newer connection")
	}
	waitFor(t, "old connection closed", func() bool { return env.gw.Connections() == 1 })

	// The evicted connection's cleanup left the new mapping alone.
	if !env.registry.IsOnline("bob") {
		t.Error("newer session was unregistered")
	}
	second.roundTrip()
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, Config{InboundRate: 0.001, InboundBurst: 1})
	alice := env.connect(t, "tok-alice")

	alice.write(FramePing, "1", nil)
	alice.expect(FramePong)
	alice.write(FramePing, "2", nil)
	alice.expectError(CodeRateLimited)
}

func TestShutdown(t *testing.T) {
	env := newTestEnv(t, Config{})
	alice := env.connect(t, "tok-alice")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := env.gw.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if ce := alice.expectClose(); ce.Code != websocket.CloseGoingAway {
		t.Errorf("close code = %d, want %d", ce.Code, websocket.CloseGoingAway)
	}
	if n := env.gw.Connections(); n != 0 {
		t.Errorf("Connections = %d after shutdown", n)
	}
	if env.registry.Count() != 0 {
		t.Errorf("registry not empty after shutdown")
	}

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL("token=tok-alice"), nil)
	if err == nil {
		t.Fatal("dial after shutdown succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after shutdown, got %v", resp)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
}

func TestRunWithContext(t *testing.T) {
	env := newTestEnv(t, Config{ShutdownTimeout: time.Second})
	alice := env.connect(t, "tok-alice")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.gw.RunWithContext(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunWithContext = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("RunWithContext did not return")
	}
	alice.expectClose()
}

func TestSlowConsumer(t *testing.T) {
	gw := New(Config{SendQueueSize: 1}, tokens{}, nil, session.NewRegistry())
	c := newConn(gw, nil)
	c.state = StateActive

	msg := &models.Message{MessageID: "m", ConversationKey: "alice:bob"}
	if err := c.PushMessage(msg); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if err := c.PushMessage(msg); !errors.Is(err, session.ErrSlowConsumer) {
		t.Fatalf("second push = %v, want ErrSlowConsumer", err)
	}
	if c.State() != StateClosing {
		t.Errorf("state = %s, want closing", c.State())
	}
	if err := c.PushReceipt(models.Receipt{}); !errors.Is(err, session.ErrConnectionClosed) {
		t.Errorf("push after close = %v, want ErrConnectionClosed", err)
	}
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateConnecting, StateAuthenticating, true},
		{StateConnecting, StateActive, false},
		{StateAuthenticating, StateActive, true},
		{StateAuthenticating, StateClosing, true},
		{StateActive, StateClosing, true},
		{StateActive, StateAuthenticating, false},
		{StateClosing, StateClosed, true},
		{StateClosing, StateActive, false},
		{StateClosed, StateClosing, false},
		{StateClosed, StateConnecting, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			err := transition(tt.from, tt.to)
			if tt.ok && err != nil {
				t.Errorf("unexpected error %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrIllegalTransition) {
				t.Errorf("error = %v, want ErrIllegalTransition", err)
			}
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name, header, query, want string
	}{
		{"bearer", "Bearer abc", "", "abc"},
		{"lower case scheme", "bearer abc", "", "abc"},
		{"query", "", "token=xyz", "xyz"},
		{"header wins", "Bearer abc", "token=xyz", "abc"},
		{"other scheme", "Basic abc", "", ""},
		{"none", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws?"+tt.query, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := tokenFromRequest(r); got != tt.want {
				t.Errorf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCheckOrigin(t *testing.T) {
	gw := New(Config{AllowedOrigins: []string{"https://chat.example.com"}}, tokens{}, nil, session.NewRegistry())
	for origin, want := range map[string]bool{
		"":                         true,
		"https://chat.example.com": true,
		"https://evil.example.com": false,
	} {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		if got := gw.checkOrigin(r); got != want {
			t.Errorf("checkOrigin(%q) = %v, want %v", origin, got, want)
		}
	}
}
