// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/komunikator/internal/eventbus"
	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/models"
	"github.com/tomtom215/komunikator/internal/sequence"
	"github.com/tomtom215/komunikator/internal/session"
	"github.com/tomtom215/komunikator/internal/session/sessiontest"
	"github.com/tomtom215/komunikator/internal/store"
)

func init() {
	logging.SetOutput(io.Discard)
}

type directory map[models.UserID]bool

func (d directory) UserExists(_ context.Context, id models.UserID) (bool, error) {
	return d[id], nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventbus.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev *eventbus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) types() []eventbus.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]eventbus.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// flakyStore fails appends while down is set and delivery marks while
// marksDown is set.
type flakyStore struct {
	store.Store
	down      atomic.Bool
	marksDown atomic.Bool
}

func (f *flakyStore) MarkDelivered(ctx context.Context, key models.ConversationKey, messageID string) (*models.Message, bool, error) {
	if f.marksDown.Load() {
		return nil, false, models.Unavailable("mark delivered", errors.New("connection refused"))
	}
	return f.Store.MarkDelivered(ctx, key, messageID)
}

func (f *flakyStore) Append(ctx context.Context, key models.ConversationKey, msg *models.Message) (*models.Message, bool, error) {
	if f.down.Load() {
		return nil, false, models.Unavailable("append", errors.New("connection refused"))
	}
	return f.Store.Append(ctx, key, msg)
}

type harness struct {
	p        *Pipeline
	store    *flakyStore
	sessions *session.Registry
	events   *recordingPublisher
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	st := &flakyStore{Store: store.NewMemoryStore()}
	reg := session.NewRegistry()
	pub := &recordingPublisher{}
	coord := sequence.NewCoordinator(st, sequence.Config{CacheSize: 100})
	users := directory{"alice": true, "bob": true, "carol": true}
	p := New(cfg, st, coord, reg, users, pub)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return &harness{p: p, store: st, sessions: reg, events: pub}
}

func send(id, content string) SendRequest {
	return SendRequest{SenderID: "alice", ReceiverID: "bob", MessageID: id, Content: content}
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

// alice sends to offline bob, bob syncs and acks.
func TestScenario_OfflineThenSyncThenAck(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	msg, dup, err := h.p.Send(ctx, send("m-1", "hi"))
	if err != nil {
		t.Fatal(err)
	}
	if dup || msg.SequenceNumber != 1 || msg.DeliveryState != models.StatePending {
		t.Fatalf("Send = %+v dup=%v", msg, dup)
	}
	if msg.ConversationKey != "alice:bob" {
		t.Errorf("key = %s", msg.ConversationKey)
	}

	bob := sessiontest.NewHandle("bob")
	h.sessions.Register("bob", bob)
	if bob.PushCount() != 0 {
		t.Error("connecting must not push old messages; they come from sync")
	}

	syncPage, err := h.p.Sync(ctx, "bob", "alice:bob", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	synced := syncPage.Messages
	if len(synced) != 1 || synced[0].SequenceNumber != 1 || synced[0].Content != "hi" || synced[0].DeliveryState != models.StatePending {
		t.Fatalf("sync = %+v", synced)
	}

	acked, err := h.p.Ack(ctx, "bob", "alice:bob", "m-1")
	if err != nil {
		t.Fatal(err)
	}
	if acked.DeliveryState != models.StateDelivered {
		t.Errorf("after ack state = %v", acked.DeliveryState)
	}

	got := h.events.types()
	want := []eventbus.EventType{eventbus.EventMessageAccepted, eventbus.EventMessageDelivered}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestSend_Idempotent(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	first, _, err := h.p.Send(ctx, send("m-1", "hi"))
	if err != nil {
		t.Fatal(err)
	}
	second, dup, err := h.p.Send(ctx, send("m-1", "hi"))
	if err != nil {
		t.Fatal(err)
	}
	if !dup || second.SequenceNumber != first.SequenceNumber {
		t.Fatalf("retry = seq %d dup=%v, want seq %d dup=true", second.SequenceNumber, dup, first.SequenceNumber)
	}

	next, _, _ := h.p.Send(ctx, send("m-2", "again"))
	if next.SequenceNumber != 2 {
		t.Errorf("duplicate consumed a sequence number: next = %d", next.SequenceNumber)
	}
	all, _ := h.p.Sync(ctx, "alice", "alice:bob", 0, 0)
	if len(all.Messages) != 2 {
		t.Errorf("stored %d messages, want 2", len(all.Messages))
	}
}

func TestSend_MessageIDReusedByPeer(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	if _, _, err := h.p.Send(ctx, send("m-1", "hi")); err != nil {
		t.Fatal(err)
	}
	_, _, err := h.p.Send(ctx, SendRequest{SenderID: "bob", ReceiverID: "alice", MessageID: "m-1", Content: "yo"})
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("got %v, want validation error", err)
	}
}

func TestSend_Rejections(t *testing.T) {
	h := newHarness(t, Config{MaxContentLength: 5})
	ctx := context.Background()

	tests := []struct {
		name string
		req  SendRequest
		want error
	}{
		{"empty content", send("m", ""), models.ErrValidation},
		{"no message id", send("", "hi"), models.ErrValidation},
		{"too long", send("m", "héllo!"), models.ErrValidation},
		{"self send", SendRequest{SenderID: "alice", ReceiverID: "alice", MessageID: "m", Content: "hi"}, models.ErrValidation},
		{"malformed receiver", SendRequest{SenderID: "alice", ReceiverID: "b:ob", MessageID: "m", Content: "hi"}, models.ErrValidation},
		{"unknown receiver", SendRequest{SenderID: "alice", ReceiverID: "zed", MessageID: "m", Content: "hi"}, models.ErrRecipientUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := h.p.Send(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if _, _, err := h.p.Send(ctx, send("m", "héllo")); err != nil {
		t.Errorf("five characters should fit a limit of five: %v", err)
	}
}

func TestSend_StorageUnavailableLeavesNoGap(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	if _, _, err := h.p.Send(ctx, send("m-1", "one")); err != nil {
		t.Fatal(err)
	}
	h.store.down.Store(true)
	_, _, err := h.p.Send(ctx, send("m-2", "two"))
	if !errors.Is(err, models.ErrStorageUnavailable) {
		t.Fatalf("got %v, want storage unavailable", err)
	}

	h.store.down.Store(false)
	msg, _, err := h.p.Send(ctx, send("m-2", "two"))
	if err != nil {
		t.Fatal(err)
	}
	if msg.SequenceNumber != 2 {
		t.Errorf("retry after outage got sequence %d, want 2", msg.SequenceNumber)
	}
}

func TestSend_OnlinePushAndAck(t *testing.T) {
	h := newHarness(t, Config{AckTimeout: time.Minute})
	ctx := context.Background()

	bob := sessiontest.NewHandle("bob")
	bob.Pushed = make(chan *models.Message, 1)
	h.sessions.Register("bob", bob)

	if _, _, err := h.p.Send(ctx, send("m-1", "hi")); err != nil {
		t.Fatal(err)
	}
	pushed := <-bob.Pushed
	if pushed.MessageID != "m-1" || pushed.SequenceNumber != 1 {
		t.Fatalf("pushed %+v", pushed)
	}
	if h.p.PendingAcks() != 1 {
		t.Fatalf("pending acks = %d", h.p.PendingAcks())
	}

	// ack by message id alone resolves the conversation from the push
	m, err := h.p.Ack(ctx, "bob", "", "m-1")
	if err != nil {
		t.Fatal(err)
	}
	if m.DeliveryState != models.StateDelivered {
		t.Errorf("state = %v", m.DeliveryState)
	}
	waitFor(t, "ack waiter to finish", func() bool { return h.p.PendingAcks() == 0 })
}

func TestAck_StoreFailureKeepsWaiter(t *testing.T) {
	h := newHarness(t, Config{AckTimeout: time.Minute})
	ctx := context.Background()

	bob := sessiontest.NewHandle("bob")
	bob.Pushed = make(chan *models.Message, 1)
	h.sessions.Register("bob", bob)

	if _, _, err := h.p.Send(ctx, send("m-1", "hi")); err != nil {
		t.Fatal(err)
	}
	<-bob.Pushed

	h.store.marksDown.Store(true)
	if _, err := h.p.Ack(ctx, "bob", "", "m-1"); !errors.Is(err, models.ErrStorageUnavailable) {
		t.Fatalf("ack with store down: %v", err)
	}
	if h.p.PendingAcks() != 1 {
		t.Fatalf("a failed ack must leave the push outstanding, pending = %d", h.p.PendingAcks())
	}

	// the key is still resolvable from the outstanding push
	h.store.marksDown.Store(false)
	m, err := h.p.Ack(ctx, "bob", "", "m-1")
	if err != nil {
		t.Fatal(err)
	}
	if m.DeliveryState != models.StateDelivered {
		t.Errorf("state = %v", m.DeliveryState)
	}
	waitFor(t, "ack waiter to finish", func() bool { return h.p.PendingAcks() == 0 })
}

func TestSend_AckTimeoutLeavesPending(t *testing.T) {
	h := newHarness(t, Config{AckTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	bob := sessiontest.NewHandle("bob")
	h.sessions.Register("bob", bob)

	if _, _, err := h.p.Send(ctx, send("m-1", "hi")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "ack timeout", func() bool { return h.p.PendingAcks() == 0 })

	page, _ := h.p.Sync(ctx, "bob", "alice:bob", 0, 0)
	if msgs := page.Messages; msgs[0].DeliveryState != models.StatePending {
		t.Errorf("timed out push must stay pending, got %v", msgs[0].DeliveryState)
	}

	// a late ack after the timeout still counts
	if _, err := h.p.Ack(ctx, "bob", "alice:bob", "m-1"); err != nil {
		t.Errorf("late ack: %v", err)
	}
}

func TestSend_ConnectionCloseCancelsWait(t *testing.T) {
	h := newHarness(t, Config{AckTimeout: time.Hour})
	bob := sessiontest.NewHandle("bob")
	h.sessions.Register("bob", bob)

	if _, _, err := h.p.Send(context.Background(), send("m-1", "hi")); err != nil {
		t.Fatal(err)
	}
	bob.Close(session.CloseClientGone)
	waitFor(t, "waiter release", func() bool { return h.p.PendingAcks() == 0 })
}

func TestSend_PushFailureIsNotAnError(t *testing.T) {
	h := newHarness(t, Config{})
	bob := sessiontest.NewHandle("bob")
	bob.PushErr = session.ErrSlowConsumer
	h.sessions.Register("bob", bob)

	msg, _, err := h.p.Send(context.Background(), send("m-1", "hi"))
	if err != nil {
		t.Fatalf("send must succeed when the push fails: %v", err)
	}
	if msg.DeliveryState != models.StatePending || h.p.PendingAcks() != 0 {
		t.Errorf("state=%v pending=%d", msg.DeliveryState, h.p.PendingAcks())
	}
}

func TestAckAndRead_Authorization(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	if _, _, err := h.p.Send(ctx, send("m-1", "hi")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"sender cannot ack", func() error { _, err := h.p.Ack(ctx, "alice", "alice:bob", "m-1"); return err }, models.ErrNotParticipant},
		{"outsider cannot read", func() error { _, err := h.p.MarkRead(ctx, "carol", "alice:bob", "m-1"); return err }, models.ErrNotParticipant},
		{"outsider cannot sync", func() error { _, err := h.p.Sync(ctx, "carol", "alice:bob", 0, 0); return err }, models.ErrNotParticipant},
		{"unknown message", func() error { _, err := h.p.Ack(ctx, "bob", "alice:bob", "nope"); return err }, models.ErrMessageNotFound},
		{"malformed key", func() error { _, err := h.p.Sync(ctx, "bob", "bob:alice", 0, 0); return err }, models.ErrValidation},
		{"ack without key or push", func() error { _, err := h.p.Ack(ctx, "bob", "", "m-1"); return err }, models.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMarkRead_IsFinal(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	if _, _, err := h.p.Send(ctx, send("m-1", "hi")); err != nil {
		t.Fatal(err)
	}

	m, err := h.p.MarkRead(ctx, "bob", "alice:bob", "m-1")
	if err != nil || m.DeliveryState != models.StateRead || m.DeliveredAt == nil {
		t.Fatalf("MarkRead = %+v, %v", m, err)
	}
	m, err = h.p.Ack(ctx, "bob", "alice:bob", "m-1")
	if err != nil || m.DeliveryState != models.StateRead {
		t.Errorf("ack after read = %v, %v", m.DeliveryState, err)
	}

	got := h.events.types()
	want := []eventbus.EventType{eventbus.EventMessageAccepted, eventbus.EventMessageRead}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v (no event for a no-op ack)", got, want)
	}
}

func TestSend_ConcurrentOrdering(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := send(fmt.Sprintf("m-%d", i), "x")
			if i%2 == 1 {
				req.SenderID, req.ReceiverID = "bob", "alice"
			}
			if _, _, err := h.p.Send(ctx, req); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	page, err := h.p.Sync(ctx, "alice", "alice:bob", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	msgs := page.Messages
	if len(msgs) != n {
		t.Fatalf("got %d messages", len(msgs))
	}
	for i, m := range msgs {
		if m.SequenceNumber != uint64(i+1) {
			t.Fatalf("position %d has sequence %d", i, m.SequenceNumber)
		}
	}
}

func TestSync_PageLimit(t *testing.T) {
	h := newHarness(t, Config{SyncPageLimit: 3})
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		if _, _, err := h.p.Send(ctx, send(fmt.Sprintf("m-%d", i), "x")); err != nil {
			t.Fatal(err)
		}
	}

	page, err := h.p.Sync(ctx, "bob", "alice:bob", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 3 || page.Limit != 3 || !page.HasMore || page.NextAfter != 3 {
		t.Errorf("limit above the cap: %d messages, limit %d, more %v, next %d",
			len(page.Messages), page.Limit, page.HasMore, page.NextAfter)
	}
	page, _ = h.p.Sync(ctx, "bob", "alice:bob", 3, 0)
	if len(page.Messages) != 2 || page.Messages[0].SequenceNumber != 4 || page.HasMore || page.NextAfter != 5 {
		t.Errorf("second page = %+v", page)
	}
	page, _ = h.p.Sync(ctx, "bob", "alice:bob", 2, 3)
	if len(page.Messages) != 3 || page.HasMore {
		t.Errorf("a full last page must not report more: %+v", page)
	}
	page, _ = h.p.Sync(ctx, "bob", "alice:bob", 5, 0)
	if page.Messages == nil || len(page.Messages) != 0 || page.NextAfter != 5 {
		t.Errorf("empty page = %+v", page)
	}

	convs, err := h.p.Conversations(ctx, "bob")
	if err != nil || len(convs) != 1 || convs[0].LastSequence() != 5 {
		t.Errorf("conversations = %+v, %v", convs, err)
	}
}

func TestClose(t *testing.T) {
	h := newHarness(t, Config{AckTimeout: time.Hour})
	bob := sessiontest.NewHandle("bob")
	h.sessions.Register("bob", bob)
	if _, _, err := h.p.Send(context.Background(), send("m-1", "hi")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.p.Close(ctx); err != nil {
		t.Fatalf("close with an outstanding ack waiter: %v", err)
	}
	if h.p.PendingAcks() != 0 {
		t.Error("waiters should be released on close")
	}
	_, _, err := h.p.Send(context.Background(), send("m-2", "late"))
	if !errors.Is(err, models.ErrShuttingDown) {
		t.Errorf("send after close: %v", err)
	}
	if !strings.Contains(err.Error(), "shutting down") {
		t.Errorf("error text = %q", err.Error())
	}
}
