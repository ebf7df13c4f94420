package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/engine"
	"github.com/clipsync/clipsync/internal/files"
	"github.com/clipsync/clipsync/internal/logger"
	"github.com/clipsync/clipsync/internal/registry"
	"github.com/clipsync/clipsync/internal/relay"
	"github.com/clipsync/clipsync/internal/store/memory"
	"github.com/clipsync/clipsync/internal/wire"
)

type envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

type fixture struct {
	url      string
	registry *registry.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewNop()

	reg := registry.New(log)
	rel := relay.New(reg, log, 0)
	rel.Start(context.Background())

	eng := engine.New(engine.Deps{
		Store:       memory.New(),
		Files:       files.NewMemory(),
		Broadcaster: rel,
		Presence:    reg,
		Logger:      log,
	}, engine.Options{})

	srv := NewServer(eng, reg, Options{PingInterval: time.Second, WriteTimeout: time.Second}, log)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.Serve(w, r, engine.Session{
			Owner:    r.URL.Query().Get("owner"),
			Username: "user",
			DeviceID: r.URL.Query().Get("device_id"),
		})
	}))
	t.Cleanup(func() {
		reg.CloseAll()
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = rel.Stop(ctx)
	})

	return &fixture{
		url:      "ws" + strings.TrimPrefix(ts.URL, "http"),
		registry: reg,
	}
}

// dial connects deviceID of owner u and consumes the connected envelope.
func (f *fixture) dial(t *testing.T, deviceID string) *websocket.Conn {
	t.Helper()
	return f.dialOwner(t, "u", deviceID)
}

func (f *fixture) dialOwner(t *testing.T, owner, deviceID string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(f.url+"?owner="+owner+"&device_id="+deviceID, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", deviceID, err)
	}
	t.Cleanup(func() { _ = c.Close() })

	env := read(t, c)
	if env.Type != wire.TypeConnected {
		t.Fatalf("first message = %s, want connected", env.Type)
	}
	return c
}

func read(t *testing.T, c *websocket.Conn) envelope {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env envelope
	if err := c.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return env
}

// readUntil reads until match returns true and returns everything read.
func readUntil(t *testing.T, c *websocket.Conn, match func(envelope) bool) []envelope {
	t.Helper()
	var seen []envelope
	for {
		env := read(t, c)
		seen = append(seen, env)
		if match(env) {
			return seen
		}
	}
}

func send(t *testing.T, c *websocket.Conn, action, requestID string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	req := wire.Request{Action: action, RequestID: requestID, Data: raw}
	if err := c.WriteJSON(req); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
}

func response(id string) func(envelope) bool {
	return func(e envelope) bool { return e.RequestID == id }
}

func ofType(typ string) func(envelope) bool {
	return func(e envelope) bool { return e.Type == typ }
}

func TestConnectedListsOnlineDevices(t *testing.T) {
	f := newFixture(t)
	f.dial(t, "A")

	c, _, err := websocket.DefaultDialer.Dial(f.url+"?owner=u&device_id=B", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	env := read(t, c)
	var data connectedData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.DeviceID != "B" || data.SessionID == "" {
		t.Errorf("connected = %+v", data)
	}
	if strings.Join(data.OnlineDevices, ",") != "A,B" {
		t.Errorf("online_devices = %v, want [A B]", data.OnlineDevices)
	}
}

func TestSubmitReachesPeersButNotOrigin(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t, "A")
	b := f.dial(t, "B")

	send(t, a, wire.ActionSubmitItem, "r1", map[string]any{"type": "text", "value": "hello"})

	got := readUntil(t, a, response("r1"))
	resp := got[len(got)-1]
	if resp.Type != wire.TypeItemSubmitted {
		t.Fatalf("response type = %s, want %s (data %s)", resp.Type, wire.TypeItemSubmitted, resp.Data)
	}
	var res submitResult
	if err := json.Unmarshal(resp.Data, &res); err != nil {
		t.Fatal(err)
	}
	if res.SyncedTo != 1 || res.Item.OriginDevice != "A" {
		t.Errorf("submit result = synced_to %d origin %s", res.SyncedTo, res.Item.OriginDevice)
	}

	events := readUntil(t, b, ofType(wire.EventItemCreated))
	var item domain.Item
	if err := json.Unmarshal(events[len(events)-1].Data, &item); err != nil {
		t.Fatal(err)
	}
	if item.Content != "hello" || item.ID != res.Item.ID {
		t.Errorf("broadcast item = %+v", item)
	}

	// B has the event, so anything meant for A is already queued ahead of
	// this pong.
	send(t, a, wire.ActionPing, "r2", nil)
	for _, env := range readUntil(t, a, response("r2")) {
		if env.Type == wire.EventItemCreated {
			t.Error("origin device received its own item-created event")
		}
	}
}

func TestDuplicateSubmitOverSocket(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t, "A")
	b := f.dial(t, "B")

	send(t, a, wire.ActionSubmitItem, "r1", map[string]any{"type": "text", "value": "same"})
	first := readUntil(t, a, response("r1"))
	send(t, a, wire.ActionSubmitItem, "r2", map[string]any{"type": "text", "value": "same"})
	second := readUntil(t, a, response("r2"))

	if second[len(second)-1].Type != wire.TypeItemDeduplicated {
		t.Fatalf("second response = %s, want %s", second[len(second)-1].Type, wire.TypeItemDeduplicated)
	}

	var r1, r2 submitResult
	_ = json.Unmarshal(first[len(first)-1].Data, &r1)
	_ = json.Unmarshal(second[len(second)-1].Data, &r2)
	if r1.Item.ID != r2.Item.ID {
		t.Errorf("dedup id = %s, want %s", r2.Item.ID, r1.Item.ID)
	}

	events := readUntil(t, b, ofType(wire.EventTimestampUpdated))
	var ts wire.TimestampUpdated
	if err := json.Unmarshal(events[len(events)-1].Data, &ts); err != nil {
		t.Fatal(err)
	}
	if ts.ID != r1.Item.ID {
		t.Errorf("timestamp-updated id = %s, want %s", ts.ID, r1.Item.ID)
	}
}

func TestErrorsAreCorrelated(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t, "A")

	tests := []struct {
		name   string
		action string
		data   any
		code   domain.Code
	}{
		{"unknown action", "teleport", nil, domain.CodeUnknownAction},
		{"missing value", wire.ActionSubmitItem, map[string]any{"type": "text"}, domain.CodeValidation},
		{"bad payload", wire.ActionDeleteItemsBatch, map[string]any{"ids": "nope"}, domain.CodeValidation},
		{"unknown item", wire.ActionDeleteItem, map[string]any{"id": "missing"}, domain.CodeNotFound},
		{"clear without confirm", wire.ActionClearAllHistory, map[string]any{}, domain.CodeConfirmationRequired},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := "e" + string(rune('0'+i))
			send(t, a, tt.action, id, tt.data)
			env := readUntil(t, a, response(id))
			last := env[len(env)-1]
			if last.Type != wire.TypeError {
				t.Fatalf("type = %s, want error", last.Type)
			}
			var data wire.ErrorData
			if err := json.Unmarshal(last.Data, &data); err != nil {
				t.Fatal(err)
			}
			if data.Code != tt.code {
				t.Errorf("code = %s, want %s", data.Code, tt.code)
			}
		})
	}

	if err := a.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	env := read(t, a)
	if env.Type != wire.TypeError {
		t.Errorf("malformed envelope answered with %s, want error", env.Type)
	}
}

func TestFetchUpdatesAndAckOverSocket(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t, "A")
	c := f.dial(t, "C")

	send(t, a, wire.ActionSubmitItem, "s1", map[string]any{"type": "text", "value": "one"})
	readUntil(t, a, response("s1"))

	send(t, c, wire.ActionFetchUpdates, "f1", map[string]any{"limit": 10})
	got := readUntil(t, c, response("f1"))
	var page engine.UpdatesPage
	if err := json.Unmarshal(got[len(got)-1].Data, &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || len(page.Items) != 1 {
		t.Fatalf("updates = total %d, items %d", page.Total, len(page.Items))
	}

	send(t, c, wire.ActionAckSyncCursor, "a1", map[string]any{"last_sync_time": page.Items[0].CreatedAt})
	got = readUntil(t, c, response("a1"))
	if got[len(got)-1].Type != wire.TypeCursorAcked {
		t.Fatalf("ack response = %s (%s)", got[len(got)-1].Type, got[len(got)-1].Data)
	}

	send(t, c, wire.ActionFetchUpdates, "f2", nil)
	got = readUntil(t, c, response("f2"))
	if err := json.Unmarshal(got[len(got)-1].Data, &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 0 {
		t.Errorf("updates after ack = %d, want 0", page.Total)
	}
}

func TestDisconnectNotifiesPeers(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t, "A")
	b := f.dial(t, "B")

	_ = a.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = a.Close()

	events := readUntil(t, b, ofType(wire.EventDeviceOffline))
	var data wire.DeviceOffline
	if err := json.Unmarshal(events[len(events)-1].Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.DeviceID != "A" || data.OnlineCount != 1 {
		t.Errorf("device-offline = %+v, want A with 1 online", data)
	}
}

func TestReconnectReplacesChannel(t *testing.T) {
	f := newFixture(t)
	first := f.dial(t, "A")
	second := f.dial(t, "A")

	_ = first.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	send(t, second, wire.ActionPing, "p", nil)
	got := readUntil(t, second, response("p"))
	if got[len(got)-1].Type != wire.TypePong {
		t.Errorf("ping answered with %s", got[len(got)-1].Type)
	}
	if n := f.registry.CountOnline("u"); n != 1 {
		t.Errorf("CountOnline() = %d, want 1", n)
	}
}

func TestOwnersAreIsolated(t *testing.T) {
	f := newFixture(t)
	a := f.dialOwner(t, "u", "A")
	x := f.dialOwner(t, "other", "X")

	send(t, a, wire.ActionSubmitItem, "r1", map[string]any{"type": "text", "value": "private"})
	readUntil(t, a, response("r1"))

	send(t, x, wire.ActionPing, "p", nil)
	for _, env := range readUntil(t, x, response("p")) {
		if env.Type == wire.EventItemCreated {
			t.Error("another owner's device received the broadcast")
		}
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin header", nil, "", "h", true},
		{"same host", nil, "https://clip.example", "clip.example", true},
		{"cross host", nil, "https://evil.example", "clip.example", false},
		{"allow-listed", []string{"https://app.example"}, "https://app.example", "clip.example", true},
		{"not allow-listed", []string{"https://app.example"}, "https://evil.example", "clip.example", false},
		{"wildcard", []string{"*"}, "https://any.example", "clip.example", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(nil, nil, Options{AllowedOrigins: tt.allowed}, logger.NewNop())
			r := httptest.NewRequest(http.MethodGet, "http://"+tt.host+"/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin() = %v, want %v", got, tt.want)
			}
		})
	}
}
