package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/clipsync/clipsync/internal/auth"
	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/engine"
	"github.com/clipsync/clipsync/internal/files"
	"github.com/clipsync/clipsync/internal/httpserver/deps"
	"github.com/clipsync/clipsync/internal/logger"
	"github.com/clipsync/clipsync/internal/registry"
	"github.com/clipsync/clipsync/internal/relay"
	"github.com/clipsync/clipsync/internal/store/memory"
	"github.com/clipsync/clipsync/internal/ws"
)

const testSecret = "test-secret"

type fakeStats struct{ conns int }

func (f fakeStats) Connections() int       { return f.conns }
func (f fakeStats) RelayQueued() int       { return 0 }
func (f fakeStats) RelayDropped() uint64   { return 0 }
func (f fakeStats) RelayDelivered() uint64 { return 0 }

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

type testServer struct {
	url     string
	deps    deps.Deps
	trigger chan struct{}
}

func newTestServer(t *testing.T, mutate func(*deps.Deps)) *testServer {
	t.Helper()
	log := logger.NewNop()

	users := auth.NewDirectory()
	users.Update([]auth.User{
		{ID: "u1", Username: "alice"},
		{ID: "u2", Username: "bob"},
	})

	reg := registry.New(log)
	rel := relay.New(reg, log, 0)
	rel.Start(context.Background())

	st := memory.New()
	eng := engine.New(engine.Deps{
		Store:       st,
		Files:       files.NewMemory(),
		Broadcaster: rel,
		Presence:    reg,
		Limits:      users,
		Logger:      log,
	}, engine.Options{})

	trigger := make(chan struct{}, 1)
	d := deps.Deps{
		Logger:             log,
		StartTime:          time.Now(),
		Version:            "test",
		StoreBackend:       "memory",
		Store:              st,
		Engine:             eng,
		Sockets:            ws.NewServer(eng, reg, ws.Options{}, log),
		Verifier:           auth.NewVerifier(testSecret, users),
		Users:              users,
		Stats:              fakeStats{conns: 0},
		RateLimitBurst:     1000,
		RateLimitPerMin:    1000,
		UsersReloadTrigger: trigger,
	}
	if mutate != nil {
		mutate(&d)
	}

	ts := httptest.NewServer(NewRouter(log, d))
	t.Cleanup(func() {
		reg.CloseAll()
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = rel.Stop(ctx)
	})
	return &testServer{url: ts.URL, deps: d, trigger: trigger}
}

func token(t *testing.T, username string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   username,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

// call performs a request as user from device (either may be empty) and
// decodes the JSON answer into out when non-nil.
func (s *testServer) call(t *testing.T, method, path, user, device string, body any, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.url+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, user))
	}
	if device != "" {
		req.Header.Set("X-Device-ID", device)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode error = %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type errorBody struct {
	Error struct {
		Code    domain.Code `json:"code"`
		Message string      `json:"message"`
	} `json:"error"`
}

type submitBody struct {
	Item         domain.Item `json:"item"`
	Deduplicated bool        `json:"deduplicated"`
}

func textItem(value string) map[string]any {
	return map[string]any{"type": "text", "value": value}
}

func TestProbes(t *testing.T) {
	s := newTestServer(t, nil)

	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if code := s.call(t, http.MethodGet, "/healthz", "", "", nil, &health); code != http.StatusOK {
		t.Fatalf("healthz status = %d", code)
	}
	if health.Status != "ok" || health.Version != "test" {
		t.Errorf("healthz = %+v", health)
	}

	var ready struct {
		Ready bool   `json:"ready"`
		Store string `json:"store"`
	}
	if code := s.call(t, http.MethodGet, "/readyz", "", "", nil, &ready); code != http.StatusOK || !ready.Ready {
		t.Errorf("readyz = %d %+v, want 200 ready", code, ready)
	}

	var infra struct {
		Mode string `json:"mode"`
	}
	if code := s.call(t, http.MethodGet, "/infra", "", "", nil, &infra); code != http.StatusOK || infra.Mode != "operational" {
		t.Errorf("infra = %d %+v, want 200 operational", code, infra)
	}
}

func TestReadyzStoreDown(t *testing.T) {
	s := newTestServer(t, func(d *deps.Deps) { d.Store = downStore{} })

	var ready struct {
		Ready bool `json:"ready"`
	}
	if code := s.call(t, http.MethodGet, "/readyz", "", "", nil, &ready); code != http.StatusServiceUnavailable || ready.Ready {
		t.Errorf("readyz = %d %+v, want 503 not ready", code, ready)
	}

	var infra struct {
		Mode string `json:"mode"`
	}
	s.call(t, http.MethodGet, "/infra", "", "", nil, &infra)
	if infra.Mode != "critical" {
		t.Errorf("infra mode = %q, want critical", infra.Mode)
	}
}

func TestProbesRestrictedByCIDR(t *testing.T) {
	s := newTestServer(t, func(d *deps.Deps) { d.AllowedCIDRS = []string{"10.0.0.0/8"} })

	if code := s.call(t, http.MethodGet, "/readyz", "", "", nil, nil); code != http.StatusForbidden {
		t.Errorf("readyz from loopback = %d, want 403", code)
	}
	if code := s.call(t, http.MethodGet, "/healthz", "", "", nil, nil); code != http.StatusOK {
		t.Errorf("healthz must stay open, got %d", code)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	s := newTestServer(t, nil)

	var body errorBody
	if code := s.call(t, http.MethodGet, "/api/v1/clipboard", "", "", nil, &body); code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", code)
	}
	if body.Error.Code != domain.CodeUnauthorized {
		t.Errorf("code = %q", body.Error.Code)
	}

	if code := s.call(t, http.MethodGet, "/api/v1/clipboard", "mallory", "", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("unknown user status = %d, want 401", code)
	}
}

func TestSubmitAndDedup(t *testing.T) {
	s := newTestServer(t, nil)

	var body errorBody
	if code := s.call(t, http.MethodPost, "/api/v1/clipboard", "alice", "", textItem("hi"), &body); code != http.StatusBadRequest {
		t.Fatalf("submit without device = %d, want 400", code)
	}
	if body.Error.Code != domain.CodeValidation {
		t.Errorf("code = %q, want VALIDATION_ERROR", body.Error.Code)
	}

	var first submitBody
	if code := s.call(t, http.MethodPost, "/api/v1/clipboard", "alice", "A", textItem("hello"), &first); code != http.StatusCreated {
		t.Fatalf("submit status = %d, want 201", code)
	}
	if first.Item.OriginDevice != "A" || first.Item.Owner != "u1" || first.Deduplicated {
		t.Errorf("first submit = %+v", first)
	}

	var again submitBody
	if code := s.call(t, http.MethodPost, "/api/v1/clipboard", "alice", "B", textItem("hello"), &again); code != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200", code)
	}
	if !again.Deduplicated || again.Item.ID != first.Item.ID {
		t.Errorf("duplicate = %+v, want dedup of %s", again, first.Item.ID)
	}

	bad := map[string]any{"type": "video", "value": "x"}
	if code := s.call(t, http.MethodPost, "/api/v1/clipboard", "alice", "A", bad, nil); code != http.StatusBadRequest {
		t.Errorf("bad kind status = %d, want 400", code)
	}
}

func TestItemLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	var created submitBody
	s.call(t, http.MethodPost, "/api/v1/clipboard", "alice", "A", textItem("first"), &created)
	s.call(t, http.MethodPost, "/api/v1/clipboard", "alice", "A", textItem("second"), nil)
	id := created.Item.ID

	var list struct {
		Items []domain.Item `json:"items"`
		Total int           `json:"total"`
	}
	if code := s.call(t, http.MethodGet, "/api/v1/clipboard?search=fir", "alice", "", nil, &list); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if list.Total != 1 || list.Items[0].ID != id {
		t.Errorf("search list = %+v", list)
	}
	if code := s.call(t, http.MethodGet, "/api/v1/clipboard?page_size=101", "alice", "", nil, nil); code != http.StatusBadRequest {
		t.Errorf("oversized page status = %d, want 400", code)
	}
	if code := s.call(t, http.MethodGet, "/api/v1/clipboard?favorite=maybe", "alice", "", nil, nil); code != http.StatusBadRequest {
		t.Errorf("bad favorite status = %d, want 400", code)
	}

	var got domain.Item
	if code := s.call(t, http.MethodGet, "/api/v1/clipboard/"+id, "alice", "", nil, &got); code != http.StatusOK || got.Content != "first" {
		t.Errorf("get = %d %+v", code, got)
	}
	if code := s.call(t, http.MethodGet, "/api/v1/clipboard/"+id, "bob", "", nil, nil); code != http.StatusNotFound {
		t.Errorf("foreign get status = %d, want 404", code)
	}

	var updated domain.Item
	if code := s.call(t, http.MethodPut, "/api/v1/clipboard/"+id, "alice", "A", map[string]any{"favorite": true}, &updated); code != http.StatusOK {
		t.Fatalf("update status = %d", code)
	}
	if !updated.Favorite {
		t.Error("favorite not applied")
	}
	if code := s.call(t, http.MethodPut, "/api/v1/clipboard/"+id, "alice", "A", map[string]any{"value": "x"}, nil); code != http.StatusBadRequest {
		t.Errorf("non-updatable field status = %d, want 400", code)
	}

	if code := s.call(t, http.MethodGet, "/api/v1/clipboard?favorite=true", "alice", "", nil, &list); code != http.StatusOK || list.Total != 1 {
		t.Errorf("favorite filter = %d total %d, want 1", code, list.Total)
	}

	if code := s.call(t, http.MethodDelete, "/api/v1/clipboard/"+id, "alice", "A", nil, nil); code != http.StatusOK {
		t.Errorf("delete status = %d", code)
	}
	if code := s.call(t, http.MethodDelete, "/api/v1/clipboard/"+id, "alice", "A", nil, nil); code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", code)
	}
}

func TestBatchDeleteAndClear(t *testing.T) {
	s := newTestServer(t, nil)

	var ids []string
	for _, v := range []string{"a", "b", "c"} {
		var out submitBody
		s.call(t, http.MethodPost, "/api/v1/clipboard", "alice", "A", textItem(v), &out)
		ids = append(ids, out.Item.ID)
	}

	var batch struct {
		IDs   []string `json:"ids"`
		Count int      `json:"count"`
	}
	body := map[string]any{"ids": []string{ids[0], ids[1], "missingmissingmissing1"}}
	if code := s.call(t, http.MethodDelete, "/api/v1/clipboard", "alice", "A", body, &batch); code != http.StatusOK {
		t.Fatalf("batch delete status = %d", code)
	}
	if batch.Count != 2 {
		t.Errorf("batch count = %d, want 2", batch.Count)
	}

	var eb errorBody
	if code := s.call(t, http.MethodPost, "/api/v1/clipboard/clear", "alice", "A", map[string]any{}, &eb); code != http.StatusPreconditionFailed {
		t.Fatalf("clear without confirm = %d, want 412", code)
	}
	if eb.Error.Code != domain.CodeConfirmationRequired {
		t.Errorf("code = %q", eb.Error.Code)
	}

	var cleared struct {
		Deleted int `json:"deleted_count"`
	}
	if code := s.call(t, http.MethodPost, "/api/v1/clipboard/clear", "alice", "A", map[string]any{"confirm": true}, &cleared); code != http.StatusOK {
		t.Fatalf("clear status = %d", code)
	}
	if cleared.Deleted != 1 {
		t.Errorf("cleared %d items, want 1", cleared.Deleted)
	}
}

func TestSyncCursorOverREST(t *testing.T) {
	s := newTestServer(t, nil)

	var first submitBody
	s.call(t, http.MethodPost, "/api/v1/clipboard", "alice", "A", textItem("one"), &first)

	type updates struct {
		Items []domain.Item `json:"items"`
		Total int           `json:"total"`
	}
	var page updates
	if code := s.call(t, http.MethodGet, "/api/v1/clipboard/sync/fetch_updates", "alice", "B", nil, &page); code != http.StatusOK {
		t.Fatalf("fetch_updates status = %d", code)
	}
	if page.Total != 1 {
		t.Fatalf("first sync total = %d, want 1", page.Total)
	}
	if code := s.call(t, http.MethodGet, "/api/v1/clipboard/sync/fetch_updates", "alice", "", nil, nil); code != http.StatusBadRequest {
		t.Errorf("fetch_updates without device = %d, want 400", code)
	}

	var ack struct {
		LastSyncTime time.Time `json:"last_sync_time"`
	}
	cursor := page.Items[0].CreatedAt
	if code := s.call(t, http.MethodPost, "/api/v1/clipboard/sync/update_sync_time", "alice", "B",
		map[string]any{"sync_time": cursor}, &ack); code != http.StatusOK {
		t.Fatalf("update_sync_time status = %d", code)
	}
	if !ack.LastSyncTime.Equal(cursor) {
		t.Errorf("acked cursor = %v, want %v", ack.LastSyncTime, cursor)
	}

	older := cursor.Add(-time.Hour)
	s.call(t, http.MethodPost, "/api/v1/clipboard/sync/update_sync_time", "alice", "B",
		map[string]any{"sync_time": older}, &ack)
	if !ack.LastSyncTime.Equal(cursor) {
		t.Errorf("older ack moved cursor to %v", ack.LastSyncTime)
	}

	s.call(t, http.MethodPost, "/api/v1/clipboard", "alice", "A", textItem("two"), nil)
	s.call(t, http.MethodGet, "/api/v1/clipboard/sync/fetch_updates", "alice", "B", nil, &page)
	if page.Total != 1 || page.Items[0].Content != "two" {
		t.Errorf("catch-up = %+v, want only \"two\"", page)
	}

	var devices struct {
		Devices []struct {
			ID     string `json:"device_id"`
			Online bool   `json:"online"`
		} `json:"devices"`
	}
	if code := s.call(t, http.MethodGet, "/api/v1/devices", "alice", "", nil, &devices); code != http.StatusOK {
		t.Fatalf("devices status = %d", code)
	}
	found := false
	for _, d := range devices.Devices {
		if d.ID == "B" {
			found = true
			if d.Online {
				t.Error("REST-only device reported online")
			}
		}
	}
	if !found {
		t.Errorf("device B not listed: %+v", devices)
	}
}

func TestSocketRoute(t *testing.T) {
	s := newTestServer(t, nil)
	wsURL := "ws" + strings.TrimPrefix(s.url, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token(t, "alice"), nil)
	if err == nil {
		t.Fatal("dial without device_id should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("handshake without device_id = %v, want 400", resp)
	}

	_, resp, err = websocket.DefaultDialer.Dial(wsURL+"?device_id=A", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("handshake without token = %v, want 401", resp)
	}

	c, _, err := websocket.DefaultDialer.Dial(wsURL+"?device_id=A&device_name=Laptop&token="+token(t, "alice"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))

	var env struct {
		Type string `json:"type"`
		Data struct {
			DeviceID string   `json:"device_id"`
			Online   []string `json:"online_devices"`
		} `json:"data"`
	}
	if err := c.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if env.Type != "connected" || env.Data.DeviceID != "A" {
		t.Errorf("first envelope = %+v", env)
	}

	var online struct {
		Devices []string `json:"devices"`
	}
	s.call(t, http.MethodGet, "/api/v1/devices/online", "alice", "", nil, &online)
	if len(online.Devices) != 1 || online.Devices[0] != "A" {
		t.Errorf("online = %v, want [A]", online.Devices)
	}
	s.call(t, http.MethodGet, "/api/v1/devices/online", "bob", "", nil, &online)
	if len(online.Devices) != 0 {
		t.Errorf("bob sees alice's devices: %v", online.Devices)
	}
}

func TestReloadUsers(t *testing.T) {
	s := newTestServer(t, nil)

	if code := s.call(t, http.MethodPost, "/reload", "", "", nil, nil); code != http.StatusAccepted {
		t.Fatalf("first reload = %d, want 202", code)
	}
	if code := s.call(t, http.MethodPost, "/reload", "", "", nil, nil); code != http.StatusTooManyRequests {
		t.Errorf("pending reload = %d, want 429", code)
	}
	select {
	case <-s.trigger:
	default:
		t.Error("reload trigger not signalled")
	}
}
