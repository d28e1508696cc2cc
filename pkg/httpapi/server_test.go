package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/airmesh/airmesh-go/pkg/model"
	"github.com/airmesh/airmesh-go/pkg/registry"
	"github.com/airmesh/airmesh-go/pkg/session"
	"github.com/airmesh/airmesh-go/pkg/wire"
)

type fakeStore struct {
	inserted []model.Reading
	history  []model.Reading

	insertErr error
	queryErr  error

	lastDeviceID string
	lastLimit    int
}

func (f *fakeStore) Insert(_ context.Context, r model.Reading) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, r)
	return nil
}

func (f *fakeStore) Recent(_ context.Context, deviceID string, limit int) ([]model.Reading, error) {
	f.lastDeviceID = deviceID
	f.lastLimit = limit
	return f.history, f.queryErr
}

func (f *fakeStore) RecentAll(_ context.Context, limit int) ([]model.Reading, error) {
	f.lastDeviceID = ""
	f.lastLimit = limit
	return f.history, f.queryErr
}

func testReading(deviceID string, ts time.Time) model.Reading {
	return model.Reading{
		DeviceID:           deviceID,
		RecordedAt:         ts,
		CarbonMonoxidePPM:  0.3,
		TemperatureCelsius: 20.0,
		PM25:               4.2,
	}
}

func newTestServer(store *fakeStore, cfg Config) (*Server, *registry.Registry) {
	reg := registry.New(nil)
	mgr := session.NewManager(reg, store, session.Config{})
	return NewServer(store, mgr, cfg), reg
}

func readingBody(t *testing.T, r model.Reading) *strings.Reader {
	t.Helper()
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	return strings.NewReader(string(data))
}

func TestInsertReading(t *testing.T) {
	store := &fakeStore{}
	srv, _ := newTestServer(store, Config{})

	r := testReading("sensor-7", time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	req := httptest.NewRequest(http.MethodPost, "/data", readingBody(t, r))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "success" {
		t.Errorf("status = %q, want success", body["status"])
	}
	if len(store.inserted) != 1 || store.inserted[0].DeviceID != "sensor-7" {
		t.Errorf("inserted = %+v", store.inserted)
	}
}

func TestInsertRejectsInvalidReading(t *testing.T) {
	store := &fakeStore{}
	srv, _ := newTestServer(store, Config{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed JSON", "{not json"},
		{"missing device id", `{"recorded_at":"2026-08-01T12:00:00Z"}`},
		{"missing timestamp", `{"device_id":"sensor-7"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/data", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
	if len(store.inserted) != 0 {
		t.Errorf("inserted = %+v, want none", store.inserted)
	}
}

func TestInsertStoreErrorIs500(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("db down")}
	srv, _ := newTestServer(store, Config{})

	r := testReading("sensor-7", time.Now())
	req := httptest.NewRequest(http.MethodPost, "/data", readingBody(t, r))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestInsertRequiresAPIKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sesame"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	store := &fakeStore{}
	srv, _ := newTestServer(store, Config{APIKeyHash: string(hash)})
	handler := srv.Handler()

	r := testReading("sensor-7", time.Now())

	req := httptest.NewRequest(http.MethodPost, "/data", readingBody(t, r))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/data", readingBody(t, r))
	req.Header.Set(apiKeyHeader, "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/data", readingBody(t, r))
	req.Header.Set(apiKeyHeader, "sesame")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid key: status = %d, want 200", rec.Code)
	}
}

func TestHistory(t *testing.T) {
	store := &fakeStore{history: []model.Reading{
		testReading("sensor-7", time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)),
	}}
	srv, _ := newTestServer(store, Config{})
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if store.lastLimit != 100 {
		t.Errorf("default limit = %d, want 100", store.lastLimit)
	}
	var body struct {
		Data []model.Reading `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Data) != 1 || body.Data[0].DeviceID != "sensor-7" {
		t.Errorf("data = %+v", body.Data)
	}
}

func TestHistoryPerDevice(t *testing.T) {
	store := &fakeStore{}
	srv, _ := newTestServer(store, Config{})

	req := httptest.NewRequest(http.MethodGet, "/data?device_id=sensor-7&limit=10", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if store.lastDeviceID != "sensor-7" || store.lastLimit != 10 {
		t.Errorf("query used device %q limit %d", store.lastDeviceID, store.lastLimit)
	}
	// Empty history still serializes as an array.
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("body = %s, want empty data array", rec.Body.String())
	}
}

func TestHistoryRejectsBadLimit(t *testing.T) {
	srv, _ := newTestServer(&fakeStore{}, Config{})

	for _, limit := range []string{"abc", "0", "-5"} {
		req := httptest.NewRequest(http.MethodGet, "/data?limit="+limit, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit %q: status = %d, want 400", limit, rec.Code)
		}
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(&fakeStore{}, Config{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// TestLiveStream attaches a real WebSocket client and checks the
// snapshot-then-update ordering end to end.
func TestLiveStream(t *testing.T) {
	old := testReading("sensor-7", time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC))
	store := &fakeStore{history: []model.Reading{old}}
	srv, reg := newTestServer(store, Config{})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/live/sensor-7"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	msg, err := wire.DecodeMessage(data)
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if msg.Type != wire.TypeSnapshot {
		t.Fatalf("first message type = %q, want snapshot", msg.Type)
	}
	if len(msg.Readings) != 1 {
		t.Fatalf("snapshot carries %d readings, want 1", len(msg.Readings))
	}

	// The observer is registered before the snapshot is fetched.
	subs := reg.Subscribers("sensor-7")
	if len(subs) != 1 {
		t.Fatalf("registry has %d subscribers, want 1", len(subs))
	}

	update := testReading("sensor-7", time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	if err := subs[0].Deliver(update); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read update: %v", err)
	}
	msg, err = wire.DecodeMessage(data)
	if err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if msg.Type != wire.TypeUpdate {
		t.Fatalf("second message type = %q, want update", msg.Type)
	}
	if msg.Reading == nil || !msg.Reading.RecordedAt.Equal(update.RecordedAt) {
		t.Errorf("update reading = %+v", msg.Reading)
	}
}

// TestLiveClientDisconnectUnregisters checks single-fire cleanup after
// the client goes away.
func TestLiveClientDisconnectUnregisters(t *testing.T) {
	store := &fakeStore{}
	srv, reg := newTestServer(store, Config{})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/live/sensor-9"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if got := reg.Count("sensor-9"); got != 1 {
		t.Fatalf("Count = %d, want 1", got)
	}

	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for reg.Count("sensor-9") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("observer still registered after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
