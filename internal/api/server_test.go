package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brokerpilot/core/internal/auth"
	"github.com/brokerpilot/core/internal/infrastructure/config"
	"github.com/brokerpilot/core/internal/infrastructure/logging"
	"github.com/brokerpilot/core/internal/mqttclient"
	"github.com/brokerpilot/core/internal/mqttclient/fakemqtt"
	"github.com/brokerpilot/core/internal/session"
)

const testJWTSecret = "test-secret-key-at-least-32-chars!"

func testSecurity() config.SecurityConfig {
	return config.SecurityConfig{
		JWT: config.JWTConfig{
			Secret:         testJWTSecret,
			AccessTokenTTL: 15,
			AdminUsername:  "admin",
			AdminPassword:  "hunter2",
		},
	}
}

// newTestServer builds a Server over a fake-backed session.Manager and
// returns it with its router, ready for httptest traffic.
func newTestServer(t *testing.T) (*Server, http.Handler, *session.Manager) {
	t.Helper()

	factory := func(_ string, _ mqttclient.Options) (mqttclient.Client, error) {
		return fakemqtt.New(), nil
	}
	manager := session.New("sensor", factory, session.Config{})

	s, err := New(Deps{
		Config:   config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:       config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security: testSecurity(),
		Logger:   logging.Default(),
		Manager:  manager,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, s.buildRouter(), manager
}

func loginToken(t *testing.T, router http.Handler) string {
	t.Helper()

	body, _ := json.Marshal(loginRequest{Username: "admin", Password: "hunter2"}) //nolint:errcheck
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	return resp.AccessToken
}

func TestHandleHealth(t *testing.T) {
	_, router, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestHandleLogin_BadCredentials(t *testing.T) {
	_, router, _ := newTestServer(t)

	body, _ := json.Marshal(loginRequest{Username: "admin", Password: "wrong"}) //nolint:errcheck
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body)))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestHandleListBrokers(t *testing.T) {
	_, router, manager := newTestServer(t)

	manager.SetBrokers([]string{"mqtt://a:1883", "mqtt://b:1884"})
	if !manager.Connect() {
		t.Fatal("Connect against fake factory failed")
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/brokers", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Brokers []struct {
			URI       string `json:"uri"`
			Available bool   `json:"available"`
			Current   bool   `json:"current"`
		} `json:"brokers"`
		CurrentBroker string `json:"current_broker"`
		Connected     bool   `json:"connected"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Brokers) != 2 {
		t.Fatalf("len(brokers) = %d, want 2", len(body.Brokers))
	}
	if !body.Connected {
		t.Error("connected = false after Connect")
	}
	if body.CurrentBroker != "mqtt://a:1883" {
		t.Errorf("current_broker = %q, want first registered", body.CurrentBroker)
	}
	if !body.Brokers[0].Current || body.Brokers[1].Current {
		t.Error("current marker not on exactly the first broker")
	}
}

func TestHandleQueueDepth(t *testing.T) {
	_, router, manager := newTestServer(t)

	// Disconnected publishes queue up.
	manager.AddBroker("mqtt://a:1883")
	manager.Publish("t", []byte("p1"), 1, false)
	manager.Publish("t", []byte("p2"), 1, false)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil))

	var body map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["depth"] != 2 {
		t.Errorf("depth = %d, want 2", body["depth"])
	}
}

func TestBrokerOverride_RequiresAuth(t *testing.T) {
	_, router, _ := newTestServer(t)

	body, _ := json.Marshal(brokerURIRequest{URI: "mqtt://a:1883"}) //nolint:errcheck
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/brokers/unavailable", bytes.NewReader(body)))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", rec.Code)
	}
}

func TestBrokerOverride_MarkAndRestore(t *testing.T) {
	_, router, manager := newTestServer(t)
	manager.AddBroker("mqtt://a:1883")
	token := loginToken(t, router)

	post := func(path string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(brokerURIRequest{URI: "mqtt://a:1883"}) //nolint:errcheck
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	if rec := post("/api/v1/brokers/unavailable"); rec.Code != http.StatusOK {
		t.Fatalf("mark unavailable status = %d, body %s", rec.Code, rec.Body.String())
	}
	if stats := manager.GetBrokerStats(); stats[0].Available {
		t.Error("broker still available after override")
	}

	if rec := post("/api/v1/brokers/restore"); rec.Code != http.StatusOK {
		t.Fatalf("restore status = %d", rec.Code)
	}
	if stats := manager.GetBrokerStats(); !stats[0].Available {
		t.Error("broker not available after restore")
	}
}

func TestHandleListAudit_NotConfigured(t *testing.T) {
	_, router, _ := newTestServer(t)
	token := loginToken(t, router)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when audit repo is absent", rec.Code)
	}
}

func TestTicketStore_SingleUse(t *testing.T) {
	store := newTicketStore()

	ticket := store.issue(auth.RoleAdmin)
	role, ok := store.consume(ticket)
	if !ok || role != auth.RoleAdmin {
		t.Fatalf("consume = (%q, %v), want (admin, true)", role, ok)
	}

	if _, ok := store.consume(ticket); ok {
		t.Error("second consume of the same ticket succeeded")
	}
	if _, ok := store.consume("never-issued"); ok {
		t.Error("consume of an unknown ticket succeeded")
	}
}

func TestTicketStore_Expiry(t *testing.T) {
	store := newTicketStore()

	ticket := store.issue(auth.RoleAdmin)
	store.mu.Lock()
	entry := store.pending[ticket]
	entry.expiresAt = time.Now().Add(-time.Second)
	store.pending[ticket] = entry
	store.mu.Unlock()

	if _, ok := store.consume(ticket); ok {
		t.Error("consume of an expired ticket succeeded")
	}

	ticket2 := store.issue(auth.RoleAdmin)
	store.mu.Lock()
	entry2 := store.pending[ticket2]
	entry2.expiresAt = time.Now().Add(-time.Second)
	store.pending[ticket2] = entry2
	store.mu.Unlock()

	store.sweep()
	store.mu.Lock()
	_, present := store.pending[ticket2]
	store.mu.Unlock()
	if present {
		t.Error("sweep left an expired ticket in the store")
	}
}
