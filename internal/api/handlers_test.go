package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/V1vekW/OPTIC-SHIELD/internal/config"
	"github.com/V1vekW/OPTIC-SHIELD/internal/hub"
	"github.com/V1vekW/OPTIC-SHIELD/internal/ingest"
	"github.com/V1vekW/OPTIC-SHIELD/internal/species"
	"github.com/V1vekW/OPTIC-SHIELD/internal/storage"
)

const testAPIKey = "test-api-key"

func newTestServer() *RESTServer {
	cfg := config.Default()
	cfg.Auth.APIKey = testAPIKey
	cfg.Auth.JWTSecret = "test-jwt-secret"

	store := storage.NewMemoryStore(cfg.Storage.DetectionCapacity, cfg.Storage.AuditCapacity)
	h := hub.NewHub(cfg.Hub.SubscriberQueue)
	svc := ingest.NewService(store, species.NewValidator(nil), h)

	return NewRESTServer(cfg, store, svc, h)
}

func doJSON(s *RESTServer, method, path string, payload interface{}, authed bool) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if payload != nil {
		json.NewEncoder(&body).Encode(payload)
	}

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("X-API-Key", testAPIKey)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func detectionBody(class string) map[string]interface{} {
	return map[string]interface{}{
		"device_id":  "cam-001",
		"class_name": class,
		"confidence": 0.91,
		"bbox":       []float64{10, 20, 110, 220},
		"timestamp":  float64(time.Now().Unix()),
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer()

	w := doJSON(s, "GET", "/api/health", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decode(t, w)["status"]; got != "healthy" {
		t.Errorf("status field = %v", got)
	}
}

func TestRegisterDevice(t *testing.T) {
	s := newTestServer()

	w := doJSON(s, "POST", "/api/devices", map[string]interface{}{
		"device_id": "cam-001",
		"name":      "North Ridge",
	}, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	resp := decode(t, w)
	if resp["success"] != true || resp["device_id"] != "cam-001" {
		t.Errorf("response = %v", resp)
	}
}

func TestRegisterDeviceRequiresAuth(t *testing.T) {
	s := newTestServer()

	w := doJSON(s, "POST", "/api/devices", map[string]interface{}{"device_id": "cam-001"}, false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if decode(t, w)["success"] != false {
		t.Error("error envelope should carry success=false")
	}
}

func TestRegisterDeviceMissingID(t *testing.T) {
	s := newTestServer()

	w := doJSON(s, "POST", "/api/devices", map[string]interface{}{"name": "nameless"}, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestPostDetectionAccepted(t *testing.T) {
	s := newTestServer()

	w := doJSON(s, "POST", "/api/devices/detections", detectionBody("tiger"), true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	resp := decode(t, w)
	if resp["success"] != true {
		t.Errorf("response = %v", resp)
	}
	if resp["event_id"] == "" || resp["event_id"] == nil {
		t.Error("response should carry event_id")
	}
}

func TestPostDetectionAlias(t *testing.T) {
	s := newTestServer()

	w := doJSON(s, "POST", "/api/detections", detectionBody("leopard"), true)
	if w.Code != http.StatusOK {
		t.Fatalf("alias status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestPostDetectionSpeciesRejected(t *testing.T) {
	s := newTestServer()

	w := doJSON(s, "POST", "/api/devices/detections", detectionBody("deer"), true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	// The rejection shows up in the audit log.
	w = doJSON(s, "GET", "/api/devices/detections", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("audit status = %d", w.Code)
	}
	resp := decode(t, w)
	if resp["count"].(float64) != 1 {
		t.Errorf("audit count = %v, want 1", resp["count"])
	}
}

func TestPostDetectionMalformed(t *testing.T) {
	s := newTestServer()

	body := detectionBody("tiger")
	body["confidence"] = 1.5

	w := doJSON(s, "POST", "/api/devices/detections", body, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	// Malformed payloads leave no audit trace.
	w = doJSON(s, "GET", "/api/devices/detections", nil, false)
	if got := decode(t, w)["count"].(float64); got != 0 {
		t.Errorf("audit count = %v, want 0", got)
	}
}

func TestPostDetectionBatch(t *testing.T) {
	s := newTestServer()

	w := doJSON(s, "POST", "/api/devices/detections/batch", map[string]interface{}{
		"device_id": "cam-001",
		"detections": []map[string]interface{}{
			detectionBody("tiger"),
			detectionBody("lion"),
			detectionBody("deer"),
		},
	}, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	resp := decode(t, w)
	if resp["count"].(float64) != 2 || resp["rejected"].(float64) != 1 {
		t.Errorf("response = %v, want count 2 / rejected 1", resp)
	}
}

func TestListDetections(t *testing.T) {
	s := newTestServer()

	doJSON(s, "POST", "/api/devices/detections", detectionBody("tiger"), true)
	doJSON(s, "POST", "/api/devices/detections", detectionBody("lion"), true)

	w := doJSON(s, "GET", "/api/detections", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode(t, w)
	if resp["count"].(float64) != 2 {
		t.Errorf("count = %v, want 2", resp["count"])
	}

	w = doJSON(s, "GET", "/api/detections?species=lion", nil, false)
	if got := decode(t, w)["count"].(float64); got != 1 {
		t.Errorf("filtered count = %v, want 1", got)
	}

	w = doJSON(s, "GET", "/api/detections?limit=1", nil, false)
	if got := decode(t, w)["count"].(float64); got != 1 {
		t.Errorf("limited count = %v, want 1", got)
	}

	// An explicit non-positive limit is honored, not promoted to the
	// default.
	w = doJSON(s, "GET", "/api/detections?limit=0", nil, false)
	if got := decode(t, w)["count"].(float64); got != 0 {
		t.Errorf("count with limit=0 = %v, want 0", got)
	}
	w = doJSON(s, "GET", "/api/detections?limit=-3", nil, false)
	if got := decode(t, w)["count"].(float64); got != 0 {
		t.Errorf("count with limit=-3 = %v, want 0", got)
	}
}

func TestHeartbeatAndDeviceList(t *testing.T) {
	s := newTestServer()

	w := doJSON(s, "POST", "/api/devices/heartbeat", map[string]interface{}{
		"device_id": "cam-002",
		"name":      "East Gully",
	}, true)
	if w.Code != http.StatusOK {
		t.Fatalf("heartbeat status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(s, "GET", "/api/devices", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	resp := decode(t, w)
	if resp["count"].(float64) != 1 {
		t.Fatalf("count = %v, want 1", resp["count"])
	}

	devices := resp["devices"].([]interface{})
	device := devices[0].(map[string]interface{})
	if device["status"] != "online" {
		t.Errorf("fresh heartbeat should derive online, got %v", device["status"])
	}
}

func TestGetDevice(t *testing.T) {
	s := newTestServer()

	doJSON(s, "POST", "/api/devices", map[string]interface{}{"device_id": "cam-003"}, true)

	w := doJSON(s, "GET", "/api/devices/cam-003", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	w = doJSON(s, "GET", "/api/devices/ghost", nil, false)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown device status = %d, want 404", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer()

	doJSON(s, "POST", "/api/devices", map[string]interface{}{"device_id": "cam-001"}, true)
	doJSON(s, "POST", "/api/devices/detections", detectionBody("tiger"), true)
	doJSON(s, "POST", "/api/devices/detections", detectionBody("tiger"), true)

	w := doJSON(s, "GET", "/api/stats", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	resp := decode(t, w)
	if resp["total_devices"].(float64) != 1 {
		t.Errorf("total_devices = %v, want 1", resp["total_devices"])
	}
	if resp["online_devices"].(float64) != 1 {
		t.Errorf("online_devices = %v, want 1", resp["online_devices"])
	}
	if resp["detections_24h"].(float64) != 2 {
		t.Errorf("detections_24h = %v, want 2", resp["detections_24h"])
	}
}

func TestDeviceTokenExchange(t *testing.T) {
	s := newTestServer()

	w := doJSON(s, "POST", "/api/auth/token", map[string]interface{}{"device_id": "cam-001"}, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	token, _ := resp["access_token"].(string)
	if token == "" {
		t.Fatal("response should carry an access token")
	}

	// The token works as a Bearer credential on write endpoints.
	var body bytes.Buffer
	json.NewEncoder(&body).Encode(detectionBody("tiger"))
	req := httptest.NewRequest("POST", "/api/devices/detections", &body)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer detection status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestDeviceTokenRejectsBadKey(t *testing.T) {
	s := newTestServer()

	w := doJSON(s, "POST", "/api/auth/token", map[string]interface{}{"device_id": "cam-001"}, false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}
