package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PrizePool/internal/core"
	"PrizePool/internal/gateway"
	"PrizePool/internal/observability"
	"PrizePool/internal/server"
)

var (
	adminID  = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	backerID = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	winnerID = uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8")
	poolAcct = uuid.MustParse("6ba7b812-9dad-11d1-80b4-00c04fd430c8")
)

func newTestServer(t *testing.T, adminToken string) (*server.Server, *gateway.MemoryTokenGateway) {
	t.Helper()

	tokens := gateway.NewMemoryTokenGateway()
	tokens.Mint(backerID, 1_000_000)

	engine := core.NewEngine(0, poolAcct, gateway.OpenGate{}, tokens, nil, nil, nil, 1024, nil)

	health := observability.NewHealthChecker()
	health.SetReady(true)

	srv := server.New(server.Config{
		Engine:     engine,
		Health:     health,
		Logger:     observability.NewLoggerWithLevel("test", zerolog.Disabled),
		AdminToken: adminToken,
	})
	return srv, tokens
}

func postJSON(t *testing.T, srv http.Handler, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func initAndFund(t *testing.T, srv http.Handler, amount int64) {
	t.Helper()

	rec := postJSON(t, srv, "/v1/init", map[string]interface{}{
		"admin": adminID.String(),
		"asset": "USDT",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("init: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, srv, "/v1/fund", map[string]interface{}{
		"from":   backerID.String(),
		"amount": amount,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("fund: status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestInitFundAndQuery(t *testing.T) {
	srv, tokens := newTestServer(t, "")
	initAndFund(t, srv, 500)

	if got := tokens.Balance(poolAcct); got != 500 {
		t.Errorf("pool account balance = %d, want 500", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/pool", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("query: status %d", rec.Code)
	}
	var status core.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Available != 500 {
		t.Errorf("available = %d, want 500", status.Available)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	srv, _ := newTestServer(t, "")

	// Query before init.
	req := httptest.NewRequest(http.MethodGet, "/v1/pool", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("query before init: status %d, want 409", rec.Code)
	}

	initAndFund(t, srv, 100)

	tests := []struct {
		name string
		path string
		body map[string]interface{}
		want int
	}{
		{
			name: "init twice",
			path: "/v1/init",
			body: map[string]interface{}{"admin": adminID.String(), "asset": "USDT"},
			want: http.StatusConflict,
		},
		{
			name: "fund zero amount",
			path: "/v1/fund",
			body: map[string]interface{}{"from": backerID.String(), "amount": 0},
			want: http.StatusBadRequest,
		},
		{
			name: "reserve insufficient",
			path: "/v1/reserve",
			body: map[string]interface{}{"caller": adminID.String(), "game_id": "g1", "amount": 101},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "reserve non-admin",
			path: "/v1/reserve",
			body: map[string]interface{}{"caller": backerID.String(), "game_id": "g1", "amount": 10},
			want: http.StatusForbidden,
		},
		{
			name: "release unknown game",
			path: "/v1/release",
			body: map[string]interface{}{"caller": adminID.String(), "game_id": "missing", "amount": 10},
			want: http.StatusNotFound,
		},
		{
			name: "payout unknown game",
			path: "/v1/payout",
			body: map[string]interface{}{"caller": adminID.String(), "to": winnerID.String(), "game_id": "missing", "amount": 10},
			want: http.StatusNotFound,
		},
		{
			name: "bad admin uuid",
			path: "/v1/init",
			body: map[string]interface{}{"admin": "not-a-uuid", "asset": "USDT"},
			want: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, srv, tt.path, tt.body, nil)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body: %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestReserveReleasePayoutFlow(t *testing.T) {
	srv, tokens := newTestServer(t, "")
	initAndFund(t, srv, 1000)

	rec := postJSON(t, srv, "/v1/reserve", map[string]interface{}{
		"caller": adminID.String(), "game_id": "game-1", "amount": 400,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reserve: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, srv, "/v1/release", map[string]interface{}{
		"caller": adminID.String(), "game_id": "game-1", "amount": 100,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("release: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, srv, "/v1/payout", map[string]interface{}{
		"caller": adminID.String(), "to": winnerID.String(), "game_id": "game-1", "amount": 300,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("payout: status %d, body %s", rec.Code, rec.Body.String())
	}

	if got := tokens.Balance(winnerID); got != 300 {
		t.Errorf("winner balance = %d, want 300", got)
	}
}

func TestIdempotentRequestID(t *testing.T) {
	srv, _ := newTestServer(t, "")
	initAndFund(t, srv, 1000)

	requestID := uuid.New().String()
	body := map[string]interface{}{
		"request_id": requestID,
		"caller":     adminID.String(),
		"game_id":    "game-1",
		"amount":     200,
	}

	for i := 0; i < 2; i++ {
		rec := postJSON(t, srv, "/v1/reserve", body, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: status %d, body %s", i, rec.Code, rec.Body.String())
		}
	}

	// Applied once: only 200 of 1000 reserved.
	req := httptest.NewRequest(http.MethodGet, "/v1/pool", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var status core.Status
	json.Unmarshal(rec.Body.Bytes(), &status)
	if status.Reserved != 200 {
		t.Errorf("reserved = %d, duplicate request must not re-apply", status.Reserved)
	}
}

func TestBearerTokenGate(t *testing.T) {
	srv, _ := newTestServer(t, "secret-token")

	body := map[string]interface{}{"admin": adminID.String(), "asset": "USDT"}

	rec := postJSON(t, srv, "/v1/init", body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status %d, want 401", rec.Code)
	}

	rec = postJSON(t, srv, "/v1/init", body, map[string]string{
		"Authorization": "Bearer wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status %d, want 401", rec.Code)
	}

	rec = postJSON(t, srv, "/v1/init", body, map[string]string{
		"Authorization": "Bearer secret-token",
	})
	if rec.Code != http.StatusOK {
		t.Errorf("valid token: status %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, "")

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status %d, want 200", path, rec.Code)
		}
	}
}
