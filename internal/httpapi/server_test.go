package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"energy-ledger-go/internal/api"
	"energy-ledger-go/internal/database"
	"energy-ledger-go/internal/gateway"
	"energy-ledger-go/internal/identity"
	"energy-ledger-go/internal/ledger"
	"energy-ledger-go/internal/market"
	"energy-ledger-go/internal/meter"
	"energy-ledger-go/internal/models"
	"energy-ledger-go/internal/stats"

	"github.com/shopspring/decimal"
)

type envelope struct {
	Success             bool            `json:"success"`
	ErrorKind           string          `json:"error_kind"`
	ErrorCode           string          `json:"error_code"`
	Error               string          `json:"error"`
	LedgerTransactionId string          `json:"ledger_transaction_id"`
	Data                json.RawMessage `json:"data"`
}

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewService(ctx, models.DatabaseConfig{
		Path:         ":memory:",
		MaxOpenConns: 1,
		PingTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(db.Close)

	gw := gateway.NewGateway(ledger.NewSimulator(), models.LedgerConfig{TokenId: "KWH", CallTimeout: time.Second}, nil)
	bridge := identity.NewBridge(db, gw, identity.Config{}, nil)
	mgr := market.NewManager(db, gw, bridge, nil, market.Config{}, nil)
	proc := meter.NewProcessor(db, gw, bridge, nil, 2, nil)
	engine := api.NewEngineService(db, bridge, mgr, proc, stats.NewService(db))

	srv := httptest.NewServer(New(engine).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, env
}

func accountFor(t *testing.T, srv *httptest.Server, wallet string) string {
	t.Helper()
	status, env := call(t, srv, http.MethodPost, "/api/v1/wallets/"+wallet+"/account", nil)
	if status != http.StatusOK || !env.Success {
		t.Fatalf("create account for %s: %d %s", wallet, status, env.Error)
	}
	var mapping models.WalletMappingStatus
	if err := json.Unmarshal(env.Data, &mapping); err != nil {
		t.Fatalf("decode mapping: %v", err)
	}
	return mapping.LedgerAccountId
}

func TestHealthz(t *testing.T) {
	srv := setupServer(t)
	status, env := call(t, srv, http.MethodGet, "/healthz", nil)
	if status != http.StatusOK || !env.Success {
		t.Fatalf("expected healthy, got %d %+v", status, env)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := setupServer(t)
	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /metrics, got %d", resp.StatusCode)
	}
}

func TestTradeFlowOverHTTP(t *testing.T) {
	srv := setupServer(t)
	seller := accountFor(t, srv, "0xSELLER")
	buyer := accountFor(t, srv, "0xBUYER")

	status, env := call(t, srv, http.MethodPost, "/api/v1/readings", models.MeterReading{
		MeterId:      "PV-1",
		AccountId:    seller,
		MeterType:    models.MeterTypeProduction,
		EnergyAmount: mustDecimal("75"),
		EnergySource: "solar",
		Timestamp:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Verified:     true,
	})
	if status != http.StatusOK || env.LedgerTransactionId == "" {
		t.Fatalf("process reading: %d %+v", status, env)
	}

	status, env = call(t, srv, http.MethodPost, "/api/v1/listings", models.CreateListingRequest{
		SellerId: seller, EnergyAmount: "50", PricePerUnit: "0.10", EnergySource: "solar",
	})
	if status != http.StatusCreated {
		t.Fatalf("create listing: %d %+v", status, env)
	}
	var listing models.Listing
	if err := json.Unmarshal(env.Data, &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if !listing.TotalPrice.Equal(mustDecimal("5")) {
		t.Errorf("expected total price 5, got %s", listing.TotalPrice)
	}

	status, env = call(t, srv, http.MethodPost, "/api/v1/listings/"+listing.Id+"/trades", map[string]string{"buyer_id": buyer})
	if status != http.StatusOK || env.LedgerTransactionId == "" {
		t.Fatalf("execute trade: %d %+v", status, env)
	}
	status, env = call(t, srv, http.MethodPost, "/api/v1/listings/"+listing.Id+"/trades", map[string]string{"buyer_id": buyer})
	if status != http.StatusConflict || env.ErrorCode != "ALREADY_TRADED" {
		t.Errorf("expected 409 ALREADY_TRADED, got %d %+v", status, env)
	}

	status, env = call(t, srv, http.MethodGet, "/api/v1/accounts/"+buyer+"/trades", nil)
	if status != http.StatusOK {
		t.Fatalf("user trades: %d", status)
	}
	var trades []models.Trade
	if err := json.Unmarshal(env.Data, &trades); err != nil || len(trades) != 1 {
		t.Errorf("expected one trade, got %d (%v)", len(trades), err)
	}

	status, _ = call(t, srv, http.MethodGet, "/api/v1/stats/trading", nil)
	if status != http.StatusOK {
		t.Errorf("trading stats: %d", status)
	}
	status, _ = call(t, srv, http.MethodGet, "/api/v1/wallets/0xBUYER", nil)
	if status != http.StatusOK {
		t.Errorf("check wallet: %d", status)
	}
}

func TestErrorStatuses(t *testing.T) {
	srv := setupServer(t)

	status, env := call(t, srv, http.MethodGet, "/api/v1/listings/missing", nil)
	if status != http.StatusNotFound || env.ErrorKind != "NOT_FOUND" {
		t.Errorf("expected 404, got %d %+v", status, env)
	}
	status, env = call(t, srv, http.MethodPost, "/api/v1/listings", `{"seller_id":`)
	if status != http.StatusBadRequest || env.ErrorKind != "INVALID_INPUT" {
		t.Errorf("expected 400 for malformed body, got %d %+v", status, env)
	}
	status, _ = call(t, srv, http.MethodPost, "/api/v1/listings", `{"unexpected":true}`)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown field, got %d", status)
	}

	account := accountFor(t, srv, "0xHOME")
	batch := []models.MeterReading{
		{MeterId: "M1", AccountId: account, MeterType: models.MeterTypeProduction, EnergyAmount: mustDecimal("1"), EnergySource: "wind", Timestamp: time.Now().UTC(), Verified: true},
		{MeterId: "M2", AccountId: account, MeterType: models.MeterTypeProduction, EnergyAmount: mustDecimal("1"), EnergySource: "wind", Timestamp: time.Now().UTC(), Verified: false},
	}
	status, env = call(t, srv, http.MethodPost, "/api/v1/readings/batch", batch)
	if status != http.StatusMultiStatus || env.Success {
		t.Errorf("expected 207 for partial batch, got %d %+v", status, env)
	}
	var items []models.BatchItemResult
	if err := json.Unmarshal(env.Data, &items); err != nil || len(items) != 2 || !items[0].Success || items[1].Success {
		t.Errorf("unexpected batch items %+v (%v)", items, err)
	}
}

func TestStatusFor(t *testing.T) {
	tests := map[string]int{
		"INVALID_INPUT":           http.StatusBadRequest,
		"NOT_FOUND":               http.StatusNotFound,
		"INVALID_STATE":           http.StatusConflict,
		"NOT_ASSOCIATED":          http.StatusConflict,
		"INSUFFICIENT_BALANCE":    http.StatusUnprocessableEntity,
		"LEDGER_REJECTED":         http.StatusUnprocessableEntity,
		"LEDGER_UNAVAILABLE":      http.StatusServiceUnavailable,
		"PERSISTENCE_UNAVAILABLE": http.StatusServiceUnavailable,
		"INTERNAL":                http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := statusFor(kind); got != want {
			t.Errorf("statusFor(%s) = %d, want %d", kind, got, want)
		}
	}
}

func mustDecimal(s string) decimal.Decimal { return decimal.RequireFromString(s) }
