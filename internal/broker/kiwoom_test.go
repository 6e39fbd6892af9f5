package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "dart-trader/internal/errors"
	"dart-trader/internal/models"
)

func tokenHandler(w http.ResponseWriter, _ *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"return_code": 0,
		"return_msg":  "OK",
		"token":       "test-token",
		"expires_dt":  time.Now().Add(24 * time.Hour).Format("20060102150405"),
	})
}

// newTestClient wires a client against an httptest server. The server answers
// the token endpoint itself and delegates everything else to handler. Backoff
// sleeps are disabled so retry tests run instantly.
func newTestClient(t *testing.T, handler http.HandlerFunc) (*KiwoomClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == pathToken {
			tokenHandler(w, r)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := NewKiwoomClient(Config{
		AppKey:        "test-app-key",
		AppSecret:     "test-app-secret",
		AccountNumber: "12345678",
		BaseURL:       srv.URL,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewKiwoomClient: %v", err)
	}
	c.sleep = func(time.Duration) {}
	return c, srv
}

func TestAuthenticateStoresToken(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request to %s", r.URL.Path)
	})

	if c.IsAuthenticated() {
		t.Fatal("should not be authenticated before first login")
	}
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !c.IsAuthenticated() {
		t.Fatal("should be authenticated after login")
	}
	if c.bearerToken() != "test-token" {
		t.Fatalf("token = %q", c.bearerToken())
	}
}

func TestAuthenticateRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"return_code": 3,
			"return_msg":  "invalid credentials",
		})
	}))
	defer srv.Close()

	c, err := NewKiwoomClient(Config{
		AppKey:        "bad-key",
		AppSecret:     "bad-secret",
		AccountNumber: "12345678",
		BaseURL:       srv.URL,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewKiwoomClient: %v", err)
	}

	err = c.Authenticate(context.Background())
	if err == nil {
		t.Fatal("want error from rejected authentication")
	}
	if apperrors.KindOf(err) != apperrors.KindAuthFailure {
		t.Fatalf("kind = %v, want KindAuthFailure", apperrors.KindOf(err))
	}
	if c.IsAuthenticated() {
		t.Fatal("must not be authenticated after rejection")
	}
}

func TestTokenExpiryMargin(t *testing.T) {
	c, _ := newTestClient(t, func(http.ResponseWriter, *http.Request) {})

	raw := time.Date(2025, 8, 28, 18, 0, 0, 0, time.Local)
	got := c.parseExpiry(raw.Format("20060102150405"))
	want := raw.Add(-time.Hour)
	if !got.Equal(want) {
		t.Fatalf("expiry = %v, want %v", got, want)
	}
}

func TestTokenExpiryFallback(t *testing.T) {
	c, _ := newTestClient(t, func(http.ResponseWriter, *http.Request) {})
	fixed := time.Date(2025, 8, 28, 9, 0, 0, 0, time.Local)
	c.now = func() time.Time { return fixed }

	got := c.parseExpiry("not-a-timestamp")
	if !got.Equal(fixed.Add(23 * time.Hour)) {
		t.Fatalf("fallback expiry = %v", got)
	}
}

func TestGetBalance(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("api-id"); got != trDailyBalance {
			t.Errorf("api-id = %q, want %q", got, trDailyBalance)
		}
		if got := r.Header.Get("authorization"); got != "Bearer test-token" {
			t.Errorf("authorization = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"return_code":  0,
			"dbst_bal":     "500000",
			"tot_buy_amt":  "0",
			"tot_evlt_amt": "0",
			"day_stk_asst": "500000",
		})
	})

	bal, err := c.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !bal.Deposit.Equal(decimal.NewFromInt(500000)) {
		t.Fatalf("deposit = %s", bal.Deposit)
	}
	if !bal.AvailableAmount.Equal(bal.Deposit) {
		t.Fatalf("available = %s, want deposit", bal.AvailableAmount)
	}
}

func TestGetPositionsFiltersEmptyHoldings(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"return_code": 0,
			"dbst_bal":    "100000",
			"day_bal_rt": []map[string]string{
				{
					"stk_cd":     "005930",
					"stk_nm":     "Samsung Electronics",
					"rmnd_qty":   "10",
					"buy_uv":     "70000",
					"cur_prc":    "71500",
					"evlt_amt":   "715000",
					"evltv_prft": "+15000",
					"prft_rt":    "+2.14",
				},
				{
					"stk_cd":   "000660",
					"stk_nm":   "SK hynix",
					"rmnd_qty": "0",
				},
			},
		})
	})

	positions, err := c.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	p := positions[0]
	if p.StockCode != "005930" || p.Quantity != 10 {
		t.Fatalf("position = %+v", p)
	}
	if !p.ProfitLoss.Equal(decimal.NewFromInt(15000)) {
		t.Fatalf("profit = %s", p.ProfitLoss)
	}
}

func TestGetCurrentPriceValidatesCode(t *testing.T) {
	called := false
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	for _, code := range []string{"", "12345", "1234567", "00593A"} {
		_, err := c.GetCurrentPrice(context.Background(), code)
		if apperrors.KindOf(err) != apperrors.KindInvalidArgument {
			t.Fatalf("code %q: kind = %v, want KindInvalidArgument", code, apperrors.KindOf(err))
		}
	}
	if called {
		t.Fatal("malformed codes must not reach the network")
	}
}

func TestGetCurrentPrice(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("FID_INPUT_ISCD"); got != "005930" {
			t.Errorf("FID_INPUT_ISCD = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"rt_cd": "0",
			"output": map[string]string{
				"stck_prpr": "71500",
				"stck_oprc": "70800",
				"stck_hgpr": "71900",
				"stck_lwpr": "70500",
				"acml_vol":  "12345678",
			},
		})
	})

	quote, err := c.GetCurrentPrice(context.Background(), "005930")
	if err != nil {
		t.Fatalf("GetCurrentPrice: %v", err)
	}
	if !quote.CurrentPrice.Equal(decimal.NewFromInt(71500)) {
		t.Fatalf("price = %s", quote.CurrentPrice)
	}
	if quote.Volume != 12345678 {
		t.Fatalf("volume = %d", quote.Volume)
	}
}

func TestPlaceMarketBuyOrder(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("api-id"); got != trBuyOrder {
			t.Errorf("api-id = %q, want %q", got, trBuyOrder)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["trde_tp"] != "3" {
			t.Errorf("trde_tp = %q, want 3 for market order", body["trde_tp"])
		}
		if body["ord_uv"] != "" {
			t.Errorf("ord_uv = %q, want empty for market order", body["ord_uv"])
		}
		if body["ord_qty"] != "10" {
			t.Errorf("ord_qty = %q", body["ord_qty"])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"return_code":  0,
			"ord_no":       "0000138",
			"dmst_stex_tp": "KRX",
		})
	})

	handle, err := c.PlaceOrder(context.Background(), OrderRequest{
		StockCode: "005930",
		Side:      models.OrderSideBuy,
		Style:     models.OrderStyleMarket,
		Quantity:  10,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if handle.OrderNumber != "0000138" {
		t.Fatalf("order number = %q", handle.OrderNumber)
	}
}

func TestPlaceLimitSellOrder(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("api-id"); got != trSellOrder {
			t.Errorf("api-id = %q, want %q", got, trSellOrder)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["trde_tp"] != "0" {
			t.Errorf("trde_tp = %q, want 0 for limit order", body["trde_tp"])
		}
		if body["ord_uv"] != "49400" {
			t.Errorf("ord_uv = %q, want 49400", body["ord_uv"])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"return_code":  0,
			"ord_no":       "0000139",
			"dmst_stex_tp": "KRX",
		})
	})

	_, err := c.PlaceOrder(context.Background(), OrderRequest{
		StockCode: "005930",
		Side:      models.OrderSideSell,
		Style:     models.OrderStyleLimit,
		Quantity:  10,
		Price:     decimal.NewFromInt(49400),
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
}

func TestPlaceOrderRequestValidation(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("invalid orders must not reach the network")
	})
	ctx := context.Background()

	cases := []OrderRequest{
		{StockCode: "bad", Side: models.OrderSideBuy, Style: models.OrderStyleMarket, Quantity: 1},
		{StockCode: "005930", Side: models.OrderSideBuy, Style: models.OrderStyleMarket, Quantity: 0},
		{StockCode: "005930", Side: models.OrderSideSell, Style: models.OrderStyleLimit, Quantity: 1},
		{StockCode: "005930", Side: models.OrderSideBuy, Style: models.OrderStyleMarket, Quantity: 1, Price: decimal.NewFromInt(100)},
	}
	for i, req := range cases {
		_, err := c.PlaceOrder(ctx, req)
		if apperrors.KindOf(err) != apperrors.KindInvalidArgument {
			t.Fatalf("case %d: kind = %v, want KindInvalidArgument", i, apperrors.KindOf(err))
		}
	}
}

func TestPlaceOrderRejected(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"return_code": 1301,
			"return_msg":  "insufficient deposit",
		})
	})

	_, err := c.PlaceOrder(context.Background(), OrderRequest{
		StockCode: "005930",
		Side:      models.OrderSideBuy,
		Style:     models.OrderStyleMarket,
		Quantity:  10,
	})
	if !apperrors.Is(err, apperrors.ErrOrderRejected) {
		t.Fatalf("err = %v, want ErrOrderRejected", err)
	}
	if apperrors.KindOf(err) != apperrors.KindRemoteTerminal {
		t.Fatalf("kind = %v, want KindRemoteTerminal", apperrors.KindOf(err))
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"return_code": 0,
			"dbst_bal":    "100000",
		})
	})

	if _, err := c.GetBalance(context.Background()); err != nil {
		t.Fatalf("GetBalance after retries: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.GetBalance(context.Background())
	if err == nil {
		t.Fatal("want error after exhausted retries")
	}
	if apperrors.KindOf(err) != apperrors.KindRemoteTransient {
		t.Fatalf("kind = %v, want KindRemoteTransient", apperrors.KindOf(err))
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want exactly 3 attempts", got)
	}
}

func TestClientErrorIsTerminal(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := c.GetBalance(context.Background())
	if apperrors.KindOf(err) != apperrors.KindRemoteTerminal {
		t.Fatalf("kind = %v, want KindRemoteTerminal", apperrors.KindOf(err))
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on 4xx)", got)
	}
}

func TestGetOrderStatus(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("api-id"); got != trExecutions {
			t.Errorf("api-id = %q, want %q", got, trExecutions)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"return_code": 0,
			"cntr": []map[string]string{
				{
					"ord_no":   "0000138",
					"stk_cd":   "005930",
					"io_tp":    "1",
					"ord_qty":  "10",
					"cntr_qty": "10",
					"cntr_uv":  "71500",
					"ord_stt":  "filled",
				},
				{
					"ord_no":   "0000120",
					"stk_cd":   "005930",
					"io_tp":    "2",
					"ord_qty":  "5",
					"cntr_qty": "0",
					"cntr_uv":  "",
					"ord_stt":  "open",
				},
			},
		})
	})

	statuses, err := c.GetOrderStatus(context.Background(), "005930", "0000138")
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("got %d rows, want 1 after order-number filter", len(statuses))
	}
	s := statuses[0]
	if s.Side != models.OrderSideBuy || s.ExecutedQuantity != 10 {
		t.Fatalf("status = %+v", s)
	}
	if !s.ExecutedPrice.Equal(decimal.NewFromInt(71500)) {
		t.Fatalf("executed price = %s", s.ExecutedPrice)
	}
}

func TestHasPendingOrders(t *testing.T) {
	rows := []map[string]string{}
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"return_code": 0,
			"oso":         rows,
		})
	})
	ctx := context.Background()

	pending, err := c.HasPendingOrders(ctx, "005930")
	if err != nil {
		t.Fatalf("HasPendingOrders: %v", err)
	}
	if pending {
		t.Fatal("want no pending orders for empty result")
	}

	rows = []map[string]string{{"ord_no": "0000140", "stk_cd": "005930"}}
	pending, err = c.HasPendingOrders(ctx, "005930")
	if err != nil {
		t.Fatalf("HasPendingOrders: %v", err)
	}
	if !pending {
		t.Fatal("want pending orders when a row matches")
	}
}
