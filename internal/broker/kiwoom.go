package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "dart-trader/internal/errors"
	"dart-trader/internal/models"
	"dart-trader/internal/security"
)

// Kiwoom REST API endpoints.
const (
	BaseURLLive = "https://api.kiwoom.com"
	BaseURLMock = "https://mockapi.kiwoom.com"

	pathToken   = "/oauth2/token"
	pathAccount = "/api/dostk/acnt"
	pathOrder   = "/api/dostk/ordr"
	pathPrice   = "/uapi/domestic-stock/v1/quotations/inquire-price"
)

// TR identifiers carried in the api-id header.
const (
	trToken         = "au10001"
	trDailyBalance  = "ka01690"
	trPendingOrders = "ka10075"
	trExecutions    = "ka10076"
	trBuyOrder      = "kt10000"
	trSellOrder     = "kt10001"
	trCurrentPrice  = "FHKST01010100"
)

// The broker's reported token expiry is shortened by this margin so in-flight
// requests never race a dying token.
const tokenSafetyMargin = time.Hour

// Fallback token lifetime when the expiry field is absent or unparseable.
const defaultTokenTTL = 23 * time.Hour

const requestTimeout = 30 * time.Second

const maxAttempts = 3

// Fixed backoff between retried attempts.
var backoffSchedule = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

var stockCodePattern = regexp.MustCompile(`^\d{6}$`)

// ValidStockCode reports whether code is a well-formed 6-digit instrument
// identifier.
func ValidStockCode(code string) bool {
	return stockCodePattern.MatchString(code)
}

// Config holds the Kiwoom client configuration.
type Config struct {
	AppKey        string
	AppSecret     string
	AccountNumber string
	BaseURL       string // defaults to the live endpoint
	MaxPerSecond  int
	MaxPerDay     int
}

// KiwoomClient implements Broker against the Kiwoom REST API. It owns the
// session token exclusively; the token is refreshed lazily and never
// persisted.
type KiwoomClient struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	limiter    *RateLimiter
	log        zerolog.Logger

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

// NewKiwoomClient creates a Kiwoom REST client.
func NewKiwoomClient(cfg Config, log zerolog.Logger) (*KiwoomClient, error) {
	if cfg.AppKey == "" || cfg.AppSecret == "" || cfg.AccountNumber == "" {
		return nil, apperrors.NewValidationError("credentials", "",
			"app key, app secret, and account number are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = BaseURLLive
	}
	if cfg.MaxPerSecond <= 0 {
		cfg.MaxPerSecond = 5
	}
	if cfg.MaxPerDay <= 0 {
		cfg.MaxPerDay = 10000
	}

	c := &KiwoomClient{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    NewRateLimiter(cfg.MaxPerSecond, cfg.MaxPerDay, log),
		log:        log,
		now:        time.Now,
		sleep:      time.Sleep,
	}

	log.Info().
		Str("account", security.MaskCredential(cfg.AccountNumber)).
		Str("base_url", c.baseURL).
		Msg("Kiwoom API client initialized")
	return c, nil
}

// envelope is the common Kiwoom response wrapper.
type envelope struct {
	ReturnCode int    `json:"return_code"`
	ReturnMsg  string `json:"return_msg"`
}

type tokenResponse struct {
	envelope
	Token     string `json:"token"`
	ExpiresDt string `json:"expires_dt"` // YYYYMMDDHHmmss
}

// Authenticate performs the client-credentials grant and stores the bearer
// token. An authentication failure is surfaced as KindAuthFailure; the owning
// system disables trading rather than looping on failed logins.
func (c *KiwoomClient) Authenticate(ctx context.Context) error {
	c.log.Info().Msg("Authenticating with Kiwoom API")

	body, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.cfg.AppKey,
		"secretkey":  c.cfg.AppSecret,
	})
	if err != nil {
		return apperrors.Wrap(err, "marshaling token request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathToken, bytes.NewReader(body))
	if err != nil {
		return apperrors.Wrap(err, "creating token request")
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewBrokerError(apperrors.KindAuthFailure, "authenticate", "",
			"token request failed", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		c.log.Error().
			Int("status", resp.StatusCode).
			Str("body", security.MaskSensitive(string(raw))).
			Msg("Authentication failed")
		return apperrors.NewBrokerError(apperrors.KindAuthFailure, "authenticate",
			strconv.Itoa(resp.StatusCode), "token endpoint returned non-200", nil)
	}

	var tok tokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil {
		return apperrors.NewBrokerError(apperrors.KindAuthFailure, "authenticate", "",
			"decoding token response", err)
	}
	if tok.ReturnCode != 0 {
		c.log.Error().
			Int("return_code", tok.ReturnCode).
			Str("return_msg", tok.ReturnMsg).
			Msg("Authentication rejected by broker")
		return apperrors.NewBrokerError(apperrors.KindAuthFailure, "authenticate",
			strconv.Itoa(tok.ReturnCode), tok.ReturnMsg, nil)
	}

	expiresAt := c.parseExpiry(tok.ExpiresDt)

	c.mu.Lock()
	c.accessToken = tok.Token
	c.expiresAt = expiresAt
	c.mu.Unlock()

	c.log.Info().
		Time("expires_at", expiresAt).
		Msg("Kiwoom authentication succeeded")
	return nil
}

// parseExpiry converts the broker's YYYYMMDDHHmmss expiry into a local
// deadline, shortened by the safety margin.
func (c *KiwoomClient) parseExpiry(expiresDt string) time.Time {
	if expiresDt != "" {
		if t, err := time.ParseInLocation("20060102150405", expiresDt, time.Local); err == nil {
			return t.Add(-tokenSafetyMargin)
		}
		c.log.Warn().Str("expires_dt", expiresDt).Msg("Unparseable token expiry, using default TTL")
	}
	return c.now().Add(defaultTokenTTL)
}

// IsAuthenticated reports whether a non-expired token is held.
func (c *KiwoomClient) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken != "" && c.now().Before(c.expiresAt)
}

// ensureAuthenticated authenticates if no token is held or the current time
// is at or past the (margin-adjusted) expiry.
func (c *KiwoomClient) ensureAuthenticated(ctx context.Context) error {
	c.mu.Lock()
	valid := c.accessToken != "" && c.now().Before(c.expiresAt)
	c.mu.Unlock()
	if valid {
		return nil
	}
	return c.Authenticate(ctx)
}

func (c *KiwoomClient) bearerToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// request performs one authenticated, rate-limited call with the uniform
// retry policy: up to 3 attempts, fixed backoff, 5xx and transport errors
// retried, 4xx terminal. The decoded body is returned on 2xx.
func (c *KiwoomClient) request(ctx context.Context, op, apiID, method, path string, query url.Values, body interface{}) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, apperrors.Wrapf(err, "marshaling %s request", op)
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := c.limiter.WaitIfNeeded(); err != nil {
			return nil, err
		}
		if err := c.ensureAuthenticated(ctx); err != nil {
			return nil, err
		}

		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return nil, apperrors.Wrapf(err, "creating %s request", op)
		}
		req.Header.Set("Content-Type", "application/json;charset=UTF-8")
		req.Header.Set("authorization", "Bearer "+c.bearerToken())
		req.Header.Set("api-id", apiID)
		req.Header.Set("cont-yn", "N")

		start := c.now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = apperrors.NewBrokerError(apperrors.KindRemoteTransient, op, "",
				"transport error", err)
			c.log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Str("op", op).
				Msg("API request failed, will retry")
			c.backoff(attempt)
			continue
		}

		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		c.log.Debug().
			Str("op", op).
			Str("api_id", apiID).
			Int("status", resp.StatusCode).
			Dur("duration", c.now().Sub(start)).
			Msg("API request")
		if readErr != nil {
			lastErr = apperrors.NewBrokerError(apperrors.KindRemoteTransient, op, "",
				"reading response body", readErr)
			c.backoff(attempt)
			continue
		}

		switch {
		case resp.StatusCode >= 500:
			lastErr = apperrors.NewBrokerError(apperrors.KindRemoteTransient, op,
				strconv.Itoa(resp.StatusCode), "server error", nil)
			c.log.Warn().
				Int("status", resp.StatusCode).
				Int("attempt", attempt+1).
				Str("op", op).
				Msg("Server error, will retry")
			c.backoff(attempt)
			continue
		case resp.StatusCode >= 400:
			// A 4xx indicates a malformed or logically invalid request;
			// retrying will not fix it.
			return nil, apperrors.NewBrokerError(apperrors.KindRemoteTerminal, op,
				strconv.Itoa(resp.StatusCode), security.MaskSensitive(string(raw)), nil)
		default:
			return raw, nil
		}
	}

	if lastErr == nil {
		lastErr = apperrors.NewBrokerError(apperrors.KindRemoteTransient, op, "",
			"max retries exceeded", nil)
	}
	return nil, lastErr
}

func (c *KiwoomClient) backoff(attempt int) {
	if attempt < maxAttempts-1 {
		c.sleep(backoffSchedule[attempt])
	}
}

// checkEnvelope turns a broker application-level failure into a terminal
// error.
func checkEnvelope(op string, env envelope) error {
	if env.ReturnCode != 0 {
		return apperrors.NewBrokerError(apperrors.KindRemoteTerminal, op,
			strconv.Itoa(env.ReturnCode), env.ReturnMsg, nil)
	}
	return nil
}

// dec parses a broker decimal-string field. Empty fields mean zero; the
// broker prefixes gains with '+', which the decimal parser accepts.
func dec(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

type dailyBalanceResponse struct {
	envelope
	DepositBalance  string           `json:"dbst_bal"`
	TotalBuyAmount  string           `json:"tot_buy_amt"`
	TotalEvalAmount string           `json:"tot_evlt_amt"`
	DayStockAsset   string           `json:"day_stk_asst"`
	Holdings        []holdingPayload `json:"day_bal_rt"`
}

type holdingPayload struct {
	StockCode    string `json:"stk_cd"`
	StockName    string `json:"stk_nm"`
	RemainQty    string `json:"rmnd_qty"`
	BuyUnitValue string `json:"buy_uv"`
	CurrentPrice string `json:"cur_prc"`
	EvalAmount   string `json:"evlt_amt"`
	EvalProfit   string `json:"evltv_prft"`
	ProfitRate   string `json:"prft_rt"`
}

// GetBalance fetches the daily balance snapshot (TR ka01690).
func (c *KiwoomClient) GetBalance(ctx context.Context) (*models.Balance, error) {
	raw, err := c.request(ctx, "get_balance", trDailyBalance, http.MethodPost, pathAccount, nil,
		map[string]string{"qry_dt": c.now().Format("20060102")})
	if err != nil {
		return nil, err
	}

	var out dailyBalanceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperrors.Wrap(err, "decoding balance response")
	}
	if err := checkEnvelope("get_balance", out.envelope); err != nil {
		return nil, err
	}

	deposit := dec(out.DepositBalance)
	bal := &models.Balance{
		Deposit:         deposit,
		TotalBuyAmount:  dec(out.TotalBuyAmount),
		TotalEvalAmount: dec(out.TotalEvalAmount),
		EstimatedAsset:  dec(out.DayStockAsset),
		AvailableAmount: deposit,
	}

	c.log.Info().
		Str("deposit", bal.Deposit.String()).
		Str("estimated_asset", bal.EstimatedAsset.String()).
		Msg("Balance fetched")
	return bal, nil
}

// GetPositions fetches all held instruments with nonzero quantity
// (TR ka01690, day_bal_rt array). An empty slice is a valid success.
func (c *KiwoomClient) GetPositions(ctx context.Context) ([]models.Position, error) {
	raw, err := c.request(ctx, "get_positions", trDailyBalance, http.MethodPost, pathAccount, nil,
		map[string]string{"qry_dt": c.now().Format("20060102")})
	if err != nil {
		return nil, err
	}

	var out dailyBalanceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperrors.Wrap(err, "decoding positions response")
	}
	if err := checkEnvelope("get_positions", out.envelope); err != nil {
		return nil, err
	}

	positions := make([]models.Position, 0, len(out.Holdings))
	for _, h := range out.Holdings {
		qty := parseInt(h.RemainQty)
		if qty <= 0 {
			continue
		}
		positions = append(positions, models.Position{
			StockCode:    h.StockCode,
			StockName:    h.StockName,
			Quantity:     qty,
			AvgPrice:     dec(h.BuyUnitValue),
			CurrentPrice: dec(h.CurrentPrice),
			EvalAmount:   dec(h.EvalAmount),
			ProfitLoss:   dec(h.EvalProfit),
			ProfitRate:   dec(h.ProfitRate),
		})
	}

	c.log.Info().Int("count", len(positions)).Msg("Positions fetched")
	return positions, nil
}

type priceResponse struct {
	RtCd   string `json:"rt_cd"`
	Msg1   string `json:"msg1"`
	Output struct {
		CurrentPrice string `json:"stck_prpr"`
		OpenPrice    string `json:"stck_oprc"`
		HighPrice    string `json:"stck_hgpr"`
		LowPrice     string `json:"stck_lwpr"`
		Volume       string `json:"acml_vol"`
	} `json:"output"`
}

// GetCurrentPrice fetches the current-price snapshot for a stock. The code is
// validated before any network call.
func (c *KiwoomClient) GetCurrentPrice(ctx context.Context, stockCode string) (*models.Quote, error) {
	if !ValidStockCode(stockCode) {
		return nil, apperrors.NewBrokerError(apperrors.KindInvalidArgument, "get_current_price", "",
			fmt.Sprintf("malformed stock code %q, want 6 digits", stockCode), nil)
	}

	query := url.Values{}
	query.Set("FID_COND_MRKT_DIV_CODE", "J")
	query.Set("FID_INPUT_ISCD", stockCode)

	raw, err := c.request(ctx, "get_current_price", trCurrentPrice, http.MethodGet, pathPrice, query, nil)
	if err != nil {
		return nil, err
	}

	var out priceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperrors.Wrap(err, "decoding price response")
	}
	if out.RtCd != "0" {
		return nil, apperrors.NewBrokerError(apperrors.KindRemoteTerminal, "get_current_price",
			out.RtCd, out.Msg1, nil)
	}

	quote := &models.Quote{
		StockCode:    stockCode,
		CurrentPrice: dec(out.Output.CurrentPrice),
		OpenPrice:    dec(out.Output.OpenPrice),
		HighPrice:    dec(out.Output.HighPrice),
		LowPrice:     dec(out.Output.LowPrice),
		Volume:       parseInt(out.Output.Volume),
	}
	c.log.Debug().
		Str("stock_code", stockCode).
		Str("price", quote.CurrentPrice.String()).
		Msg("Current price fetched")
	return quote, nil
}

type orderResponse struct {
	envelope
	OrderNumber string `json:"ord_no"`
	Exchange    string `json:"dmst_stex_tp"`
}

// PlaceOrder places a buy (TR kt10000) or sell (TR kt10001) order. Market
// orders carry an empty unit price; limit orders require one. Every real
// order is logged at warn level before dispatch.
func (c *KiwoomClient) PlaceOrder(ctx context.Context, req OrderRequest) (*models.OrderHandle, error) {
	if !ValidStockCode(req.StockCode) {
		return nil, apperrors.NewBrokerError(apperrors.KindInvalidArgument, "place_order", "",
			fmt.Sprintf("malformed stock code %q", req.StockCode), nil)
	}
	if req.Quantity <= 0 {
		return nil, apperrors.NewBrokerError(apperrors.KindInvalidArgument, "place_order", "",
			fmt.Sprintf("quantity must be positive, got %d", req.Quantity), nil)
	}
	if req.Style == models.OrderStyleLimit && !req.Price.IsPositive() {
		return nil, apperrors.NewBrokerError(apperrors.KindInvalidArgument, "place_order", "",
			"limit orders require a positive price", nil)
	}
	if req.Style == models.OrderStyleMarket && !req.Price.IsZero() {
		return nil, apperrors.NewBrokerError(apperrors.KindInvalidArgument, "place_order", "",
			"market orders must not carry a price", nil)
	}

	apiID := trBuyOrder
	if req.Side == models.OrderSideSell {
		apiID = trSellOrder
	}

	// trde_tp: 3 = market, 0 = limit. Market orders send an empty unit price.
	tradeType := "3"
	unitPrice := ""
	if req.Style == models.OrderStyleLimit {
		tradeType = "0"
		unitPrice = req.Price.StringFixed(0)
	}

	body := map[string]string{
		"dmst_stex_tp": "KRX",
		"stk_cd":       req.StockCode,
		"ord_qty":      strconv.FormatInt(req.Quantity, 10),
		"ord_uv":       unitPrice,
		"trde_tp":      tradeType,
		"cond_uv":      "",
	}

	c.log.Warn().
		Str("api_id", apiID).
		Str("stock_code", req.StockCode).
		Str("side", string(req.Side)).
		Str("style", string(req.Style)).
		Int64("quantity", req.Quantity).
		Str("price", unitPrice).
		Msg("Placing real order")

	raw, err := c.request(ctx, "place_order", apiID, http.MethodPost, pathOrder, nil, body)
	if err != nil {
		return nil, err
	}

	var out orderResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperrors.Wrap(err, "decoding order response")
	}
	if out.ReturnCode != 0 {
		c.log.Error().
			Int("return_code", out.ReturnCode).
			Str("return_msg", out.ReturnMsg).
			Str("stock_code", req.StockCode).
			Msg("Order rejected by broker")
		return nil, apperrors.NewBrokerError(apperrors.KindRemoteTerminal, "place_order",
			strconv.Itoa(out.ReturnCode), out.ReturnMsg, apperrors.ErrOrderRejected)
	}

	c.log.Info().
		Str("order_number", out.OrderNumber).
		Str("exchange", out.Exchange).
		Msg("Order accepted")
	return &models.OrderHandle{OrderNumber: out.OrderNumber, Exchange: out.Exchange}, nil
}

type executionsResponse struct {
	envelope
	Rows []executionRow `json:"cntr"`
}

type executionRow struct {
	OrderNumber string `json:"ord_no"`
	StockCode   string `json:"stk_cd"`
	IOType      string `json:"io_tp"` // 1 = buy, 2 = sell
	OrderQty    string `json:"ord_qty"`
	ExecutedQty string `json:"cntr_qty"`
	ExecutedUV  string `json:"cntr_uv"`
	OrderState  string `json:"ord_stt"`
}

// GetOrderStatus fetches the day's order/execution rows for a stock
// (TR ka10076), optionally narrowed to one order number. An empty result is
// a valid success: the order may simply not have reached the report yet.
func (c *KiwoomClient) GetOrderStatus(ctx context.Context, stockCode, orderNumber string) ([]models.OrderStatus, error) {
	if !ValidStockCode(stockCode) {
		return nil, apperrors.NewBrokerError(apperrors.KindInvalidArgument, "get_order_status", "",
			fmt.Sprintf("malformed stock code %q", stockCode), nil)
	}

	body := map[string]string{
		"stk_cd":  stockCode,
		"qry_tp":  "1",
		"sell_tp": "0",
		"ord_no":  orderNumber,
		"stex_tp": "0",
	}

	raw, err := c.request(ctx, "get_order_status", trExecutions, http.MethodPost, pathAccount, nil, body)
	if err != nil {
		return nil, err
	}

	var out executionsResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperrors.Wrap(err, "decoding order status response")
	}
	if err := checkEnvelope("get_order_status", out.envelope); err != nil {
		return nil, err
	}

	statuses := make([]models.OrderStatus, 0, len(out.Rows))
	for _, row := range out.Rows {
		if orderNumber != "" && row.OrderNumber != orderNumber {
			continue
		}
		side := models.OrderSideBuy
		if row.IOType == "2" {
			side = models.OrderSideSell
		}
		statuses = append(statuses, models.OrderStatus{
			OrderNumber:      row.OrderNumber,
			StockCode:        row.StockCode,
			Side:             side,
			OrderQuantity:    parseInt(row.OrderQty),
			ExecutedQuantity: parseInt(row.ExecutedQty),
			ExecutedPrice:    dec(row.ExecutedUV),
			Status:           row.OrderState,
		})
	}
	return statuses, nil
}

type pendingResponse struct {
	envelope
	Rows []executionRow `json:"oso"`
}

// HasPendingOrders reports whether any unfilled order exists for a stock
// (TR ka10075).
func (c *KiwoomClient) HasPendingOrders(ctx context.Context, stockCode string) (bool, error) {
	if !ValidStockCode(stockCode) {
		return false, apperrors.NewBrokerError(apperrors.KindInvalidArgument, "has_pending_orders", "",
			fmt.Sprintf("malformed stock code %q", stockCode), nil)
	}

	body := map[string]string{
		"stk_cd":     stockCode,
		"all_stk_tp": "1",
		"trde_tp":    "0",
		"stex_tp":    "0",
	}

	raw, err := c.request(ctx, "has_pending_orders", trPendingOrders, http.MethodPost, pathAccount, nil, body)
	if err != nil {
		return false, err
	}

	var out pendingResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return false, apperrors.Wrap(err, "decoding pending orders response")
	}
	if err := checkEnvelope("has_pending_orders", out.envelope); err != nil {
		return false, err
	}

	for _, row := range out.Rows {
		if row.StockCode == stockCode {
			return true, nil
		}
	}
	return false, nil
}

// Ensure KiwoomClient implements the Broker interface.
var _ Broker = (*KiwoomClient)(nil)
