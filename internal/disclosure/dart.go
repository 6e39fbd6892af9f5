// Package disclosure polls the DART open-data system for supply contract
// filings.
package disclosure

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "dart-trader/internal/errors"
	"dart-trader/internal/models"
	"dart-trader/internal/security"
)

const (
	defaultBaseURL = "https://opendart.fss.or.kr/api"
	listEndpoint   = "/list.json"

	pageSize       = 100
	requestTimeout = 30 * time.Second
)

// DART status codes.
const (
	statusOK     = "000"
	statusNoData = "013"
)

// Report-name keywords identifying single-sales supply contract filings.
// Amendments, terminations, and suspensions are excluded.
var (
	includeKeywords = []string{"단일판매"}
	excludeKeywords = []string{"정정", "해지", "정지"}
)

// Client fetches disclosure lists from DART.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a DART API client.
func NewClient(apiKey string, log zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, apperrors.NewValidationError("api_key", "", "DART API key is required")
	}
	log.Info().
		Str("api_key", security.MaskCredential(apiKey)).
		Msg("DART client initialized")
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		log:        log,
	}, nil
}

// SetBaseURL overrides the DART endpoint, for tests.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = strings.TrimRight(u, "/")
}

type listResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	PageNo    int       `json:"page_no"`
	TotalPage int       `json:"total_page"`
	List      []listRow `json:"list"`
}

type listRow struct {
	CorpCode   string `json:"corp_code"`
	CorpName   string `json:"corp_name"`
	StockCode  string `json:"stock_code"`
	ReportName string `json:"report_nm"`
	ReceiptNo  string `json:"rcept_no"`
	ReceiptDt  string `json:"rcept_dt"`
}

// FetchContractEvents returns supply contract disclosures filed between
// beginDate and endDate (both "YYYYMMDD", inclusive). Filings without a
// listed stock code are skipped.
func (c *Client) FetchContractEvents(ctx context.Context, beginDate, endDate string) ([]models.ContractEvent, error) {
	var events []models.ContractEvent

	for page := 1; ; page++ {
		out, err := c.fetchPage(ctx, beginDate, endDate, page)
		if err != nil {
			return nil, err
		}
		if out.Status == statusNoData {
			break
		}
		if out.Status != statusOK {
			return nil, apperrors.NewBrokerError(apperrors.KindRemoteTerminal, "fetch_disclosures",
				out.Status, out.Message, nil)
		}

		for _, row := range out.List {
			if !matchesContractReport(row.ReportName) {
				continue
			}
			if row.StockCode == "" {
				// Unlisted issuer, nothing to trade.
				continue
			}
			events = append(events, models.ContractEvent{
				ReceiptNo:   row.ReceiptNo,
				StockCode:   row.StockCode,
				StockName:   row.CorpName,
				CorpCode:    row.CorpCode,
				ReportName:  row.ReportName,
				ReceiptDate: row.ReceiptDt,
			})
		}

		if page >= out.TotalPage {
			break
		}
	}

	c.log.Info().
		Str("begin", beginDate).
		Str("end", endDate).
		Int("count", len(events)).
		Msg("Disclosure scan complete")
	return events, nil
}

func (c *Client) fetchPage(ctx context.Context, beginDate, endDate string, page int) (*listResponse, error) {
	params := url.Values{}
	params.Set("crtfc_key", c.apiKey)
	params.Set("bgn_de", beginDate)
	params.Set("end_de", endDate)
	params.Set("pblntf_ty", "I") // ad-hoc disclosures, not periodic reports
	params.Set("sort", "date")
	params.Set("sort_mth", "desc")
	params.Set("page_no", strconv.Itoa(page))
	params.Set("page_count", strconv.Itoa(pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+listEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, apperrors.Wrap(err, "creating disclosure request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewBrokerError(apperrors.KindRemoteTransient, "fetch_disclosures", "",
			"disclosure request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, "reading disclosure response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewBrokerError(apperrors.KindRemoteTransient, "fetch_disclosures",
			strconv.Itoa(resp.StatusCode), fmt.Sprintf("disclosure endpoint returned %d", resp.StatusCode), nil)
	}

	var out listResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperrors.Wrap(err, "decoding disclosure response")
	}
	c.log.Debug().
		Int("page", page).
		Int("rows", len(out.List)).
		Str("status", out.Status).
		Msg("Disclosure page fetched")
	return &out, nil
}

// matchesContractReport reports whether a report name identifies a fresh
// single-sales supply contract filing.
func matchesContractReport(name string) bool {
	included := false
	for _, kw := range includeKeywords {
		if strings.Contains(name, kw) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, kw := range excludeKeywords {
		if strings.Contains(name, kw) {
			return false
		}
	}
	return true
}
