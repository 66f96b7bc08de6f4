package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fear-greed-watch/internal/model"
)

const (
	simplePricePath = "/simple/price"
	rangePathFormat = "/coins/%s/market_chart/range"
)

// CoinGeckoOptions parameterise the quote client.
type CoinGeckoOptions struct {
	BaseURL   string
	Currency  string
	Timeout   time.Duration
	UserAgent string
}

// CoinGecko fetches spot prices and historical ranges from the CoinGecko API.
type CoinGecko struct {
	opts    CoinGeckoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCoinGecko constructs a quote client.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	if opts.Currency == "" {
		opts.Currency = "usd"
	}

	return &CoinGecko{
		opts:    opts,
		logger:  logger.With().Str("component", "coingecko").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchCurrent retrieves spot prices and 24h volumes for the given ids in one
// call. Ids absent from the response are simply missing from the result map;
// any transport error or non-200 status fails the whole batch.
func (c *CoinGecko) FetchCurrent(ctx context.Context, ids []string) (map[string]model.Quote, error) {
	if len(ids) == 0 {
		return nil, errors.New("at least one asset id required")
	}

	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", c.opts.Currency)
	query.Set("include_24hr_vol", "true")

	payload, err := c.get(ctx, c.baseURL+simplePricePath+"?"+query.Encode())
	if err != nil {
		return nil, err
	}

	var raw map[string]map[string]json.Number
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode simple price response: %w", err)
	}

	priceKey := c.opts.Currency
	volumeKey := c.opts.Currency + "_24h_vol"

	quotes := make(map[string]model.Quote, len(raw))
	for id, fields := range raw {
		num, ok := fields[priceKey]
		if !ok {
			// Upstream listed the id but returned no quote for this
			// currency; degrade that asset to absent.
			c.logger.Warn().Str("id", id).Msg("no price in quote response")
			continue
		}
		price, perr := decimal.NewFromString(num.String())
		if perr != nil {
			c.logger.Warn().Str("id", id).Str("raw", num.String()).Msg("unparseable price")
			continue
		}
		quote := model.Quote{Price: price}
		if vol, ok := fields[volumeKey]; ok {
			if v, verr := vol.Float64(); verr == nil {
				quote.Volume24h = v
			}
		}
		quotes[id] = quote
	}

	return quotes, nil
}

// FetchRange retrieves the historical price series for one id between two
// unix-second timestamps.
func (c *CoinGecko) FetchRange(ctx context.Context, id string, from, to int64) ([]model.RangePoint, error) {
	if id == "" {
		return nil, errors.New("asset id required")
	}

	query := url.Values{}
	query.Set("vs_currency", c.opts.Currency)
	query.Set("from", fmt.Sprintf("%d", from))
	query.Set("to", fmt.Sprintf("%d", to))

	endpoint := c.baseURL + fmt.Sprintf(rangePathFormat, url.PathEscape(id)) + "?" + query.Encode()
	payload, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Prices [][]json.Number `json:"prices"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode market chart response: %w", err)
	}

	points := make([]model.RangePoint, 0, len(raw.Prices))
	for _, pair := range raw.Prices {
		if len(pair) < 2 {
			continue
		}
		ms, err := pair[0].Int64()
		if err != nil {
			continue
		}
		price, err := decimal.NewFromString(pair[1].String())
		if err != nil {
			continue
		}
		// Upstream timestamps are milliseconds.
		points = append(points, model.RangePoint{Time: ms / 1000, Price: price})
	}

	return points, nil
}

func (c *CoinGecko) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "fgwatcher/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	return payload, nil
}

type errorResponse struct {
	Error  string `json:"error"`
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Status.ErrorMessage != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Status.ErrorMessage)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("coingecko api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("coingecko api error (%d)", status)
}

var _ QuoteFetcher = (*CoinGecko)(nil)
var _ RangeFetcher = (*CoinGecko)(nil)
