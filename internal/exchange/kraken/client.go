package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"trade-adapter/internal/config"
	"trade-adapter/internal/core"
	"trade-adapter/internal/exchange"
	"trade-adapter/internal/exchange/rest"
)

const defaultBaseURL = "https://api.kraken.com"

type Client struct {
	apiKey string
	secret []byte
	pair   core.CurrencyPair
	http   *rest.Requester
	nonce  *exchange.NonceSource
}

type Options struct {
	APIKey            string
	Secret            string
	RestBaseURL       string
	Pair              core.CurrencyPair
	HTTPTimeout       time.Duration
	MaxRequestsPerSec float64
	Now               func() time.Time
	// Nonce is shared with the instance state; nil starts a fresh source.
	Nonce *exchange.NonceSource
}

func NewClient(cfg config.Config, nonce *exchange.NonceSource) (*Client, error) {
	creds := cfg.API.Kraken
	if creds.APIKey == "" || creds.Secret == "" {
		return nil, errors.New("kraken api_key/secret required")
	}
	return NewClientWithOptions(Options{
		APIKey:            creds.APIKey,
		Secret:            creds.Secret,
		RestBaseURL:       creds.RestBaseURL,
		Pair:              cfg.CurrencyPair,
		HTTPTimeout:       time.Duration(cfg.API.HTTPTimeoutSec) * time.Second,
		MaxRequestsPerSec: cfg.API.MaxRequestsPerSec,
		Nonce:             nonce,
	})
}

// NewClientWithOptions fails when the secret is not valid base64, which is
// how Kraken hands out private keys.
func NewClientWithOptions(opts Options) (*Client, error) {
	secret, err := base64.StdEncoding.DecodeString(strings.TrimSpace(opts.Secret))
	if err != nil {
		return nil, fmt.Errorf("kraken secret: %w", err)
	}
	baseURL := strings.TrimSpace(opts.RestBaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if opts.Nonce == nil {
		opts.Nonce = exchange.NewNonceSource(opts.Now)
	}
	return &Client{
		apiKey: opts.APIKey,
		secret: secret,
		pair:   opts.Pair,
		http: rest.New(rest.Options{
			Name:              "kraken",
			BaseURL:           baseURL,
			Timeout:           opts.HTTPTimeout,
			MaxRequestsPerSec: opts.MaxRequestsPerSec,
		}),
		nonce: opts.Nonce,
	}, nil
}

func (c *Client) Name() string { return "kraken" }

// CheckOpenBeforeCancel is true: Kraken rejects cancelling an order that has
// already closed.
func (c *Client) CheckOpenBeforeCancel() bool { return true }

func (c *Client) Trades(ctx context.Context) ([]core.Trade, error) {
	result, err := c.public(ctx, "/0/public/Trades", url.Values{"pair": []string{c.pair.Pair}})
	if err != nil {
		return nil, err
	}
	return normalizeTrades(result, c.pair.Pair)
}

// Balance issues Balance and then TradeVolume, since the fee tier lives in
// the latter.
func (c *Client) Balance(ctx context.Context) (core.Balance, error) {
	balance, err := c.private(ctx, "/0/private/Balance", url.Values{})
	if err != nil {
		return core.Balance{}, err
	}
	volume, err := c.private(ctx, "/0/private/TradeVolume", url.Values{"pair": []string{c.pair.Pair}})
	if err != nil {
		return core.Balance{}, err
	}
	return normalizeBalance(balance, volume, c.pair)
}

func (c *Client) OrderBook(ctx context.Context) (core.OrderBook, error) {
	result, err := c.public(ctx, "/0/public/Depth", url.Values{"pair": []string{c.pair.Pair}})
	if err != nil {
		return core.OrderBook{}, err
	}
	return normalizeOrderBook(result, c.pair.Pair)
}

func (c *Client) PlaceOrder(ctx context.Context, req core.OrderRequest) (core.OrderPlacement, error) {
	if req.Side != core.Buy && req.Side != core.Sell {
		return core.OrderPlacement{}, core.ErrInvalidOrderType
	}
	params := url.Values{}
	params.Set("pair", c.pair.Pair)
	params.Set("type", string(req.Side))
	params.Set("ordertype", "limit")
	params.Set("price", req.Price.String())
	params.Set("volume", req.Amount.String())
	result, err := c.private(ctx, "/0/private/AddOrder", params)
	if err != nil {
		return core.OrderPlacement{}, err
	}
	return normalizePlacement(result)
}

func (c *Client) OrderFilled(ctx context.Context, orderID string) (bool, error) {
	result, err := c.private(ctx, "/0/private/OpenOrders", url.Values{})
	if err != nil {
		return false, err
	}
	return orderFilled(result, orderID)
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	result, err := c.private(ctx, "/0/private/CancelOrder", url.Values{"txid": []string{orderID}})
	if err != nil {
		return false, err
	}
	return cancelSucceeded(result)
}

func (c *Client) public(ctx context.Context, path string, query url.Values) ([]byte, error) {
	resp, err := c.http.Get(ctx, path, query)
	if err != nil {
		return nil, err
	}
	return unwrap(resp)
}

func (c *Client) private(ctx context.Context, path string, params url.Values) ([]byte, error) {
	nonce := strconv.FormatUint(c.nonce.Next(), 10)
	params.Set("nonce", nonce)
	body := params.Encode()
	headers := map[string]string{
		"API-Key":  c.apiKey,
		"API-Sign": sign(c.secret, path, nonce, body),
	}
	resp, err := c.http.PostForm(ctx, path, params, headers)
	if err != nil {
		return nil, err
	}
	return unwrap(resp)
}

// unwrap returns result when the error list is empty.
func unwrap(resp rest.Response) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		if !resp.OK() {
			return nil, fmt.Errorf("kraken http error %d: %s", resp.Status, rest.Truncate(strings.TrimSpace(string(resp.Body)), 200))
		}
		return nil, fmt.Errorf("%w: envelope: %v", core.ErrMalformedResponse, err)
	}
	if len(env.Error) > 0 {
		status := 0
		if !resp.OK() {
			status = resp.Status
		}
		return nil, classifyAPIError(APIError{Status: status, Messages: env.Error})
	}
	if !resp.OK() {
		return nil, fmt.Errorf("kraken http error %d: %s", resp.Status, rest.Truncate(strings.TrimSpace(string(resp.Body)), 200))
	}
	if len(env.Result) == 0 {
		return nil, fmt.Errorf("%w: envelope without result", core.ErrMalformedResponse)
	}
	return env.Result, nil
}

// sign computes API-Sign: HMAC-SHA512 over path + SHA256(nonce + body),
// keyed with the decoded secret.
func sign(secret []byte, path, nonce, body string) string {
	sum := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(sum[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
