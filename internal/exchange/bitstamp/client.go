package bitstamp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trade-adapter/internal/config"
	"trade-adapter/internal/core"
	"trade-adapter/internal/exchange"
	"trade-adapter/internal/exchange/rest"
)

const defaultBaseURL = "https://www.bitstamp.net"

type Client struct {
	apiKey   string
	secret   string
	clientID string
	pair     core.CurrencyPair
	http     *rest.Requester
	nonce    *exchange.NonceSource
}

type Options struct {
	APIKey            string
	Secret            string
	ClientID          string
	RestBaseURL       string
	Pair              core.CurrencyPair
	HTTPTimeout       time.Duration
	MaxRequestsPerSec float64
	Now               func() time.Time
	// Nonce is shared with the instance state; nil starts a fresh source.
	Nonce *exchange.NonceSource
}

func NewClient(cfg config.Config, nonce *exchange.NonceSource) (*Client, error) {
	creds := cfg.API.Bitstamp
	if creds.APIKey == "" || creds.Secret == "" || creds.ClientID == "" {
		return nil, errors.New("bitstamp api_key/secret/client_id required")
	}
	return NewClientWithOptions(Options{
		APIKey:            creds.APIKey,
		Secret:            creds.Secret,
		ClientID:          creds.ClientID,
		RestBaseURL:       creds.RestBaseURL,
		Pair:              cfg.CurrencyPair,
		HTTPTimeout:       time.Duration(cfg.API.HTTPTimeoutSec) * time.Second,
		MaxRequestsPerSec: cfg.API.MaxRequestsPerSec,
		Nonce:             nonce,
	}), nil
}

func NewClientWithOptions(opts Options) *Client {
	baseURL := strings.TrimSpace(opts.RestBaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if opts.Nonce == nil {
		opts.Nonce = exchange.NewNonceSource(opts.Now)
	}
	return &Client{
		apiKey:   opts.APIKey,
		secret:   opts.Secret,
		clientID: opts.ClientID,
		pair:     opts.Pair,
		http: rest.New(rest.Options{
			Name:              "bitstamp",
			BaseURL:           baseURL,
			Timeout:           opts.HTTPTimeout,
			MaxRequestsPerSec: opts.MaxRequestsPerSec,
		}),
		nonce: opts.Nonce,
	}
}

func (c *Client) Name() string { return "bitstamp" }

func (c *Client) Trades(ctx context.Context) ([]core.Trade, error) {
	body, err := c.public(ctx, "/api/v2/transactions/"+c.marketPath()+"/", url.Values{"time": []string{"hour"}})
	if err != nil {
		return nil, err
	}
	return normalizeTrades(body)
}

func (c *Client) Balance(ctx context.Context) (core.Balance, error) {
	body, err := c.private(ctx, "/api/v2/balance/", url.Values{})
	if err != nil {
		return core.Balance{}, err
	}
	return normalizeBalance(body, c.pair)
}

func (c *Client) OrderBook(ctx context.Context) (core.OrderBook, error) {
	body, err := c.public(ctx, "/api/v2/order_book/"+c.marketPath()+"/", url.Values{"group": []string{"1"}})
	if err != nil {
		return core.OrderBook{}, err
	}
	return normalizeOrderBook(body)
}

func (c *Client) PlaceOrder(ctx context.Context, req core.OrderRequest) (core.OrderPlacement, error) {
	var path string
	switch req.Side {
	case core.Buy:
		path = "/api/v2/buy/" + c.marketPath() + "/"
	case core.Sell:
		path = "/api/v2/sell/" + c.marketPath() + "/"
	default:
		return core.OrderPlacement{}, core.ErrInvalidOrderType
	}
	params := url.Values{}
	params.Set("amount", req.Amount.String())
	params.Set("price", req.Price.String())
	body, err := c.private(ctx, path, params)
	if err != nil {
		return core.OrderPlacement{}, err
	}
	return normalizePlacement(body)
}

func (c *Client) OrderFilled(ctx context.Context, orderID string) (bool, error) {
	body, err := c.private(ctx, "/api/v2/open_orders/"+c.marketPath()+"/", url.Values{})
	if err != nil {
		return false, err
	}
	return orderFilled(body, orderID)
}

// CancelOrder reports false when Bitstamp answers with an error field, e.g.
// for an order that no longer exists. A nonce rejection is still an error.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	params := url.Values{}
	params.Set("id", orderID)
	resp, err := c.signedPost(ctx, "/api/v2/cancel_order/", params)
	if err != nil {
		return false, err
	}
	if !resp.OK() {
		return false, parseAPIError(resp.Status, resp.Body)
	}
	if err := bodyError(resp.Status, resp.Body); errors.Is(err, core.ErrInvalidNonce) {
		return false, err
	}
	return cancelSucceeded(resp.Body), nil
}

func (c *Client) marketPath() string {
	return strings.ToLower(c.pair.Pair)
}

func (c *Client) public(ctx context.Context, path string, query url.Values) ([]byte, error) {
	resp, err := c.http.Get(ctx, path, query)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, parseAPIError(resp.Status, resp.Body)
	}
	if err := bodyError(resp.Status, resp.Body); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) private(ctx context.Context, path string, params url.Values) ([]byte, error) {
	resp, err := c.signedPost(ctx, path, params)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, parseAPIError(resp.Status, resp.Body)
	}
	if err := bodyError(resp.Status, resp.Body); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) signedPost(ctx context.Context, path string, params url.Values) (rest.Response, error) {
	nonce := strconv.FormatUint(c.nonce.Next(), 10)
	params.Set("key", c.apiKey)
	params.Set("nonce", nonce)
	params.Set("signature", sign(c.secret, nonce+c.clientID+c.apiKey))
	return c.http.PostForm(ctx, path, params, nil)
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}
