// Package rest is the HTTP transport shared by the exchange clients.
package rest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

const defaultTimeout = 30 * time.Second

type Options struct {
	Name              string
	BaseURL           string
	Timeout           time.Duration
	MaxRequestsPerSec float64
	UserAgent         string
}

type Requester struct {
	name    string
	client  *resty.Client
	limiter *rate.Limiter
}

// Response is returned for every completed HTTP exchange, including non-2xx
// statuses; callers decide how to interpret the body.
type Response struct {
	Status int
	Body   []byte
}

func (r Response) OK() bool { return r.Status/100 == 2 }

func New(opts Options) *Requester {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(timeout).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}
	req := &Requester{name: opts.Name, client: client}
	if opts.MaxRequestsPerSec > 0 {
		req.limiter = rate.NewLimiter(rate.Limit(opts.MaxRequestsPerSec), 1)
	}
	return req
}

func (r *Requester) Get(ctx context.Context, path string, query url.Values) (Response, error) {
	if err := r.wait(ctx); err != nil {
		return Response{}, err
	}
	req := r.client.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}
	resp, err := req.Get(path)
	if err != nil {
		return Response{}, fmt.Errorf("%s GET %s: %w", r.name, path, err)
	}
	return Response{Status: resp.StatusCode(), Body: resp.Body()}, nil
}

func (r *Requester) PostForm(ctx context.Context, path string, form url.Values, headers map[string]string) (Response, error) {
	if err := r.wait(ctx); err != nil {
		return Response{}, err
	}
	req := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(form.Encode())
	if len(headers) > 0 {
		req.SetHeaders(headers)
	}
	resp, err := req.Post(path)
	if err != nil {
		return Response{}, fmt.Errorf("%s POST %s: %w", r.name, path, err)
	}
	return Response{Status: resp.StatusCode(), Body: resp.Body()}, nil
}

func (r *Requester) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limit wait: %w", r.name, err)
	}
	return nil
}

// Truncate shortens raw payloads for log lines.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
